package notebridge

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tfkr-ae/notebridge/domain"
)

type contextKey string

const (
	// ExchangeIDKey is the context key for the exchange ID (uuid.UUID). The same ID is shared between the inbound and outbound requests
	ExchangeIDKey contextKey = "ExchangeID"
	// ExchangeKey is the context key for the exchange record (*domain.Exchange) being built for the request
	ExchangeKey contextKey = "Exchange"
	// MetadataKey is the context key for the exchange metadata (map[string]any)
	MetadataKey contextKey = "Metadata"
	// InboundKey is the context key for the original inbound request (*http.Request)
	InboundKey contextKey = "Inbound"
	// RequestTimeKey is the context key for the time the inbound request arrived (time.Time)
	RequestTimeKey contextKey = "RequestTime"
	// ResponseTimeKey is the context key for the time the backend answered (time.Time)
	ResponseTimeKey contextKey = "ResponseTime"
)

// ContextWithExchangeID returns a new request with the exchange ID in the context
func ContextWithExchangeID(req *http.Request, id uuid.UUID) *http.Request {
	ctx := context.WithValue(req.Context(), ExchangeIDKey, id)
	return req.WithContext(ctx)
}

// ExchangeIDFromContext returns the exchange ID from the context if it exists
func ExchangeIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ExchangeIDKey).(uuid.UUID)
	return id, ok
}

// ContextWithExchange returns a new request with the exchange record in the context
func ContextWithExchange(req *http.Request, exchange *domain.Exchange) *http.Request {
	ctx := context.WithValue(req.Context(), ExchangeKey, exchange)
	return req.WithContext(ctx)
}

// ExchangeFromContext returns the exchange record from the context if it exists
func ExchangeFromContext(ctx context.Context) (*domain.Exchange, bool) {
	exchange, ok := ctx.Value(ExchangeKey).(*domain.Exchange)
	return exchange, ok && exchange != nil
}

// ContextWithMetadata returns a new request with metadata in the context
func ContextWithMetadata(req *http.Request, metadata map[string]any) *http.Request {
	ctx := context.WithValue(req.Context(), MetadataKey, metadata)
	return req.WithContext(ctx)
}

// MetadataFromContext returns the metadata from the context if it exists
func MetadataFromContext(ctx context.Context) (map[string]any, bool) {
	metadata, ok := ctx.Value(MetadataKey).(map[string]any)
	return metadata, ok
}

// ContextWithInbound returns a new request carrying the inbound request it was built from
func ContextWithInbound(req *http.Request, inbound *http.Request) *http.Request {
	ctx := context.WithValue(req.Context(), InboundKey, inbound)
	return req.WithContext(ctx)
}

// InboundFromContext returns the inbound request from the context if it exists
func InboundFromContext(ctx context.Context) (*http.Request, bool) {
	inbound, ok := ctx.Value(InboundKey).(*http.Request)
	return inbound, ok && inbound != nil
}

// ContextWithRequestTime returns a new request with the request time in the context
func ContextWithRequestTime(req *http.Request, requestTime time.Time) *http.Request {
	ctx := context.WithValue(req.Context(), RequestTimeKey, requestTime)
	return req.WithContext(ctx)
}

// RequestTimeFromContext returns the request time from the context if it exists
func RequestTimeFromContext(ctx context.Context) (time.Time, bool) {
	timestamp, ok := ctx.Value(RequestTimeKey).(time.Time)
	return timestamp, ok
}

// ContextWithResponseTime returns a new request with the response time in the context
func ContextWithResponseTime(req *http.Request, responseTime time.Time) *http.Request {
	ctx := context.WithValue(req.Context(), ResponseTimeKey, responseTime)
	return req.WithContext(ctx)
}

// ResponseTimeFromContext returns the response time from the context if it exists
func ResponseTimeFromContext(ctx context.Context) (time.Time, bool) {
	timestamp, ok := ctx.Value(ResponseTimeKey).(time.Time)
	return timestamp, ok
}
