package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RawField type is used for the raw request and response dumps.
//
// By default []byte marshals to base64, RawField marshals the bytes as a JSON string instead.
type RawField []byte

// MarshalJSON implements the json.Marshaler interface.
func (r RawField) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}

	return json.Marshal(string(r))
}

// ExchangeRepository defines the persistence methods for forwarded exchanges.
type ExchangeRepository interface {
	// InsertExchange stores a new exchange. The ID must be unique.
	InsertExchange(exchange *Exchange) error
	// GetExchange returns a single exchange including the raw dumps.
	// It returns ErrNotFound if the ID does not exist.
	GetExchange(id uuid.UUID) (*Exchange, error)
	// GetExchangeSummaries returns the most recent exchanges without the raw dumps and bodies,
	// newest first. A limit of 0 or less returns every row.
	GetExchangeSummaries(limit int) ([]*ExchangeSummary, error)
	// UpdateExchangeMetadata replaces the metadata of an exchange.
	UpdateExchangeMetadata(id uuid.UUID, metadata map[string]any) error
}

// Exchange is a single inbound request relayed to the backend, together with the outcome.
type Exchange struct {
	ID           uuid.UUID      // Unique identifier (uuid v7) for the exchange
	Method       string         // Inbound HTTP method
	Path         string         // Inbound path including the query string
	TargetURL    string         // Backend URL the request was forwarded to
	StatusCode   int            // Status code returned to the caller
	RequestRaw   RawField       // Raw outbound request sent to the backend
	ResponseRaw  RawField       // Raw response received from the backend
	RequestBody  string         // JSON body sent to the backend
	ResponseBody string         // JSON body relayed to the caller
	Error        string         // Forwarding error, empty on success
	Duration     time.Duration  // Time spent waiting on the backend
	VideoTitle   string         // videoTitle field of the backend response if any
	Metadata     map[string]any // Additional metadata (prettified dumps, video id, hook output)
	RequestedAt  time.Time      // When the inbound request arrived
	RespondedAt  time.Time      // When the response was relayed
}

// Failed reports whether the exchange ended with an error or a 5xx status.
func (e *Exchange) Failed() bool {
	return e.Error != "" || e.StatusCode >= 500
}

// ExchangeSummary is an Exchange without the raw dumps and bodies.
type ExchangeSummary struct {
	ID          uuid.UUID
	Method      string
	Path        string
	StatusCode  int
	Error       string
	Duration    time.Duration
	VideoTitle  string
	RequestedAt time.Time
}
