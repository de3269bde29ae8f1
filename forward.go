package notebridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tfkr-ae/notebridge/core"
	"github.com/tfkr-ae/notebridge/domain"
	"github.com/tfkr-ae/notebridge/hooks"
	"github.com/tfkr-ae/notebridge/rawhttp"
)

// RequestError is a failure caused by the inbound request. It is answered with Status instead of 500.
type RequestError struct {
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// decodedEncodings are the content codings CompressedResponseModifier can undo.
var decodedEncodings = []string{"gzip", "deflate", "br", "zstd", "identity"}

// acceptedEncodings keeps the Accept-Encoding entries the gateway can decode, with their weights.
func acceptedEncodings(values []string) string {
	var kept []string
	for _, value := range values {
		for _, entry := range strings.Split(value, ",") {
			entry = strings.TrimSpace(entry)
			coding, _, _ := strings.Cut(entry, ";")
			if slices.Contains(decodedEncodings, strings.ToLower(strings.TrimSpace(coding))) {
				kept = append(kept, entry)
			}
		}
	}
	return strings.Join(kept, ", ")
}

// errorPayload is the JSON body sent when an exchange cannot be relayed.
type errorPayload struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// headers that are never copied from the backend response
var excludedResponseHeaders = []string{"Content-Length", "Content-Encoding"}

// ServeHTTP forwards one inbound request to the backend and relays the answer.
// Exactly one outbound call is made. Every exchange is recorded, including the failed ones.
func (gateway *Gateway) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	requestedAt := time.Now()

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	exchange := &domain.Exchange{
		ID:          id,
		Method:      req.Method,
		Path:        req.URL.RequestURI(),
		TargetURL:   gateway.TargetURL(req.URL).String(),
		Metadata:    make(map[string]any),
		RequestedAt: requestedAt,
	}

	req = ContextWithExchangeID(req, id)
	req = ContextWithExchange(req, exchange)
	req = ContextWithMetadata(req, exchange.Metadata)
	req = ContextWithRequestTime(req, requestedAt)

	res, body, err := gateway.forward(req, exchange)
	if err != nil {
		gateway.fail(w, exchange, err)
	} else {
		gateway.relay(w, req, exchange, res, body)
	}
	exchange.RespondedAt = time.Now()

	gateway.enqueue(exchange)
	gateway.logExchange(exchange, err)
}

// TargetURL maps an inbound URL onto the backend: backend base URL, then the inbound path and query.
func (gateway *Gateway) TargetURL(inbound *url.URL) *url.URL {
	target := *gateway.backend
	target.Path = strings.TrimSuffix(gateway.backend.Path, "/") + inbound.Path
	if inbound.RawPath != "" {
		target.RawPath = strings.TrimSuffix(gateway.backend.EscapedPath(), "/") + inbound.RawPath
	} else {
		target.RawPath = ""
	}
	target.RawQuery = inbound.RawQuery
	target.Fragment = ""
	return &target
}

// forward runs the request pipeline, makes sure the backend is up and makes the outbound call.
// The returned response has already been through the response pipeline and body holds its full JSON body.
func (gateway *Gateway) forward(req *http.Request, exchange *domain.Exchange) (*http.Response, []byte, error) {
	if !gateway.Scope.Matches(req.URL.Path) {
		return nil, nil, &RequestError{Status: http.StatusNotFound, Err: ErrOutOfScope}
	}

	var inboundBody []byte
	var err error
	if req.Body != nil {
		inboundBody, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, nil, &RequestError{Status: http.StatusBadRequest, Err: fmt.Errorf("%w : %w", ErrReadBody, err)}
		}
	}

	var body rawhttp.JSONBody
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		body, err = rawhttp.EncodeJSONBody(inboundBody, req.Header.Get("Content-Type"))
		if err != nil {
			return nil, nil, &RequestError{Status: http.StatusBadRequest, Err: err}
		}
	}
	exchange.RequestBody = string(body.Data)
	if body.Reencoded {
		exchange.Metadata["reencoded_from"] = body.SourceType
	}

	if err := gateway.validate(req, body, exchange); err != nil {
		return nil, nil, err
	}

	var reader io.Reader = http.NoBody
	if !body.Empty() {
		reader = bytes.NewReader(body.Data)
	}

	outReq, err := http.NewRequestWithContext(req.Context(), req.Method, exchange.TargetURL, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("creating outbound request : %w", err)
	}
	outReq = ContextWithInbound(outReq, req)
	// X-Forwarded-For is chained from the caller's address.
	outReq.RemoteAddr = req.RemoteAddr

	outReq.Header.Set("Content-Type", "application/json")
	for k, vs := range req.Header {
		outReq.Header[k] = slices.Clone(vs)
	}
	if body.Reencoded {
		outReq.Header.Set("Content-Type", "application/json")
	}
	outReq.Header.Del("Content-Length")
	if accepted := acceptedEncodings(outReq.Header.Values("Accept-Encoding")); accepted != "" {
		outReq.Header.Set("Accept-Encoding", accepted)
	} else {
		outReq.Header.Del("Accept-Encoding")
	}

	if err := gateway.Modifiers.ModifyRequest(outReq); err != nil {
		return nil, nil, err
	}

	if err := gateway.Supervisor.EnsureReady(req.Context()); err != nil {
		return nil, nil, fmt.Errorf("backend not available : %w", err)
	}

	ctx := outReq.Context()
	if timeout := gateway.Config.Backend.RequestTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	outReq = outReq.WithContext(ctx)

	start := time.Now()
	res, err := gateway.Transport.RoundTrip(outReq)
	if err != nil {
		exchange.Duration = time.Since(start)
		// an attached backend may have gone away, probe again on the next request
		gateway.Supervisor.Invalidate()
		return nil, nil, fmt.Errorf("calling backend : %w", err)
	}
	if res.Request == nil {
		res.Request = outReq
	}

	if err := gateway.Modifiers.ModifyResponse(res); err != nil {
		exchange.Duration = time.Since(start)
		exchange.StatusCode = res.StatusCode
		recordResponse(exchange, res)
		if res.Body != nil {
			res.Body.Close()
		}
		return nil, nil, err
	}
	defer res.Body.Close()

	responseBody, err := io.ReadAll(res.Body)
	exchange.Duration = time.Since(start)
	if err != nil {
		return nil, nil, fmt.Errorf("%w : %w", ErrReadBody, err)
	}
	return res, responseBody, nil
}

// relay writes the backend response. Every header is copied except the framing ones, which are recomputed.
func (gateway *Gateway) relay(w http.ResponseWriter, req *http.Request, exchange *domain.Exchange, res *http.Response, body []byte) {
	for k, vs := range res.Header {
		if slices.Contains(excludedResponseHeaders, k) {
			continue
		}
		w.Header()[k] = slices.Clone(vs)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(res.StatusCode)
	if req.Method != http.MethodHead {
		w.Write(body)
	}

	exchange.StatusCode = res.StatusCode
}

// fail answers an exchange that could not be relayed.
// Hook rejections and bad inbound requests keep their status, everything else is a 500 with details.
func (gateway *Gateway) fail(w http.ResponseWriter, exchange *domain.Exchange, err error) {
	status := http.StatusInternalServerError
	payload := errorPayload{Error: "internal server error", Details: err.Error()}

	var rejection *hooks.Rejection
	var requestErr *RequestError
	switch {
	case errors.As(err, &rejection):
		status = rejection.Status
		payload = errorPayload{Error: rejection.Message}
	case errors.As(err, &requestErr):
		status = requestErr.Status
		payload = errorPayload{Error: requestErr.Err.Error()}
	}

	exchange.Error = err.Error()
	exchange.StatusCode = status
	if encoded, err := json.Marshal(payload); err == nil {
		if exchange.ResponseBody != "" {
			exchange.Metadata["backend_response_body"] = exchange.ResponseBody
		}
		exchange.ResponseBody = string(encoded)
	}

	writeJSON(w, status, payload)
}

func (gateway *Gateway) logExchange(exchange *domain.Exchange, err error) {
	options := []core.LogOption{
		core.LogWithExchangeID(exchange.ID),
		core.LogWithContext(map[string]any{
			"method":   exchange.Method,
			"path":     exchange.Path,
			"status":   exchange.StatusCode,
			"duration": exchange.Duration.String(),
		}),
	}

	switch {
	case err == nil:
		gateway.WriteLog("DEBUG", fmt.Sprintf("%s %s forwarded", exchange.Method, exchange.Path), options...)
	case exchange.StatusCode < http.StatusInternalServerError:
		gateway.WriteLog("WARN", fmt.Sprintf("%s %s rejected : %v", exchange.Method, exchange.Path, err), options...)
	default:
		gateway.WriteLog("ERROR", fmt.Sprintf("%s %s failed : %v", exchange.Method, exchange.Path, err), options...)
	}
}
