package notebridge

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/martian/header"
	"github.com/klauspost/compress/zstd"
	"github.com/tfkr-ae/notebridge/domain"
	"github.com/tfkr-ae/notebridge/hooks"
	"github.com/tfkr-ae/notebridge/rawhttp"
)

var (
	// ErrExchangeNotFound is returned when the exchange record is missing from the request context
	ErrExchangeNotFound = errors.New("invalid or missing exchange")

	// ErrInboundNotFound is returned when the inbound request is missing from the outbound request context
	ErrInboundNotFound = errors.New("invalid or missing inbound request")

	// ErrReadBody is returned when there is an error with reading a body
	ErrReadBody = errors.New("failed to read the body")

	// ErrOutOfScope is returned for paths excluded by gateway.allow_paths or gateway.deny_paths
	ErrOutOfScope = errors.New("path is not forwarded")

	// ErrInvalidBackendJSON is returned when the backend answers with something that is not JSON
	ErrInvalidBackendJSON = errors.New("backend returned invalid JSON")
)

// RequestModifierFunc is a signature for outbound request modifiers, it takes in the request and *Gateway
type RequestModifierFunc func(gateway *Gateway, req *http.Request) error

// ResponseModifierFunc is a signature for backend response modifiers, it takes in the response and *Gateway
type ResponseModifierFunc func(gateway *Gateway, res *http.Response) error

// reqAdapter adapts the `RequestModifierFunc` and implements the `martian.RequestModifier` interface.
type reqAdapter struct {
	gateway  *Gateway
	modifier RequestModifierFunc
}

// ModifyRequest implements the `martian.RequestModifier` interface and allows the modifier to access the *Gateway
func (adapter *reqAdapter) ModifyRequest(req *http.Request) error {
	return adapter.modifier(adapter.gateway, req)
}

// resAdapter adapts the `ResponseModifierFunc` and implements the `martian.ResponseModifier` interface.
type resAdapter struct {
	gateway  *Gateway
	modifier ResponseModifierFunc
}

// ModifyResponse implements the `martian.ResponseModifier` interface and allows the modifier to access the *Gateway
func (adapter *resAdapter) ModifyResponse(res *http.Response) error {
	return adapter.modifier(adapter.gateway, res)
}

// AddRequestModifier accepts RequestModifierFunc and wraps it in a reqAdapter
func (gateway *Gateway) AddRequestModifier(modifier RequestModifierFunc) {
	gateway.Modifiers.AddRequestModifier(&reqAdapter{gateway: gateway, modifier: modifier})
}

// AddResponseModifier accepts ResponseModifierFunc and wraps it in a resAdapter
func (gateway *Gateway) AddResponseModifier(modifier ResponseModifierFunc) {
	gateway.Modifiers.AddResponseModifier(&resAdapter{gateway: gateway, modifier: modifier})
}

// registerModifiers builds the default pipeline. Requests: X-Forwarded-For chaining, the inbound
// X-Forwarded headers, hop-by-hop removal, hooks, then the raw dump. Responses: timing, buffering, decompression, hop-by-hop removal,
// JSON check, hooks, then the raw dump.
func (gateway *Gateway) registerModifiers() {
	hopByHop := header.NewHopByHopModifier()

	gateway.Modifiers.AddRequestModifier(header.NewForwardedModifier())
	gateway.AddRequestModifier(ForwardedHeadersModifier)
	gateway.Modifiers.AddRequestModifier(hopByHop)
	gateway.AddRequestModifier(HooksRequestModifier)
	gateway.AddRequestModifier(RecordRequestModifier)

	gateway.AddResponseModifier(ResponseTimeModifier)
	gateway.AddResponseModifier(BufferStreamingBodyModifier)
	gateway.AddResponseModifier(CompressedResponseModifier)
	gateway.Modifiers.AddResponseModifier(hopByHop)
	gateway.AddResponseModifier(JSONResponseModifier)
	gateway.AddResponseModifier(HooksResponseModifier)
	gateway.AddResponseModifier(RecordResponseModifier)
}

// ForwardedHeadersModifier runs after the martian forwarded modifier, which only contributes the
// X-Forwarded-For chain and describes the outbound request in the other headers. It replaces
// X-Forwarded-Proto, X-Forwarded-Host and X-Forwarded-Url with the inbound request's values.
// Values the client sent on the inbound request are kept.
func ForwardedHeadersModifier(gateway *Gateway, req *http.Request) error {
	inbound, ok := InboundFromContext(req.Context())
	if !ok {
		return ErrInboundNotFound
	}

	scheme := "http"
	if inbound.TLS != nil {
		scheme = "https"
	}

	forwarded := map[string]string{
		"X-Forwarded-Proto": scheme,
		"X-Forwarded-Host":  inbound.Host,
		"X-Forwarded-Url":   fmt.Sprintf("%s://%s%s", scheme, inbound.Host, inbound.URL.RequestURI()),
	}
	for key, value := range forwarded {
		if sent := inbound.Header.Get(key); sent != "" {
			value = sent
		}
		req.Header.Set(key, value)
	}
	return nil
}

// decodeJSON reads body and restores it. It returns nil when the body is empty or not JSON.
func decodeJSON(body io.ReadCloser) (any, io.ReadCloser, error) {
	if body == nil || body == http.NoBody {
		return nil, body, nil
	}
	defer body.Close()

	bodyBytes, err := io.ReadAll(body)
	if err != nil {
		return nil, io.NopCloser(bytes.NewReader(nil)), fmt.Errorf("%w : %w", ErrReadBody, err)
	}
	restored := io.NopCloser(bytes.NewReader(bodyBytes))

	var decoded any
	if len(bodyBytes) == 0 || json.Unmarshal(bodyBytes, &decoded) != nil {
		return nil, restored, nil
	}
	return decoded, restored, nil
}

// HooksRequestModifier runs the on_request hook. Headers returned by the hook are set on the outbound request.
// A rejection is returned as is so the caller can answer with the rejection status.
func HooksRequestModifier(gateway *Gateway, req *http.Request) error {
	if gateway.Hooks == nil {
		return nil
	}

	body, restored, err := decodeJSON(req.Body)
	req.Body = restored
	if err != nil {
		return err
	}

	path := req.URL.Path
	if inbound, ok := InboundFromContext(req.Context()); ok {
		path = inbound.URL.Path
	}

	result, err := gateway.Hooks.OnRequest(hooks.Request{
		Method:  req.Method,
		Path:    path,
		Headers: req.Header,
		Body:    body,
	})

	metadata, _ := MetadataFromContext(req.Context())

	var rejection *hooks.Rejection
	if errors.As(err, &rejection) {
		if metadata != nil {
			metadata["hook_rejected"] = rejection.Message
		}
		return rejection
	}
	if err != nil {
		return fmt.Errorf("running on_request hook : %w", err)
	}

	for k, v := range result.Headers {
		req.Header.Set(k, v)
	}
	if metadata != nil && len(result.Headers) > 0 {
		metadata["hook_request_headers"] = result.Headers
	}
	return nil
}

// RecordRequestModifier is the final modifier in the default request pipeline.
// It stores the raw outbound request on the exchange, and the prettified copy in its metadata.
func RecordRequestModifier(gateway *Gateway, req *http.Request) error {
	exchange, ok := ExchangeFromContext(req.Context())
	if !ok {
		return ErrExchangeNotFound
	}

	raw, prettified, err := rawhttp.DumpRequest(req)
	if err != nil {
		return fmt.Errorf("dumping request %s : %w", exchange.ID, err)
	}
	exchange.RequestRaw = raw
	if prettified != "" {
		exchange.Metadata["prettified-request"] = prettified
	}
	return nil
}

// ResponseTimeModifier adds the time the backend answered to the request context.
func ResponseTimeModifier(gateway *Gateway, res *http.Response) error {
	if res.Request == nil {
		return nil
	}
	res.Request = ContextWithResponseTime(res.Request, time.Now())
	return nil
}

// BufferStreamingBodyModifier reads the entire streaming response body into memory
// and replaces the `res.Body` with a new `io.NopCloser` on the full body. It will
// remove the `Transfer-Encoding` and update the `Content-Length` to reflect the new body.
func BufferStreamingBodyModifier(gateway *Gateway, res *http.Response) error {
	if res.Body == nil {
		return nil
	}
	defer res.Body.Close()

	responseBody, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%w : %w", ErrReadBody, err)
	}

	setBody(res, responseBody)
	res.TransferEncoding = nil
	return nil
}

// setBody replaces the response body and keeps the length fields in sync.
func setBody(res *http.Response, body []byte) {
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	res.Header.Set("Content-Length", fmt.Sprintf("%d", len(body)))
}

// CompressedResponseModifier decompresses gzip, deflate, br and zstd response bodies so they can be checked
// and relayed as JSON. It removes the "Content-Encoding" header and updates the "Content-Length".
// Other encodings are left alone; the forwarder only advertises the ones listed in decodedEncodings.
func CompressedResponseModifier(gateway *Gateway, res *http.Response) error {
	encoding := res.Header.Get("Content-Encoding")
	if encoding == "" || res.Body == nil || res.ContentLength <= 0 {
		return nil
	}

	var reader io.Reader
	switch encoding {
	case "gzip":
		gzipReader, err := gzip.NewReader(res.Body)
		if err != nil {
			return fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gzipReader.Close()
		reader = gzipReader
	case "deflate":
		zlibReader, err := zlib.NewReader(res.Body)
		if err != nil {
			return fmt.Errorf("creating deflate reader: %w", err)
		}
		defer zlibReader.Close()
		reader = zlibReader
	case "br":
		reader = brotli.NewReader(res.Body)
	case "zstd":
		decoder, err := zstd.NewReader(res.Body)
		if err != nil {
			return fmt.Errorf("creating zstd reader: %w", err)
		}
		defer decoder.Close()
		reader = decoder
	default:
		return nil
	}
	defer res.Body.Close()

	decompressedBody, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("reading %s content : %w", encoding, err)
	}

	setBody(res, decompressedBody)
	res.Header.Del("Content-Encoding")
	return nil
}

// JSONResponseModifier fails the exchange when the backend body is not valid JSON.
// Bodies are allowed to be empty only where HTTP forbids a body.
func JSONResponseModifier(gateway *Gateway, res *http.Response) error {
	body, restored, err := readBody(res.Body)
	res.Body = restored
	if err != nil {
		return err
	}

	if len(body) == 0 {
		if res.StatusCode == http.StatusNoContent || res.StatusCode == http.StatusNotModified ||
			(res.Request != nil && res.Request.Method == http.MethodHead) {
			return nil
		}
		return fmt.Errorf("%w : empty body with status %d", ErrInvalidBackendJSON, res.StatusCode)
	}

	if !json.Valid(body) {
		return fmt.Errorf("%w : status %d", ErrInvalidBackendJSON, res.StatusCode)
	}
	return nil
}

func readBody(body io.ReadCloser) ([]byte, io.ReadCloser, error) {
	if body == nil || body == http.NoBody {
		return nil, body, nil
	}
	defer body.Close()

	bodyBytes, err := io.ReadAll(body)
	if err != nil {
		return nil, io.NopCloser(bytes.NewReader(nil)), fmt.Errorf("%w : %w", ErrReadBody, err)
	}
	return bodyBytes, io.NopCloser(bytes.NewReader(bodyBytes)), nil
}

// HooksResponseModifier runs the on_response hook and sets the headers it returns on the response.
func HooksResponseModifier(gateway *Gateway, res *http.Response) error {
	if gateway.Hooks == nil {
		return nil
	}

	body, restored, err := decodeJSON(res.Body)
	res.Body = restored
	if err != nil {
		return err
	}

	result, err := gateway.Hooks.OnResponse(hooks.Response{
		Status:  res.StatusCode,
		Headers: res.Header,
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("running on_response hook : %w", err)
	}

	for k, v := range result.Headers {
		res.Header.Set(k, v)
	}
	if res.Request != nil && len(result.Headers) > 0 {
		if metadata, ok := MetadataFromContext(res.Request.Context()); ok {
			metadata["hook_response_headers"] = result.Headers
		}
	}
	return nil
}

// RecordResponseModifier is the final modifier in the default response pipeline.
// It stores the raw response, the relayed body and the video title on the exchange.
func RecordResponseModifier(gateway *Gateway, res *http.Response) error {
	if res.Request == nil {
		return ErrExchangeNotFound
	}
	exchange, ok := ExchangeFromContext(res.Request.Context())
	if !ok {
		return ErrExchangeNotFound
	}

	recordResponse(exchange, res)

	if respondedAt, ok := ResponseTimeFromContext(res.Request.Context()); ok {
		exchange.Metadata["backend_responded_at"] = respondedAt.Format(time.RFC3339Nano)
	}
	return nil
}

// recordResponse copies what is known about res onto the exchange. It is also used for responses
// that failed the pipeline, so it never returns an error.
func recordResponse(exchange *domain.Exchange, res *http.Response) {
	raw, prettified, err := rawhttp.DumpResponse(res)
	if err != nil {
		exchange.Metadata["dump_error"] = err.Error()
		return
	}
	exchange.ResponseRaw = raw
	if prettified != "" {
		exchange.Metadata["prettified-response"] = prettified
	}

	body, restored, err := readBody(res.Body)
	res.Body = restored
	if err != nil {
		return
	}
	exchange.ResponseBody = string(body)

	var note domain.NoteResponse
	if json.Unmarshal(body, &note) == nil && note.VideoTitle != "" {
		exchange.VideoTitle = note.VideoTitle
	}
}
