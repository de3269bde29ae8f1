package rawhttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"
)

// ErrInvalidJSON is returned when a body declared as JSON does not parse.
var ErrInvalidJSON = errors.New("invalid JSON body")

// JSONBody is an inbound body converted to JSON.
type JSONBody struct {
	Data       []byte // Compact JSON, nil when the inbound body was empty
	Reencoded  bool   // True when Data was produced from a non JSON body
	SourceType string // Media type of the inbound body
}

// Empty reports whether there is nothing to send.
func (b JSONBody) Empty() bool {
	return len(b.Data) == 0
}

// Decode unmarshals the body into v.
func (b JSONBody) Decode(v any) error {
	if b.Empty() {
		return fmt.Errorf("decoding body : %w", ErrInvalidJSON)
	}
	if err := json.Unmarshal(b.Data, v); err != nil {
		return fmt.Errorf("decoding body : %w", err)
	}
	return nil
}

func isJSONMediaType(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// EncodeJSONBody converts an inbound request body into compact JSON.
//
//   - JSON bodies are compacted. A body declared as JSON that does not parse returns ErrInvalidJSON.
//   - application/x-www-form-urlencoded bodies become an object, repeated fields become arrays.
//   - Any other body becomes a JSON string, except untyped bodies that already are valid JSON.
//   - Empty bodies stay empty.
func EncodeJSONBody(body []byte, contentType string) (JSONBody, error) {
	mediaType := ""
	if contentType != "" {
		if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = strings.ToLower(parsed)
		}
	}

	result := JSONBody{SourceType: mediaType}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return result, nil
	}

	switch {
	case isJSONMediaType(mediaType):
		var compacted bytes.Buffer
		if err := json.Compact(&compacted, trimmed); err != nil {
			return result, fmt.Errorf("%w : %w", ErrInvalidJSON, err)
		}
		result.Data = compacted.Bytes()

	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(trimmed))
		if err != nil {
			return result, fmt.Errorf("parsing form body : %w", err)
		}
		form := make(map[string]any, len(values))
		for key, vals := range values {
			if len(vals) == 1 {
				form[key] = vals[0]
			} else {
				form[key] = vals
			}
		}
		encoded, err := json.Marshal(form)
		if err != nil {
			return result, fmt.Errorf("encoding form body : %w", err)
		}
		result.Data = encoded
		result.Reencoded = true

	case mediaType == "" && json.Valid(trimmed):
		var compacted bytes.Buffer
		json.Compact(&compacted, trimmed)
		result.Data = compacted.Bytes()

	default:
		encoded, err := json.Marshal(string(body))
		if err != nil {
			return result, fmt.Errorf("encoding text body : %w", err)
		}
		result.Data = encoded
		result.Reencoded = true
	}

	return result, nil
}
