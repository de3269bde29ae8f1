package notebridge

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tfkr-ae/notebridge/domain"
	"github.com/tfkr-ae/notebridge/rawhttp"
)

// isNoteRoute reports whether path is the route itself rather than something below it.
func (gateway *Gateway) isNoteRoute(path string) bool {
	route := strings.TrimSuffix(gateway.Config.Route, "/")
	return strings.TrimSuffix(path, "/") == route
}

// validate checks POSTs to the note route against the note request contract when
// gateway.validate_requests is on. The video id of url requests is kept in the exchange metadata.
func (gateway *Gateway) validate(req *http.Request, body rawhttp.JSONBody, exchange *domain.Exchange) error {
	if !gateway.Config.Gateway.ValidateRequests || req.Method != http.MethodPost || !gateway.isNoteRoute(req.URL.Path) {
		return nil
	}

	var note domain.NoteRequest
	if err := body.Decode(&note); err != nil {
		return &RequestError{Status: http.StatusBadRequest, Err: fmt.Errorf("%w : %w", domain.ErrInvalidNoteRequest, err)}
	}
	if err := note.Validate(); err != nil {
		return &RequestError{Status: http.StatusBadRequest, Err: err}
	}

	exchange.Metadata["input_type"] = note.InputType
	exchange.Metadata["learning_level"] = note.LearningLevel
	if id, ok := note.VideoID(); ok {
		exchange.Metadata["video_id"] = id
	}
	return nil
}
