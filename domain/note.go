package domain

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	InputTypeURL  = "url"
	InputTypeText = "text"

	// DefaultLearningLevel is applied when a note request omits learningLevel.
	DefaultLearningLevel = "beginner"
	// DefaultNoteFilename is used when a note has no usable title.
	DefaultNoteFilename = "learning_note.md"
)

var (
	youtubeURLPattern = regexp.MustCompile(`^(https?://)?(www\.)?(youtube\.com|youtu\.be)/.+`)
	videoIDPattern    = regexp.MustCompile(`(?:v=|/)([0-9A-Za-z_-]{11})`)
	filenameStrip     = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	filenameSpaces    = regexp.MustCompile(`\s+`)
)

// NoteRequest is the body the browser form posts to the note backend.
type NoteRequest struct {
	InputType     string `json:"inputType"`
	InputValue    string `json:"inputValue"`
	LearningLevel string `json:"learningLevel,omitempty"`
}

// NoteResponse is the body the note backend answers with.
type NoteResponse struct {
	MarkdownContent string `json:"markdownContent"`
	VideoTitle      string `json:"videoTitle"`
}

// Validate checks the request the same way the note form and backend do and
// fills in the default learning level. Errors wrap ErrInvalidNoteRequest.
func (n *NoteRequest) Validate() error {
	switch n.InputType {
	case InputTypeURL, InputTypeText:
	case "":
		return fmt.Errorf("%w : inputType is required", ErrInvalidNoteRequest)
	default:
		return fmt.Errorf("%w : unsupported inputType %q", ErrInvalidNoteRequest, n.InputType)
	}

	if strings.TrimSpace(n.InputValue) == "" {
		return fmt.Errorf("%w : inputValue is required", ErrInvalidNoteRequest)
	}

	if n.InputType == InputTypeURL && !youtubeURLPattern.MatchString(strings.TrimSpace(n.InputValue)) {
		return fmt.Errorf("%w : inputValue is not a YouTube URL", ErrInvalidNoteRequest)
	}

	if n.LearningLevel == "" {
		n.LearningLevel = DefaultLearningLevel
	}

	return nil
}

// VideoID returns the 11 character video id embedded in a url request.
func (n *NoteRequest) VideoID() (string, bool) {
	if n.InputType != InputTypeURL {
		return "", false
	}
	return ExtractVideoID(n.InputValue)
}

// ExtractVideoID finds the first YouTube video id in rawURL.
func ExtractVideoID(rawURL string) (string, bool) {
	match := videoIDPattern.FindStringSubmatch(rawURL)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// MarkdownFilename derives the export filename from a video title.
// Everything except letters, digits, underscores and whitespace is dropped and whitespace runs become "_".
func MarkdownFilename(title string) string {
	name := filenameStrip.ReplaceAllString(title, "")
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultNoteFilename
	}
	name = filenameSpaces.ReplaceAllString(name, "_")
	return name + ".md"
}
