// Command mock-backend is a stand-in note backend for local development.
// It answers GET /health and turns every POST /api into a short Markdown note.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tfkr-ae/notebridge/domain"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		address string
		port    string
		delay   time.Duration
	)

	cmd := &cobra.Command{
		Use:          "mock-backend",
		Short:        "Serve canned learning notes",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr := net.JoinHostPort(address, port)
			log.Printf("[*] mock backend listening on %s", addr)
			server := &http.Server{
				Addr:              addr,
				Handler:           newHandler(delay),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return server.ListenAndServe()
		},
	}

	cmd.Flags().StringVar(&address, "address", "127.0.0.1", "interface to listen on")
	cmd.Flags().StringVar(&port, "port", "8000", "port to listen on")
	cmd.Flags().DurationVar(&delay, "delay", 0, "artificial latency per note")

	return cmd
}

func newHandler(delay time.Duration) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /api", func(w http.ResponseWriter, r *http.Request) {
		var req domain.NoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid JSON body"})
			return
		}
		if err := req.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
			return
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		writeJSON(w, http.StatusOK, noteFor(req))
	})

	return mux
}

func noteFor(req domain.NoteRequest) domain.NoteResponse {
	title := "Text note"
	if id, ok := req.VideoID(); ok {
		title = "Video " + id
	}

	content := fmt.Sprintf("# %s\n\nLevel: %s\n\n## Source\n\n%s\n", title, req.LearningLevel, req.InputValue)
	return domain.NoteResponse{MarkdownContent: content, VideoTitle: title}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
