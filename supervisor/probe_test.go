package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestHostPort(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "http://localhost:8000", want: "localhost:8000"},
		{raw: "http://localhost", want: "localhost:80"},
		{raw: "https://notes.internal", want: "notes.internal:443"},
	}

	for _, tt := range tests {
		t.Run("should resolve "+tt.raw, func(t *testing.T) {
			u, _ := url.Parse(tt.raw)
			if got := HostPort(u); got != tt.want {
				t.Fatalf("\nwanted:\n%s\ngot:\n%s", tt.want, got)
			}
		})
	}
}

func TestNewProber(t *testing.T) {
	t.Run("should reject an unknown readiness kind", func(t *testing.T) {
		u, _ := url.Parse("http://localhost:8000")
		if _, err := NewProber("ping", u, "/health", nil); err == nil {
			t.Fatalf("\nwanted:\nerror\ngot:\nnil")
		}
	})

	t.Run("should accept 4xx and reject 5xx health answers", func(t *testing.T) {
		status := http.StatusNotFound
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/health" {
				t.Errorf("\nwanted:\n/health\ngot:\n%s", r.URL.Path)
			}
			w.WriteHeader(status)
		}))
		defer server.Close()

		u, _ := url.Parse(server.URL)
		prober, err := NewProber(ReadinessHTTP, u, "health", server.Client())
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		if err := prober.Probe(context.Background()); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		status = http.StatusServiceUnavailable
		if err := prober.Probe(context.Background()); err == nil {
			t.Fatalf("\nwanted:\nerror\ngot:\nnil")
		}
	})
}
