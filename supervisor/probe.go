package supervisor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Readiness probe kinds.
const (
	ReadinessTCP   = "tcp"
	ReadinessHTTP  = "http"
	ReadinessDelay = "delay"
)

const probeTimeout = time.Second

// Prober checks once whether the backend answers.
type Prober interface {
	Probe(ctx context.Context) error
}

// TCPProbe succeeds when a TCP connection to Address can be opened.
type TCPProbe struct {
	Address string
}

func (p TCPProbe) Probe(ctx context.Context) error {
	dialer := net.Dialer{Timeout: probeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return fmt.Errorf("dialing %s : %w", p.Address, err)
	}
	conn.Close()
	return nil
}

// HTTPProbe succeeds when a GET to URL answers with a status below 500.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

func (p HTTPProbe) Probe(ctx context.Context) error {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("creating health request : %w", err)
	}

	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s : %w", p.URL, err)
	}
	res.Body.Close()

	if res.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("health check %s returned %d", p.URL, res.StatusCode)
	}
	return nil
}

// HostPort returns the dialable address of a backend URL, filling in the scheme's default port.
func HostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}

	port := "80"
	if strings.EqualFold(u.Scheme, "https") {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// NewProber builds the prober for a readiness kind. The delay kind has no probe of its own and
// uses a TCP dial so an already running backend can still be detected.
func NewProber(kind string, backend *url.URL, healthPath string, client *http.Client) (Prober, error) {
	switch kind {
	case ReadinessTCP, ReadinessDelay, "":
		return TCPProbe{Address: HostPort(backend)}, nil
	case ReadinessHTTP:
		health := *backend
		health.Path = strings.TrimSuffix(backend.Path, "/") + "/" + strings.TrimPrefix(healthPath, "/")
		health.RawQuery = ""
		return HTTPProbe{URL: health.String(), Client: client}, nil
	default:
		return nil, fmt.Errorf("unknown readiness probe %q", kind)
	}
}
