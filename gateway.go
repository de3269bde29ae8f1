// Package notebridge provides an HTTP gateway in front of a note generation backend. It lazily
// launches and supervises the backend process, forwards the browser's requests to it over loopback
// HTTP and relays the JSON answer, recording every exchange, backend run and log entry in SQLite.
//
// The core functionality includes:
//   - Lazy, race free backend launch through the supervisor package
//   - A martian modifier pipeline for the outbound request and the backend response
//   - Note request validation and optional Lua hooks
//   - Asynchronous storage of exchanges, runs and logs
package notebridge

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/martian/cors"
	"github.com/google/martian/fifo"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/tfkr-ae/notebridge/core"
	"github.com/tfkr-ae/notebridge/domain"
	"github.com/tfkr-ae/notebridge/hooks"
	"github.com/tfkr-ae/notebridge/listener"
	"github.com/tfkr-ae/notebridge/supervisor"
)

// ErrClosed is returned when something is queued after the gateway was closed.
var ErrClosed = errors.New("gateway closed")

// Repository defines the methods consumed by the gateway to interact with the SQLite backend.
type Repository interface {
	domain.ExchangeRepository
	domain.RunRepository
	domain.LogRepository
	domain.StatsRepository
	Close() error
}

// Gateway is the main struct that ties the supervisor, the forwarding pipeline and the database writer together.
type Gateway struct {
	Config         *Config                              // Effective configuration
	Repo           Repository                           // DB Repository Interface, nil disables storage
	Supervisor     *supervisor.Process                  // Backend process handle
	Hooks          *hooks.Engine                        // Optional Lua hooks
	Scope          *Scope                               // Paths that are forwarded
	Modifiers      *fifo.Group                          // Modifier group pipeline
	Transport      http.RoundTripper                    // Transport used for the single outbound call
	DBWriteChannel chan any                             // DB Write Channel, accepts *domain.Exchange, *domain.BackendRun and *domain.Log
	OnLog          func(log domain.Log) error           // Called for every log entry after it was stored
	OnExchange     func(exchange domain.Exchange) error // Called for every exchange after it was stored
	Logger         *slog.Logger                         // Process level logger
	TLSConfig      *tls.Config                          // Inbound TLS, nil serves plain HTTP only
	Addr           string                               // Address the gateway listens on
	Port           string                               // Port the gateway listens on
	backend        *url.URL

	wg          conc.WaitGroup
	mu          sync.RWMutex
	closed      bool
	knownRuns   map[uuid.UUID]bool
	server      *http.Server
	stopWatcher context.CancelFunc
	closeOnce   sync.Once
	closeErr    error
}

// New creates a Gateway and applies the provided options. Anything the options did not set is
// derived from the config: the supervisor, the transport and, when hooks.script is set, the hook engine.
// The database writer is started before New returns, so Close must always be called.
func New(options ...func(*Gateway) error) (*Gateway, error) {
	gateway := &Gateway{
		Modifiers:      fifo.NewGroup(),
		DBWriteChannel: make(chan any, 64),
		Logger:         slog.Default(),
		knownRuns:      make(map[uuid.UUID]bool),
	}

	if err := gateway.WithOptions(options...); err != nil {
		return nil, err
	}

	if gateway.Config == nil {
		cfg, err := DefaultConfig()
		if err != nil {
			return nil, err
		}
		gateway.Config = cfg
	}

	if gateway.Scope == nil {
		scope, err := NewScope(gateway.Config.Gateway.AllowPaths, gateway.Config.Gateway.DenyPaths)
		if err != nil {
			return nil, err
		}
		gateway.Scope = scope
	}

	backend, err := gateway.Config.BackendURL()
	if err != nil {
		return nil, err
	}
	gateway.backend = backend

	if gateway.Transport == nil {
		gateway.Transport = newBackendTransport()
	}

	if gateway.Supervisor == nil {
		process, err := supervisor.New(
			SupervisorConfig(gateway.Config, backend),
			supervisor.WithEventHandler(gateway.HandleEvent),
			supervisor.WithHTTPClient(&http.Client{Transport: gateway.Transport}),
		)
		if err != nil {
			return nil, fmt.Errorf("creating supervisor : %w", err)
		}
		gateway.Supervisor = process
	}

	if gateway.Hooks == nil && gateway.Config.Hooks.Script != "" {
		engine, err := hooks.Load(gateway.Config.HookScript())
		if err != nil {
			return nil, err
		}
		gateway.Hooks = engine
	}
	if gateway.Hooks != nil {
		gateway.Hooks.SetLogFunc(func(level, message string) {
			gateway.WriteLog(level, message, core.LogWithContext(map[string]any{"source": "hook"}))
		})
	}

	if gateway.TLSConfig == nil && gateway.Config.TLS.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(gateway.Config.resolve(gateway.Config.TLS.CertFile), gateway.Config.resolve(gateway.Config.TLS.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("loading tls key pair : %w", err)
		}
		gateway.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	gateway.registerModifiers()

	gateway.wg.Go(gateway.WriteToDB)

	if gateway.Hooks != nil && gateway.Hooks.Path() != "" {
		ctx, cancel := context.WithCancel(context.Background())
		gateway.stopWatcher = cancel
		gateway.wg.Go(func() {
			if err := gateway.Hooks.Watch(ctx, gateway.onHookReload); err != nil {
				gateway.WriteLog("ERROR", fmt.Sprintf("watching hook script : %v", err))
			}
		})
	}

	return gateway, nil
}

// SupervisorConfig translates the backend section of cfg for the supervisor package.
func SupervisorConfig(cfg *Config, backend *url.URL) supervisor.Config {
	return supervisor.Config{
		URL:              backend,
		Command:          cfg.Backend.Command,
		Args:             cfg.Backend.Args,
		Dir:              cfg.BackendDir(),
		Env:              cfg.Backend.Env,
		Readiness:        cfg.Backend.Readiness,
		HealthPath:       cfg.Backend.HealthPath,
		StartupDelay:     cfg.Backend.StartupDelay,
		ReadyTimeout:     cfg.Backend.ReadyTimeout,
		RelaunchInterval: cfg.Backend.RelaunchInterval,
		StopGrace:        cfg.Backend.StopGrace,
	}
}

func (gateway *Gateway) onHookReload(err error) {
	if err != nil {
		gateway.WriteLog("ERROR", fmt.Sprintf("reloading hook script : %v", err))
		return
	}
	gateway.WriteLog("INFO", "hook script reloaded", core.LogWithContext(map[string]any{"script": gateway.Hooks.Path()}))
}

// enqueue hands an item to the DB writer. It reports false once the gateway is closed.
func (gateway *Gateway) enqueue(item any) bool {
	gateway.mu.RLock()
	defer gateway.mu.RUnlock()

	if gateway.closed {
		return false
	}
	gateway.DBWriteChannel <- item
	return true
}

// WriteToDB drains DBWriteChannel until it is closed.
func (gateway *Gateway) WriteToDB() {
	for item := range gateway.DBWriteChannel {
		switch castItem := item.(type) {
		case *domain.Exchange:
			if gateway.Repo != nil {
				if err := gateway.Repo.InsertExchange(castItem); err != nil {
					gateway.Logger.Error("inserting exchange", "id", castItem.ID, "error", err)
				}
			}
			if gateway.OnExchange != nil {
				if err := gateway.OnExchange(*castItem); err != nil {
					gateway.Logger.Error("exchange handler", "id", castItem.ID, "error", err)
				}
			}
		case *domain.BackendRun:
			if gateway.Repo != nil {
				if err := gateway.upsertRun(castItem); err != nil {
					gateway.Logger.Error("storing backend run", "id", castItem.ID, "error", err)
				}
			}
		case *domain.Log:
			if gateway.Repo != nil {
				if err := gateway.Repo.InsertLog(castItem); err != nil {
					gateway.Logger.Error("inserting log", "id", castItem.ID, "error", err)
				}
			}
			if gateway.OnLog != nil {
				if err := gateway.OnLog(*castItem); err != nil {
					gateway.Logger.Error("log handler", "id", castItem.ID, "error", err)
				}
			}
		default:
			gateway.Logger.Warn("unknown item on db write channel", "type", fmt.Sprintf("%T", item))
		}
	}
}

func (gateway *Gateway) upsertRun(run *domain.BackendRun) error {
	err := gateway.Repo.UpdateRun(run)
	if errors.Is(err, domain.ErrNotFound) {
		return gateway.Repo.InsertRun(run)
	}
	return err
}

var slogLevels = map[string]slog.Level{
	"DEBUG": slog.LevelDebug,
	"INFO":  slog.LevelInfo,
	"WARN":  slog.LevelWarn,
	"ERROR": slog.LevelError,
	"FATAL": slog.LevelError + 4,
}

// WriteLog queues a structured log entry for storage and mirrors it to the process logger.
func (gateway *Gateway) WriteLog(level string, message string, options ...core.LogOption) error {
	slogLevel, ok := slogLevels[level]
	if !ok {
		return fmt.Errorf("level should be either: debug, info, warn, error, fatal")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generating new uuid : %w", err)
	}
	log := &domain.Log{
		ID:        id,
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
	}
	for _, option := range options {
		if err := option(log); err != nil {
			return fmt.Errorf("applying log option : %w", err)
		}
	}

	attrs := make([]any, 0, 2*len(log.Context)+2)
	if log.RunID != nil {
		attrs = append(attrs, "run", log.RunID.String())
	}
	for k, v := range log.Context {
		attrs = append(attrs, k, v)
	}
	gateway.Logger.Log(context.Background(), slogLevel, message, attrs...)

	if !gateway.enqueue(log) {
		return ErrClosed
	}
	return nil
}

// HandleEvent turns supervisor events into backend run records and log entries.
func (gateway *Gateway) HandleEvent(event supervisor.Event) {
	run := event.Run
	hasRun := run.ID != uuid.Nil

	if event.Type == supervisor.EventOutput {
		level := "INFO"
		if event.Stream == "stderr" {
			level = "WARN"
		}
		logContext := map[string]any{"stream": event.Stream}
		if hasRun && !gateway.isKnownRun(run.ID) {
			logContext["run_id"] = run.ID.String()
		}
		options := []core.LogOption{core.LogWithContext(logContext)}
		if hasRun && gateway.isKnownRun(run.ID) {
			options = append(options, core.LogWithRunID(run.ID))
		}
		gateway.WriteLog(level, event.Line, options...)
		return
	}

	var options []core.LogOption
	if hasRun {
		// the run row has to exist before a log can reference it
		gateway.mu.Lock()
		gateway.knownRuns[run.ID] = true
		gateway.mu.Unlock()
		gateway.enqueue(&run)
		options = append(options, core.LogWithRunID(run.ID))
	}

	switch event.Type {
	case supervisor.EventLaunched:
		gateway.WriteLog("INFO", fmt.Sprintf("backend launched with pid %d", run.PID),
			append(options, core.LogWithContext(map[string]any{"command": run.Command, "dir": run.Dir}))...)
	case supervisor.EventAttached:
		gateway.WriteLog("INFO", fmt.Sprintf("attached to running backend at %s", gateway.backend), options...)
	case supervisor.EventReady:
		gateway.WriteLog("INFO", "backend ready", options...)
	case supervisor.EventExited:
		message := "backend exited"
		if run.ExitCode != nil {
			message = fmt.Sprintf("backend exited with code %d", *run.ExitCode)
		}
		if event.Err != nil {
			message = fmt.Sprintf("%s : %v", message, event.Err)
		}
		gateway.WriteLog("WARN", message, options...)
	case supervisor.EventLaunchFailed:
		gateway.WriteLog("ERROR", fmt.Sprintf("backend launch failed : %v", event.Err), options...)
	case supervisor.EventProbeFailed:
		gateway.WriteLog("WARN", fmt.Sprintf("backend probe failed : %v", event.Err), options...)
	}
}

func (gateway *Gateway) isKnownRun(id uuid.UUID) bool {
	gateway.mu.RLock()
	defer gateway.mu.RUnlock()
	return gateway.knownRuns[id]
}

// Handler returns the gateway's HTTP surface: the forwarded route and the status endpoint,
// wrapped in a CORS handler when gateway.cors_origin is set.
func (gateway *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+StatusPath, gateway.handleStatus)

	route := strings.TrimSuffix(gateway.Config.Route, "/")
	if route == "" {
		mux.Handle("/", gateway)
	} else {
		mux.Handle(route, gateway)
		mux.Handle(route+"/", gateway)
	}

	if gateway.Config.Gateway.CORSOrigin == "" {
		return mux
	}
	corsHandler := cors.NewHandler(mux)
	corsHandler.SetOrigin(gateway.Config.Gateway.CORSOrigin)
	return corsHandler
}

type statusResponse struct {
	supervisor.Snapshot
	Route string `json:"route"`
}

func (gateway *Gateway) handleStatus(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Snapshot: gateway.Supervisor.Snapshot(),
		Route:    gateway.Config.Route,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
	w.WriteHeader(status)
	w.Write(body)
}

// GetListener binds address:port and wraps the listener so it survives failed connections
// and terminates TLS when a certificate is configured.
func (gateway *Gateway) GetListener(address string, port string) (net.Listener, error) {
	rawListener, err := net.Listen("tcp", net.JoinHostPort(address, port))
	if err != nil {
		return nil, fmt.Errorf("setting up listener on address:port %s:%s : %w", address, port, err)
	}

	gatewayListener := listener.New(rawListener, gateway.TLSConfig, func(err error) {
		gateway.WriteLog("DEBUG", fmt.Sprintf("connection rejected : %v", err))
	})

	gateway.Addr = address
	gateway.Port = port
	gateway.WriteLog("INFO", fmt.Sprintf("notebridge gateway started on %s", rawListener.Addr()),
		core.LogWithContext(map[string]any{"route": gateway.Config.Route, "backend": gateway.backend.String(), "mode": gateway.Supervisor.Mode()}))
	return gatewayListener, nil
}

// Serve serves the gateway on l until Shutdown is called.
func (gateway *Gateway) Serve(l net.Listener) error {
	gateway.mu.Lock()
	if gateway.closed {
		gateway.mu.Unlock()
		return ErrClosed
	}
	gateway.server = &http.Server{
		Handler:           gateway.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := gateway.server
	gateway.mu.Unlock()

	err := server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, stops the backend and flushes the DB writer before closing the repository.
func (gateway *Gateway) Shutdown(ctx context.Context) error {
	gateway.closeOnce.Do(func() {
		var errs []error

		gateway.mu.RLock()
		server := gateway.server
		gateway.mu.RUnlock()
		if server != nil {
			if err := server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutting down server : %w", err))
			}
		}

		if gateway.stopWatcher != nil {
			gateway.stopWatcher()
		}

		if err := gateway.Supervisor.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping backend : %w", err))
		}

		gateway.mu.Lock()
		gateway.closed = true
		close(gateway.DBWriteChannel)
		gateway.mu.Unlock()

		gateway.wg.Wait()

		if gateway.Repo != nil {
			if err := gateway.Repo.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing repository : %w", err))
			}
		}
		gateway.closeErr = errors.Join(errs...)
	})
	return gateway.closeErr
}

// Close is Shutdown bounded by the backend stop grace period.
func (gateway *Gateway) Close() error {
	timeout := 5 * time.Second
	if gateway.Config != nil && gateway.Config.Backend.StopGrace > 0 {
		timeout = gateway.Config.Backend.StopGrace + time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return gateway.Shutdown(ctx)
}
