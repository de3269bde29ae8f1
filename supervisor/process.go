package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/tfkr-ae/notebridge/domain"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	ModeManaged  = "managed"
	ModeExternal = "external"
)

// Config describes the backend and how to launch it.
type Config struct {
	URL              *url.URL          // Base URL of the backend
	Command          string            // Executable to launch, empty for external mode
	Args             []string          // Arguments passed to Command
	Dir              string            // Working directory of the process
	Env              map[string]string // Extra environment, added on top of the gateway's environment
	Readiness        string            // tcp, http or delay
	HealthPath       string            // Path probed by the http readiness kind
	StartupDelay     time.Duration     // Fixed wait used by the delay readiness kind
	ReadyTimeout     time.Duration     // Upper bound for a launch to become ready
	RelaunchInterval time.Duration     // Minimum interval between launches
	StopGrace        time.Duration     // Time between the interrupt and the kill on Stop
}

// Process supervises one backend process.
type Process struct {
	cfg     Config
	prober  Prober
	client  *http.Client
	onEvent EventHandler
	limiter *rate.Limiter
	group   singleflight.Group

	mu       sync.Mutex
	state    State
	run      *domain.BackendRun
	cancel   context.CancelFunc // interrupts the running process
	done     chan struct{}      // closed once the running process has been reaped
	lastExit *int
	launches int
	stopped  bool
}

// Option configures a Process.
type Option func(*Process) error

// WithEventHandler registers the function that receives every supervisor event.
func WithEventHandler(handler EventHandler) Option {
	return func(p *Process) error {
		p.onEvent = handler
		return nil
	}
}

// WithHTTPClient sets the client used by the http readiness probe.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Process) error {
		p.client = client
		return nil
	}
}

// WithProber replaces the readiness probe derived from the config.
func WithProber(prober Prober) Option {
	return func(p *Process) error {
		p.prober = prober
		return nil
	}
}

// New creates a Process in the NotStarted state. Nothing is launched until EnsureReady is called.
func New(cfg Config, options ...Option) (*Process, error) {
	if cfg.URL == nil {
		return nil, errors.New("backend url is required")
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}

	p := &Process{
		cfg:     cfg,
		onEvent: func(Event) {},
		state:   NotStarted,
	}

	for _, option := range options {
		if err := option(p); err != nil {
			return nil, fmt.Errorf("applying option : %w", err)
		}
	}

	if p.prober == nil {
		prober, err := NewProber(cfg.Readiness, cfg.URL, cfg.HealthPath, p.client)
		if err != nil {
			return nil, err
		}
		p.prober = prober
	}

	limit := rate.Inf
	if cfg.RelaunchInterval > 0 {
		limit = rate.Every(cfg.RelaunchInterval)
	}
	p.limiter = rate.NewLimiter(limit, 1)

	return p, nil
}

// Mode reports whether the process is launched by the supervisor or only probed.
func (p *Process) Mode() string {
	if p.cfg.Command == "" {
		return ModeExternal
	}
	return ModeManaged
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// EnsureReady returns once the backend is ready to accept requests.
// If the backend is not ready it is attached to or launched, and concurrent callers share the same attempt.
// Cancelling ctx stops the caller from waiting but does not abort a launch in progress.
func (p *Process) EnsureReady(ctx context.Context) error {
	p.mu.Lock()
	state, stopped := p.state, p.stopped
	p.mu.Unlock()

	if stopped {
		return ErrStopped
	}
	if state == Ready {
		return nil
	}

	ch := p.group.DoChan("start", func() (any, error) {
		return nil, p.start(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// Invalidate drops a Ready state that is not backed by a process the supervisor owns,
// so the next EnsureReady probes the backend again. It is used after a forwarding
// call could not reach an attached backend.
func (p *Process) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Ready && p.done == nil {
		p.state = NotStarted
	}
}

func (p *Process) start(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if p.state == Ready {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	err := p.prober.Probe(probeCtx)
	cancel()
	if err == nil {
		return p.attach()
	}

	if p.cfg.Command == "" {
		p.emit(Event{Type: EventProbeFailed, Err: err})
		return fmt.Errorf("%w : %w", ErrNotReady, err)
	}

	if !p.limiter.Allow() {
		return ErrRelaunchThrottled
	}

	done, err := p.launch()
	if err != nil {
		return err
	}

	return p.waitReady(ctx, done)
}

func (p *Process) attach() error {
	now := time.Now()

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.state = Ready
	p.done = nil
	p.cancel = nil
	p.run = &domain.BackendRun{
		ID:        newRunID(),
		State:     Ready.String(),
		StartedAt: now,
		ReadyAt:   &now,
	}
	p.mu.Unlock()

	p.emit(Event{Type: EventAttached})
	return nil
}

func (p *Process) commandLine() string {
	return strings.TrimSpace(p.cfg.Command + " " + strings.Join(p.cfg.Args, " "))
}

// launch starts the command and the goroutine that reaps it.
func (p *Process) launch() (<-chan struct{}, error) {
	run := &domain.BackendRun{
		ID:        newRunID(),
		Command:   p.commandLine(),
		Dir:       p.cfg.Dir,
		State:     Starting.String(),
		StartedAt: time.Now(),
	}

	fail := func(err error) (<-chan struct{}, error) {
		now := time.Now()
		code := -1

		p.mu.Lock()
		run.State = Exited.String()
		run.Error = err.Error()
		run.ExitedAt = &now
		p.run = run
		p.state = Exited
		p.lastExit = &code
		p.mu.Unlock()

		p.emit(Event{Type: EventLaunchFailed, Err: err})
		return nil, err
	}

	if p.cfg.Dir != "" {
		info, err := os.Stat(p.cfg.Dir)
		if err != nil {
			return fail(fmt.Errorf("checking backend dir : %w", err))
		}
		if !info.IsDir() {
			return fail(fmt.Errorf("backend dir %s is not a directory", p.cfg.Dir))
		}
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, p.cfg.Command, p.cfg.Args...)
	cmd.Dir = p.cfg.Dir
	cmd.Env = os.Environ()
	for k, v := range p.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Cancel = func() error {
		return interrupt(cmd.Process)
	}
	cmd.WaitDelay = p.cfg.StopGrace

	stdout := &lineWriter{emit: p.outputEmitter(run.ID, "stdout")}
	stderr := &lineWriter{emit: p.outputEmitter(run.ID, "stderr")}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// Starting under the lock means Stop either finds p.cancel set or this launch finds p.stopped.
	// The run must be current before any output can be emitted.
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		cancel()
		return nil, ErrStopped
	}
	p.run = run
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		cancel()
		return fail(fmt.Errorf("starting %s : %w", p.cfg.Command, err))
	}

	done := make(chan struct{})
	run.PID = cmd.Process.Pid
	p.state = Starting
	p.cancel = cancel
	p.done = done
	p.launches++
	p.mu.Unlock()

	p.emit(Event{Type: EventLaunched})

	go p.reap(cmd, run, cancel, done, stdout, stderr)

	return done, nil
}

// reap waits for the process to exit and records the exit.
func (p *Process) reap(cmd *exec.Cmd, run *domain.BackendRun, cancel context.CancelFunc, done chan struct{}, outputs ...*lineWriter) {
	waitErr := cmd.Wait()
	cancel()
	for _, output := range outputs {
		output.Flush()
	}

	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	now := time.Now()

	p.mu.Lock()
	run.State = Exited.String()
	run.ExitedAt = &now
	run.ExitCode = &code
	current := p.run == run
	if current {
		p.state = Exited
		p.lastExit = &code
		p.cancel = nil
	}
	snapshot := *run
	p.mu.Unlock()

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		p.emitRun(Event{Type: EventExited, Err: waitErr}, snapshot)
	} else {
		p.emitRun(Event{Type: EventExited}, snapshot)
	}

	close(done)
}

// waitReady blocks until the launched process passes the readiness probe, exits or times out.
func (p *Process) waitReady(ctx context.Context, done <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ReadyTimeout)
	defer cancel()

	var err error
	if p.cfg.Readiness == ReadinessDelay {
		err = p.waitDelay(ctx, done)
	} else {
		err = p.waitProbe(ctx, done)
	}

	if err != nil {
		p.giveUp(err)
		return fmt.Errorf("%w : %w", ErrNotReady, err)
	}

	now := time.Now()
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if p.done != done || p.state != Starting {
		p.mu.Unlock()
		return fmt.Errorf("%w : backend exited during startup", ErrNotReady)
	}
	p.state = Ready
	p.run.State = Ready.String()
	p.run.ReadyAt = &now
	p.mu.Unlock()

	p.emit(Event{Type: EventReady})
	return nil
}

func (p *Process) waitDelay(ctx context.Context, done <-chan struct{}) error {
	timer := time.NewTimer(p.cfg.StartupDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-done:
		return p.exitError()
	case <-ctx.Done():
		return fmt.Errorf("waiting startup delay : %w", ctx.Err())
	}
}

func (p *Process) waitProbe(ctx context.Context, done <-chan struct{}) error {
	backoff := retry.NewExponential(50 * time.Millisecond)
	backoff = retry.WithCappedDuration(time.Second, backoff)
	backoff = retry.WithMaxDuration(p.cfg.ReadyTimeout, backoff)

	var lastErr error
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		select {
		case <-done:
			return p.exitError()
		default:
		}

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		if err := p.prober.Probe(probeCtx); err != nil {
			lastErr = err
			return retry.RetryableError(err)
		}
		return nil
	})

	if err != nil && errors.Is(err, context.DeadlineExceeded) && lastErr != nil {
		return fmt.Errorf("probe timed out : %w", lastErr)
	}
	return err
}

func (p *Process) exitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastExit != nil {
		return fmt.Errorf("backend exited during startup with code %d", *p.lastExit)
	}
	return errors.New("backend exited during startup")
}

// giveUp stops a process that never became ready and marks the handle Exited.
func (p *Process) giveUp(err error) {
	p.mu.Lock()
	cancel := p.cancel
	p.state = Exited
	if p.run != nil {
		p.run.Error = err.Error()
	}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	p.emit(Event{Type: EventLaunchFailed, Err: err})
}

// Stop interrupts the backend, kills it after the stop grace period and waits for it to be reaped.
// A start already in progress is waited for, and no launch happens after Stop.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	// joins the in-flight start, if any; otherwise start returns ErrStopped at once
	ch := p.group.DoChan("start", func() (any, error) {
		return nil, p.start(ctx)
	})
	select {
	case <-ch:
	case <-ctx.Done():
		return fmt.Errorf("waiting for backend start : %w", ctx.Err())
	}

	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil || done == nil {
		return nil
	}

	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for backend to exit : %w", ctx.Err())
	}
}

// Snapshot returns the current state of the handle.
func (p *Process) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := Snapshot{
		State:    p.state.String(),
		Mode:     p.Mode(),
		Backend:  p.cfg.URL.String(),
		Launches: p.launches,
	}

	if p.lastExit != nil {
		code := *p.lastExit
		snapshot.LastExitCode = &code
	}

	if p.run != nil {
		id := p.run.ID
		startedAt := p.run.StartedAt
		snapshot.RunID = &id
		snapshot.StartedAt = &startedAt
		snapshot.Command = p.run.Command
		snapshot.ReadyAt = p.run.ReadyAt
		if p.state.Running() {
			snapshot.PID = p.run.PID
		}
	}

	return snapshot
}

func (p *Process) outputEmitter(runID uuid.UUID, stream string) func(string) {
	return func(line string) {
		p.mu.Lock()
		var snapshot domain.BackendRun
		if p.run != nil && p.run.ID == runID {
			snapshot = *p.run
		} else {
			snapshot.ID = runID
		}
		p.mu.Unlock()

		p.emitRun(Event{Type: EventOutput, Stream: stream, Line: line}, snapshot)
	}
}

// emit delivers an event carrying a copy of the current run.
func (p *Process) emit(event Event) {
	p.mu.Lock()
	var snapshot domain.BackendRun
	if p.run != nil {
		snapshot = *p.run
	}
	p.mu.Unlock()

	p.emitRun(event, snapshot)
}

func (p *Process) emitRun(event Event, run domain.BackendRun) {
	event.Run = run
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	p.onEvent(event)
}

func newRunID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
