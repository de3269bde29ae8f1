package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestHelperProcess is not a real test. It is re-executed by the tests below to act as the backend.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("HELPER_MODE") {
	case "serve":
		fmt.Println("helper backend listening")
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		err := http.ListenAndServe("127.0.0.1:"+os.Getenv("HELPER_PORT"), mux)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	case "exit":
		fmt.Fprintln(os.Stderr, "helper backend failing")
		os.Exit(3)
	default:
		os.Exit(1)
	}
}

func freePort(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("getting free port: %v", err)
	}
	defer l.Close()

	return strconv.Itoa(l.Addr().(*net.TCPAddr).Port)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) count(eventType EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, event := range r.events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

func helperProcess(t *testing.T, mode, port string, recorder *eventRecorder, relaunch time.Duration) *Process {
	t.Helper()

	backend, _ := url.Parse("http://127.0.0.1:" + port)
	cfg := Config{
		URL:              backend,
		Command:          os.Args[0],
		Args:             []string{"-test.run=TestHelperProcess", "--"},
		Env:              map[string]string{"GO_WANT_HELPER_PROCESS": "1", "HELPER_MODE": mode, "HELPER_PORT": port},
		Readiness:        ReadinessHTTP,
		HealthPath:       "/health",
		ReadyTimeout:     10 * time.Second,
		RelaunchInterval: relaunch,
		StopGrace:        2 * time.Second,
	}

	p, err := New(cfg, WithEventHandler(recorder.handle))
	if err != nil {
		t.Fatalf("creating process: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Stop(ctx)
	})

	return p
}

func TestProcess_EnsureReady(t *testing.T) {
	t.Run("should launch once for concurrent first callers", func(t *testing.T) {
		recorder := &eventRecorder{}
		p := helperProcess(t, "serve", freePort(t), recorder, 0)

		var wg sync.WaitGroup
		var failures atomic.Int32
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := p.EnsureReady(context.Background()); err != nil {
					failures.Add(1)
				}
			}()
		}
		wg.Wait()

		if failures.Load() != 0 {
			t.Fatalf("\nwanted:\n0 failures\ngot:\n%d", failures.Load())
		}

		if got := recorder.count(EventLaunched); got != 1 {
			t.Fatalf("\nwanted:\n1 launch\ngot:\n%d", got)
		}

		if p.State() != Ready {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", Ready, p.State())
		}

		snapshot := p.Snapshot()
		if snapshot.PID == 0 || snapshot.Launches != 1 || snapshot.Mode != ModeManaged {
			t.Fatalf("\nwanted:\nmanaged snapshot with a pid\ngot:\n%+v", snapshot)
		}
	})

	t.Run("should be a no-op once ready", func(t *testing.T) {
		recorder := &eventRecorder{}
		p := helperProcess(t, "serve", freePort(t), recorder, 0)

		for i := 0; i < 3; i++ {
			if err := p.EnsureReady(context.Background()); err != nil {
				t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
			}
		}

		if got := recorder.count(EventLaunched); got != 1 {
			t.Fatalf("\nwanted:\n1 launch\ngot:\n%d", got)
		}
	})

	t.Run("should surface an early exit and relaunch on the next call", func(t *testing.T) {
		recorder := &eventRecorder{}
		p := helperProcess(t, "exit", freePort(t), recorder, 0)

		err := p.EnsureReady(context.Background())
		if !errors.Is(err, ErrNotReady) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrNotReady, err)
		}

		if p.State() != Exited {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", Exited, p.State())
		}

		p.EnsureReady(context.Background())

		if got := recorder.count(EventLaunched); got != 2 {
			t.Fatalf("\nwanted:\n2 launches\ngot:\n%d", got)
		}

		if got := recorder.count(EventOutput); got == 0 {
			t.Fatalf("\nwanted:\noutput events\ngot:\n0")
		}
	})

	t.Run("should throttle relaunches inside the relaunch interval", func(t *testing.T) {
		recorder := &eventRecorder{}
		p := helperProcess(t, "exit", freePort(t), recorder, time.Hour)

		if err := p.EnsureReady(context.Background()); !errors.Is(err, ErrNotReady) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrNotReady, err)
		}

		if err := p.EnsureReady(context.Background()); !errors.Is(err, ErrRelaunchThrottled) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrRelaunchThrottled, err)
		}
	})

	t.Run("should relaunch after a ready backend is stopped externally", func(t *testing.T) {
		recorder := &eventRecorder{}
		p := helperProcess(t, "serve", freePort(t), recorder, 0)

		if err := p.EnsureReady(context.Background()); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		pid := p.Snapshot().PID
		proc, err := os.FindProcess(pid)
		if err != nil {
			t.Fatalf("finding process: %v", err)
		}
		proc.Kill()

		deadline := time.Now().Add(5 * time.Second)
		for p.State() != Exited && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if p.State() != Exited {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", Exited, p.State())
		}

		if err := p.EnsureReady(context.Background()); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		if got := recorder.count(EventLaunched); got != 2 {
			t.Fatalf("\nwanted:\n2 launches\ngot:\n%d", got)
		}
	})

	t.Run("should record a launch failure for a missing working directory", func(t *testing.T) {
		recorder := &eventRecorder{}
		backend, _ := url.Parse("http://127.0.0.1:" + freePort(t))
		p, err := New(Config{
			URL:     backend,
			Command: "uvicorn",
			Dir:     t.TempDir() + "/missing",
		}, WithEventHandler(recorder.handle))
		if err != nil {
			t.Fatalf("creating process: %v", err)
		}

		if err := p.EnsureReady(context.Background()); err == nil {
			t.Fatalf("\nwanted:\nerror\ngot:\nnil")
		}

		if got := recorder.count(EventLaunchFailed); got != 1 {
			t.Fatalf("\nwanted:\n1 launch_failed\ngot:\n%d", got)
		}

		if p.State() != Exited {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", Exited, p.State())
		}
	})
}

func TestProcess_ExternalMode(t *testing.T) {
	t.Run("should attach to a running backend without launching", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listening: %v", err)
		}
		defer l.Close()

		recorder := &eventRecorder{}
		backend, _ := url.Parse("http://" + l.Addr().String())
		p, err := New(Config{URL: backend}, WithEventHandler(recorder.handle))
		if err != nil {
			t.Fatalf("creating process: %v", err)
		}

		if err := p.EnsureReady(context.Background()); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		if recorder.count(EventAttached) != 1 || recorder.count(EventLaunched) != 0 {
			t.Fatalf("\nwanted:\n1 attach 0 launches\ngot:\n%d %d", recorder.count(EventAttached), recorder.count(EventLaunched))
		}

		if p.Snapshot().Mode != ModeExternal {
			t.Fatalf("\nwanted:\n%s\ngot:\n%s", ModeExternal, p.Snapshot().Mode)
		}
	})

	t.Run("should fail fast when nothing answers", func(t *testing.T) {
		recorder := &eventRecorder{}
		backend, _ := url.Parse("http://127.0.0.1:" + freePort(t))
		p, err := New(Config{URL: backend}, WithEventHandler(recorder.handle))
		if err != nil {
			t.Fatalf("creating process: %v", err)
		}

		err = p.EnsureReady(context.Background())
		if !errors.Is(err, ErrNotReady) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrNotReady, err)
		}

		if recorder.count(EventProbeFailed) != 1 {
			t.Fatalf("\nwanted:\n1 probe_failed\ngot:\n%d", recorder.count(EventProbeFailed))
		}
	})

	t.Run("should probe again after Invalidate", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listening: %v", err)
		}

		backend, _ := url.Parse("http://" + l.Addr().String())
		p, err := New(Config{URL: backend})
		if err != nil {
			t.Fatalf("creating process: %v", err)
		}

		if err := p.EnsureReady(context.Background()); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		l.Close()
		p.Invalidate()

		if err := p.EnsureReady(context.Background()); !errors.Is(err, ErrNotReady) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrNotReady, err)
		}
	})
}

func TestProcess_Stop(t *testing.T) {
	t.Run("should stop the backend and refuse further launches", func(t *testing.T) {
		recorder := &eventRecorder{}
		p := helperProcess(t, "serve", freePort(t), recorder, 0)

		if err := p.EnsureReady(context.Background()); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.Stop(ctx); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		if p.State() != Exited {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", Exited, p.State())
		}

		if recorder.count(EventExited) != 1 {
			t.Fatalf("\nwanted:\n1 exited\ngot:\n%d", recorder.count(EventExited))
		}

		if err := p.EnsureReady(context.Background()); !errors.Is(err, ErrStopped) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrStopped, err)
		}
	})
}

// gatedCheck fails every check, but only once release is closed.
type gatedCheck struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedCheck) Probe(ctx context.Context) error {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return errors.New("connection refused")
}

func TestProcess_StopDuringStart(t *testing.T) {
	t.Run("should not launch when stopped while the first check is running", func(t *testing.T) {
		recorder := &eventRecorder{}
		check := &gatedCheck{entered: make(chan struct{}), release: make(chan struct{})}
		port := freePort(t)

		backend, _ := url.Parse("http://127.0.0.1:" + port)
		p, err := New(Config{
			URL:          backend,
			Command:      os.Args[0],
			Args:         []string{"-test.run=TestHelperProcess", "--"},
			Env:          map[string]string{"GO_WANT_HELPER_PROCESS": "1", "HELPER_MODE": "serve", "HELPER_PORT": port},
			Readiness:    ReadinessHTTP,
			HealthPath:   "/health",
			ReadyTimeout: 5 * time.Second,
			StopGrace:    2 * time.Second,
		}, WithProber(check), WithEventHandler(recorder.handle))
		if err != nil {
			t.Fatalf("creating process: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		ensured := make(chan error, 1)
		go func() { ensured <- p.EnsureReady(ctx) }()
		<-check.entered

		stopped := make(chan error, 1)
		go func() { stopped <- p.Stop(ctx) }()

		select {
		case err := <-stopped:
			t.Fatalf("\nwanted:\nStop to wait for the start in progress\ngot:\n%v", err)
		case <-time.After(100 * time.Millisecond):
		}

		close(check.release)

		if err := <-stopped; err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if err := <-ensured; !errors.Is(err, ErrStopped) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrStopped, err)
		}

		snapshot := p.Snapshot()
		if snapshot.Launches != 0 {
			t.Fatalf("\nwanted:\n0 launches\ngot:\n%d", snapshot.Launches)
		}
		if snapshot.PID != 0 {
			t.Fatalf("\nwanted:\nno pid\ngot:\n%d", snapshot.PID)
		}
		if state := p.State(); state == Starting || state == Ready {
			t.Fatalf("\nwanted:\nnot running\ngot:\n%v", state)
		}
		if recorder.count(EventLaunched) != 0 {
			t.Fatalf("\nwanted:\n0 launched\ngot:\n%d", recorder.count(EventLaunched))
		}
	})
}
