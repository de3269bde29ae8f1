// Package hooks runs an optional Lua script around every forwarded request.
//
// The script may define two global functions:
//
//	function on_request(req)  -- req = {method, path, headers, body}
//	function on_response(res) -- res = {status, headers, body}
//
// Both may return a table. {headers = {...}} sets headers on the request or response,
// and on_request may return {reject = "message", status = 403} to answer the caller
// without contacting the backend. body is the decoded JSON body.
//
// Scripts can write to the gateway log with log(level, message). print(...) writes at INFO.
package hooks

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"
	"github.com/Shopify/goluago/util"
)

// ErrRejected is matched by the error returned when on_request rejects a request.
var ErrRejected = errors.New("request rejected by hook")

// Rejection is returned by on_request to short-circuit a request.
type Rejection struct {
	Status  int
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("request rejected by hook : %s", r.Message)
}

func (r *Rejection) Is(target error) bool {
	return target == ErrRejected
}

// Request is the view of an inbound request handed to on_request.
type Request struct {
	Method  string
	Path    string
	Headers http.Header
	Body    any
}

// Response is the view of a backend response handed to on_response.
type Response struct {
	Status  int
	Headers http.Header
	Body    any
}

// Result is what a hook asked for. A zero Result means nothing changes.
type Result struct {
	Headers map[string]string
	Reject  *Rejection
}

// sandboxed globals removed from every state.
var restrictedGlobals = []string{"os", "io", "dofile", "loadfile", "require", "package", "debug"}

// LogFunc receives the entries a script writes through log and print.
type LogFunc func(level, message string)

var logLevels = []string{"DEBUG", "INFO", "WARN", "ERROR"}

// Engine owns the Lua state. A lua.State is not safe for concurrent use so every call holds mu.
type Engine struct {
	mu     sync.Mutex
	path   string
	source string
	state  *lua.State

	logMu sync.RWMutex
	logFn LogFunc
}

// Load compiles the script at path.
func Load(path string) (*Engine, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading hook script : %w", err)
	}

	engine, err := LoadString(string(source))
	if err != nil {
		return nil, err
	}
	engine.path = path
	return engine, nil
}

// LoadString compiles a script held in memory.
func LoadString(source string) (*Engine, error) {
	engine := &Engine{source: source}
	state, err := engine.newState(source)
	if err != nil {
		return nil, err
	}
	engine.state = state
	return engine, nil
}

func (e *Engine) newState(source string) (*lua.State, error) {
	l := lua.NewState()
	lua.OpenLibraries(l)

	for _, global := range restrictedGlobals {
		l.PushNil()
		l.SetGlobal(global)
	}

	l.Register("log", func(l *lua.State) int {
		level := strings.ToUpper(lua.CheckString(l, 1))
		message := lua.CheckString(l, 2)
		if !slices.Contains(logLevels, level) {
			lua.Errorf(l, "invalid log level %s", level)
		}
		e.log(level, message)
		return 0
	})
	l.Register("print", func(l *lua.State) int {
		n := l.Top()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			if str, ok := lua.ToStringMeta(l, i); ok {
				parts = append(parts, str)
			} else {
				parts = append(parts, lua.TypeNameOf(l, i))
			}
		}
		e.log("INFO", strings.Join(parts, "\t"))
		return 0
	})

	if err := lua.DoString(l, source); err != nil {
		return nil, fmt.Errorf("loading hook script : %w", err)
	}
	return l, nil
}

// SetLogFunc routes script log entries to fn. Entries are dropped while no function is set.
func (e *Engine) SetLogFunc(fn LogFunc) {
	e.logMu.Lock()
	e.logFn = fn
	e.logMu.Unlock()
}

func (e *Engine) log(level, message string) {
	e.logMu.RLock()
	fn := e.logFn
	e.logMu.RUnlock()
	if fn != nil {
		fn(level, message)
	}
}

// Path returns the file the engine was loaded from, empty for LoadString engines.
func (e *Engine) Path() string {
	return e.path
}

// Reload reads the script file again. On error the previous script stays active.
func (e *Engine) Reload() error {
	if e.path == "" {
		return errors.New("hook script was not loaded from a file")
	}

	source, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("reading hook script : %w", err)
	}

	state, err := e.newState(string(source))
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.state = state
	e.source = string(source)
	e.mu.Unlock()
	return nil
}

// OnRequest runs on_request. A rejection is returned both in the Result and as an error matching ErrRejected.
func (e *Engine) OnRequest(req Request) (Result, error) {
	arg := map[string]any{
		"method":  req.Method,
		"path":    req.Path,
		"headers": flattenHeaders(req.Headers),
	}
	if req.Body != nil {
		arg["body"] = req.Body
	}

	result, err := e.call("on_request", arg)
	if err != nil {
		return Result{}, err
	}
	if result.Reject != nil {
		return result, result.Reject
	}
	return result, nil
}

// OnResponse runs on_response. Rejections are ignored for responses.
func (e *Engine) OnResponse(res Response) (Result, error) {
	arg := map[string]any{
		"status":  res.Status,
		"headers": flattenHeaders(res.Headers),
	}
	if res.Body != nil {
		arg["body"] = res.Body
	}

	result, err := e.call("on_response", arg)
	result.Reject = nil
	return result, err
}

func (e *Engine) call(name string, arg map[string]any) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l := e.state
	l.Global(name)
	if !l.IsFunction(-1) {
		l.Pop(1)
		return Result{}, nil
	}

	util.DeepPush(l, arg)
	if err := l.ProtectedCall(1, 1, 0); err != nil {
		l.Pop(1)
		return Result{}, fmt.Errorf("calling %s : %w", name, err)
	}
	defer l.Pop(1)

	if !l.IsTable(-1) {
		return Result{}, nil
	}

	value, err := util.PullTable(l, l.Top())
	if err != nil {
		return Result{}, fmt.Errorf("reading %s result : %w", name, err)
	}

	table, ok := value.(map[string]any)
	if !ok {
		return Result{}, nil
	}
	return parseResult(table), nil
}

func parseResult(table map[string]any) Result {
	var result Result

	if headers, ok := table["headers"].(map[string]any); ok {
		result.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			result.Headers[k] = fmt.Sprint(v)
		}
	}

	if message, ok := table["reject"].(string); ok {
		status := http.StatusForbidden
		if code, ok := table["status"].(float64); ok && code >= 400 && code < 600 {
			status = int(code)
		}
		result.Reject = &Rejection{Status: status, Message: message}
	}

	return result
}

func flattenHeaders(headers http.Header) map[string]any {
	flat := make(map[string]any, len(headers))
	for k := range headers {
		flat[k] = headers.Get(k)
	}
	return flat
}
