package hooks

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEngine_OnRequest(t *testing.T) {
	t.Run("should return the headers set by on_request", func(t *testing.T) {
		engine, err := LoadString(`
			function on_request(req)
				if req.method == "POST" and req.body.inputType == "url" then
					return {headers = {["X-Note-Source"] = "youtube", ["X-Path"] = req.path}}
				end
			end
		`)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		result, err := engine.OnRequest(Request{
			Method:  "POST",
			Path:    "/api",
			Headers: http.Header{"Content-Type": {"application/json"}},
			Body:    map[string]any{"inputType": "url", "inputValue": "https://youtu.be/abc"},
		})
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		if result.Headers["X-Note-Source"] != "youtube" || result.Headers["X-Path"] != "/api" {
			t.Fatalf("\nwanted:\nyoutube /api\ngot:\n%v", result.Headers)
		}
	})

	t.Run("should reject with the requested status", func(t *testing.T) {
		engine, err := LoadString(`
			function on_request(req)
				if req.headers["X-Api-Key"] ~= "secret" then
					return {reject = "missing api key", status = 401}
				end
			end
		`)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		result, err := engine.OnRequest(Request{Method: "POST", Path: "/api", Headers: http.Header{}})
		if !errors.Is(err, ErrRejected) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrRejected, err)
		}

		if result.Reject == nil || result.Reject.Status != http.StatusUnauthorized || result.Reject.Message != "missing api key" {
			t.Fatalf("\nwanted:\n401 missing api key\ngot:\n%+v", result.Reject)
		}

		_, err = engine.OnRequest(Request{Method: "POST", Path: "/api", Headers: http.Header{"X-Api-Key": {"secret"}}})
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
	})

	t.Run("should default the rejection status to 403", func(t *testing.T) {
		engine, _ := LoadString(`function on_request(req) return {reject = "no"} end`)

		result, _ := engine.OnRequest(Request{Method: "GET", Path: "/api"})
		if result.Reject == nil || result.Reject.Status != http.StatusForbidden {
			t.Fatalf("\nwanted:\n403\ngot:\n%+v", result.Reject)
		}
	})

	t.Run("should do nothing when the hook is not defined", func(t *testing.T) {
		engine, err := LoadString(`local x = 1`)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		result, err := engine.OnRequest(Request{Method: "GET", Path: "/api"})
		if err != nil || result.Headers != nil || result.Reject != nil {
			t.Fatalf("\nwanted:\nempty result\ngot:\n%+v %v", result, err)
		}
	})

	t.Run("should return runtime errors", func(t *testing.T) {
		engine, _ := LoadString(`function on_request(req) error("boom") end`)

		_, err := engine.OnRequest(Request{Method: "GET", Path: "/api"})
		if err == nil || errors.Is(err, ErrRejected) {
			t.Fatalf("\nwanted:\nruntime error\ngot:\n%v", err)
		}
	})
}

func TestEngine_OnResponse(t *testing.T) {
	t.Run("should see the decoded response body", func(t *testing.T) {
		engine, err := LoadString(`
			function on_response(res)
				return {headers = {["X-Video-Title"] = res.body.videoTitle, ["X-Status"] = res.status}}
			end
		`)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		result, err := engine.OnResponse(Response{
			Status:  200,
			Headers: http.Header{},
			Body:    map[string]any{"markdownContent": "# Note", "videoTitle": "Title"},
		})
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		if result.Headers["X-Video-Title"] != "Title" || result.Headers["X-Status"] != "200" {
			t.Fatalf("\nwanted:\nTitle 200\ngot:\n%v", result.Headers)
		}
	})
}

func TestEngine_SetLogFunc(t *testing.T) {
	t.Run("should route log and print to the log function", func(t *testing.T) {
		engine, err := LoadString(`
			function on_request(req)
				log("warn", "slow " .. req.path)
				print("seen", req.method, 2)
			end
		`)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		var got []string
		engine.SetLogFunc(func(level, message string) {
			got = append(got, level+" "+message)
		})

		if _, err := engine.OnRequest(Request{Method: "POST", Path: "/api"}); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		wanted := []string{"WARN slow /api", "INFO seen\tPOST\t2"}
		if len(got) != len(wanted) || got[0] != wanted[0] || got[1] != wanted[1] {
			t.Fatalf("\nwanted:\n%q\ngot:\n%q", wanted, got)
		}
	})

	t.Run("should fail the hook on an unknown level", func(t *testing.T) {
		engine, _ := LoadString(`function on_request(req) log("loud", "x") end`)

		if _, err := engine.OnRequest(Request{Method: "GET", Path: "/"}); err == nil {
			t.Fatalf("\nwanted:\nerror\ngot:\nnil")
		}
	})

	t.Run("should drop entries without a log function", func(t *testing.T) {
		engine, _ := LoadString(`function on_request(req) print("nobody listens") end`)

		if _, err := engine.OnRequest(Request{Method: "GET", Path: "/"}); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
	})
}

func TestLoad(t *testing.T) {
	t.Run("should fail on invalid lua", func(t *testing.T) {
		if _, err := LoadString(`function (`); err == nil {
			t.Fatalf("\nwanted:\nerror\ngot:\nnil")
		}
	})

	t.Run("should remove restricted globals", func(t *testing.T) {
		engine, err := LoadString(`
			function on_request(req)
				if os == nil and io == nil and require == nil then
					return {headers = {sandboxed = "yes"}}
				end
			end
		`)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		result, _ := engine.OnRequest(Request{Method: "GET", Path: "/"})
		if result.Headers["sandboxed"] != "yes" {
			t.Fatalf("\nwanted:\nyes\ngot:\n%v", result.Headers)
		}
	})

	t.Run("should fail for a missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "missing.lua")); err == nil {
			t.Fatalf("\nwanted:\nerror\ngot:\nnil")
		}
	})
}

func TestEngine_Watch(t *testing.T) {
	t.Run("should reload the script when the file changes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "hooks.lua")
		write := func(version string) {
			script := `function on_request(req) return {headers = {["X-Version"] = "` + version + `"}} end`
			if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
				t.Fatalf("writing script: %v", err)
			}
		}
		write("1")

		engine, err := Load(path)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		reloaded := make(chan error, 16)
		go engine.Watch(ctx, func(err error) { reloaded <- err })

		// give the watcher time to register the directory
		time.Sleep(100 * time.Millisecond)
		write("2")

		deadline := time.After(5 * time.Second)
		for {
			result, _ := engine.OnRequest(Request{Method: "GET", Path: "/"})
			if result.Headers["X-Version"] == "2" {
				return
			}
			select {
			case <-deadline:
				t.Fatalf("\nwanted:\n2\ngot:\n%v", result.Headers["X-Version"])
			case <-reloaded:
			case <-time.After(50 * time.Millisecond):
			}
		}
	})

	t.Run("should keep the previous script when the new one is invalid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "hooks.lua")
		os.WriteFile(path, []byte(`function on_request(req) return {headers = {ok = "1"}} end`), 0o644)

		engine, err := Load(path)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		os.WriteFile(path, []byte(`function (`), 0o644)
		if err := engine.Reload(); err == nil {
			t.Fatalf("\nwanted:\nerror\ngot:\nnil")
		}

		result, _ := engine.OnRequest(Request{Method: "GET", Path: "/"})
		if result.Headers["ok"] != "1" {
			t.Fatalf("\nwanted:\n1\ngot:\n%v", result.Headers)
		}
	})
}
