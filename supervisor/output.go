package supervisor

import (
	"bytes"
	"sync"
)

const maxLineLength = 64 * 1024

// lineWriter splits process output into lines and hands each complete line to emit.
type lineWriter struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	emit func(line string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimRight(w.buf.Next(idx+1), "\r\n"))
		w.emit(line)
	}

	if w.buf.Len() > maxLineLength {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
	return len(p), nil
}

// Flush emits whatever is left without a trailing newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}
