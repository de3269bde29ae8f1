//go:build windows

package supervisor

import (
	"os"
)

// interrupt kills the process since windows has no SIGINT for child processes.
func interrupt(process *os.Process) error {
	return process.Kill()
}
