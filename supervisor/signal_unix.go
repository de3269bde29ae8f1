//go:build !windows

package supervisor

import (
	"os"
)

func interrupt(process *os.Process) error {
	return process.Signal(os.Interrupt)
}
