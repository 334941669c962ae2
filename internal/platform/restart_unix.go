//go:build unix

package platform

import (
	"fmt"
	"os"
	"syscall"
)

// Reexec replaces the running process image with a fresh copy of the
// same binary and arguments. It only returns on failure. All volatile
// state is discarded; only the scratch region carries over.
func Reexec() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", exe, err)
	}
	return nil
}
