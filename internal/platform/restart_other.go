//go:build !unix

package platform

import "errors"

// Reexec is unavailable without exec(2); the caller falls back to
// exiting with ExitRestart and relies on the service manager.
func Reexec() error {
	return errors.New("re-exec not supported on this platform")
}
