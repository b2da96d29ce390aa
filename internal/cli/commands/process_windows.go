//go:build windows

package commands

import (
	"os"
	"time"
)

// FindProcess always succeeds on Windows, so existence checks are best
// effort.
func checkProcessRunning(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

func terminateProcess(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Kill()
}

func waitForProcessExit(pid int, timeout time.Duration) {
	process, err := os.FindProcess(pid)
	if err != nil {
		return
	}

	done := make(chan error, 1)
	go func() {
		_, err := process.Wait()
		done <- err
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}
}
