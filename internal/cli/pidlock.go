package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

func pidPath(stateDir string) string {
	return filepath.Join(stateDir, "lockwatch.pid")
}

// runningPID returns the PID recorded at path when that process is alive.
func runningPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	return pid, true
}

// acquirePIDLock records this process at path unless a live server holds it.
func acquirePIDLock(path string) error {
	if pid, ok := runningPID(path); ok && pid != os.Getpid() {
		return fmt.Errorf("lockwatch serve is already running (PID %d)", pid)
	}
	// Stale file from a crashed run.
	_ = os.Remove(path)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600)
}

// ensureOffline refuses direct state access while a server owns it.
func ensureOffline(stateDir string) error {
	if pid, ok := runningPID(pidPath(stateDir)); ok && pid != os.Getpid() {
		return fmt.Errorf("lockwatch serve is running (PID %d); stop it before changing credentials", pid)
	}
	return nil
}
