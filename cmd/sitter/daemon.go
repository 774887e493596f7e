package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned when another sitter holds the pid file lock.
var ErrAlreadyRunning = errors.New("another sitter instance holds the pid file")

// daemonize starts the process as a daemon in the background. The child
// re-runs the same command without --daemonize and writes the pid file itself.
func daemonize(pidFile string, logFile string) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	newArgs := daemonArgs(os.Args[1:], pidFile)

	// #nosec 204
	cmd := exec.Command(executable, newArgs...)
	configureDaemonAttrs(cmd)
	cmd.Stdin = nil

	if logFile != "" {
		// #nosec 304
		logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer func() { _ = logF.Close() }()
		cmd.Stdout = logF
		cmd.Stderr = logF
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	fmt.Printf("Daemon started with PID %d\n", cmd.Process.Pid)

	// Parent process exits
	os.Exit(0)
	return nil
}

// daemonArgs drops the daemonize/pidfile/logfile flags from args and passes
// the resolved pid file to the child explicitly.
func daemonArgs(args []string, pidFile string) []string {
	var out []string
	skipNext := false
	for _, arg := range args {
		if skipNext {
			skipNext = false
			continue
		}
		switch arg {
		case "--daemonize", "--daemonize=true":
			continue
		case "--pidfile", "--logfile":
			skipNext = true
			continue
		}
		if hasFlagPrefix(arg, "--pidfile=") || hasFlagPrefix(arg, "--logfile=") || hasFlagPrefix(arg, "--daemonize=") {
			continue
		}
		out = append(out, arg)
	}
	if pidFile != "" {
		out = append(out, "--pidfile", pidFile)
	}
	return out
}

func hasFlagPrefix(arg, prefix string) bool {
	return len(arg) >= len(prefix) && arg[:len(prefix)] == prefix
}

// pidLock is an exclusive flock on the pid file for the lifetime of the process.
type pidLock struct {
	path string
	l    *flock.Flock
}

// lockPidFile takes an exclusive lock on pidFile and writes the current pid
// into it. A second instance fails with ErrAlreadyRunning.
func lockPidFile(pidFile string) (*pidLock, error) {
	if err := os.MkdirAll(filepath.Dir(pidFile), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create pid file directory: %w", err)
	}
	l := flock.New(pidFile)
	locked, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock pid file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, pidFile)
	}
	if err := writePidFile(pidFile, os.Getpid()); err != nil {
		_ = l.Unlock()
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}
	return &pidLock{path: pidFile, l: l}, nil
}

// Release removes the pid file and drops the lock.
func (p *pidLock) Release() error {
	err := removePidFile(p.path)
	return errors.Join(err, p.l.Unlock())
}

// writePidFile writes the daemon PID to a file
func writePidFile(pidFile string, pid int) error {
	// #nosec 302
	f, err := os.OpenFile(pidFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.WriteString(strconv.Itoa(pid))
	return err
}

// removePidFile removes the PID file
func removePidFile(pidFile string) error {
	if pidFile == "" {
		return nil
	}
	return os.Remove(pidFile)
}
