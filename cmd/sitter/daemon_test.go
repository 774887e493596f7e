package main

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPidFileWriteRemove(t *testing.T) {
	tempDir := t.TempDir()
	pidFile := filepath.Join(tempDir, "test_daemon.pid")

	if err := writePidFile(pidFile, 4242); err != nil {
		t.Fatalf("writePidFile failed: %v", err)
	}
	b, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if string(b) != "4242" {
		t.Fatalf("pid file = %q", b)
	}

	if err := removePidFile(pidFile); err != nil {
		t.Fatalf("removePidFile failed: %v", err)
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Fatal("PID file was not removed")
	}
	if err := removePidFile(""); err != nil {
		t.Fatalf("empty path must be a no-op: %v", err)
	}
}

func TestLockPidFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "nested", "sitter.pid")

	lock, err := lockPidFile(pidFile)
	if err != nil {
		t.Fatalf("lockPidFile: %v", err)
	}
	b, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if string(b) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("pid file = %q, want own pid", b)
	}

	if _, err := lockPidFile(pidFile); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second lock: got %v, want ErrAlreadyRunning", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := lockPidFile(pidFile)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	_ = again.Release()
}

func TestDaemonArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		pid  string
		want []string
	}{
		{
			name: "strip daemonize",
			args: []string{"run", "--daemonize", "--config", "/etc/sitter.toml"},
			want: []string{"run", "--config", "/etc/sitter.toml"},
		},
		{
			name: "replace pidfile and drop logfile",
			args: []string{"run", "--daemonize=true", "--pidfile", "/old.pid", "--logfile=/var/log/s.log"},
			pid:  "/run/sitter.pid",
			want: []string{"run", "--pidfile", "/run/sitter.pid"},
		},
		{
			name: "positional config kept",
			args: []string{"run", "/etc/sitter.toml", "--daemonize"},
			want: []string{"run", "/etc/sitter.toml"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := daemonArgs(tt.args, tt.pid)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("daemonArgs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
