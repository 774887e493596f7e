package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// helper to close non-nil closers and ignore errors
func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestWriter_StderrWhenNoPath(t *testing.T) {
	w := Config{}.Writer()
	if _, ok := w.(*lj.Logger); ok {
		t.Fatalf("expected stderr writer when no path set")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing stderr writer must be a no-op: %v", err)
	}
}

func TestWriter_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{File: FileConfig{Path: filepath.Join(dir, "sitter.log")}}
	w := cfg.Writer()
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger")
	}
	if l.MaxSize != 10 || l.MaxBackups != 3 || l.MaxAge != 7 || l.Compress {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
	closeIf(w)
}

func TestWriter_Overrides(t *testing.T) {
	cfg := Config{File: FileConfig{Path: "x", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}}
	w := cfg.Writer()
	l := w.(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
	closeIf(w)
}

func TestNewSlogger_WritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sitter.log")
	cfg := Config{Slog: SlogConfig{Level: LevelDebug}, File: FileConfig{Path: path}}
	lg, c := cfg.NewSlogger()
	lg.Debug("checking service", "service", "apache2")
	closeIf(c)

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(b), "service=apache2") {
		t.Fatalf("unexpected log content: %q", b)
	}
	if strings.Contains(string(b), "time=") {
		t.Fatalf("timestamps must be omitted unless enabled: %q", b)
	}
}

func TestHandler_JSONWithTimestamps(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Slog: SlogConfig{Format: FormatJSON, TimeStamps: true}}
	slog.New(cfg.Handler(&buf)).Info("started", "services", 2)

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("not json: %v (%q)", err, buf.String())
	}
	if m["msg"] != "started" || m["services"] != float64(2) {
		t.Fatalf("unexpected record: %v", m)
	}
	if _, ok := m["time"]; !ok {
		t.Fatalf("expected time key: %v", m)
	}
}

func TestHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Slog: SlogConfig{Level: LevelWarn}}
	lg := slog.New(cfg.Handler(&buf))
	lg.Info("hidden")
	lg.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("level filter not applied: %q", buf.String())
	}
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Slog: SlogConfig{Color: true}}
	lg := slog.New(cfg.Handler(&buf)).With("component", "loop")
	lg.Error("send failed")
	out := buf.String()
	if !strings.HasPrefix(out, "\033[31mERROR\033[0m ") {
		t.Fatalf("expected red error prefix: %q", out)
	}
	if strings.Contains(out, `\x1b`) || strings.Contains(out, "level=") {
		t.Fatalf("escape codes must not end up inside the record: %q", out)
	}
	if !strings.Contains(out, `msg="send failed"`) {
		t.Fatalf("message must be written unmodified: %q", out)
	}
	if !strings.Contains(out, "component=loop") {
		t.Fatalf("attrs lost through WithAttrs: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("time must be hidden: %q", out)
	}
}

func TestValidate(t *testing.T) {
	if err := (Config{}).Validate(); err != nil {
		t.Fatalf("zero config must be valid: %v", err)
	}
	if err := (Config{Slog: SlogConfig{Level: "loud"}}).Validate(); err == nil {
		t.Fatalf("expected level error")
	}
	if err := (Config{Slog: SlogConfig{Format: "xml"}}).Validate(); err == nil {
		t.Fatalf("expected format error")
	}
	if lvl, err := ParseLevel("WARNING"); err != nil || lvl != slog.LevelWarn {
		t.Fatalf("ParseLevel(WARNING) = %v, %v", lvl, err)
	}
}

func TestColorTextHandler_ConcurrentLinesStayWhole(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Slog: SlogConfig{Color: true}}
	lg := slog.New(cfg.Handler(&buf))
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			sub := lg.With("worker", "w")
			for j := 0; j < 50; j++ {
				sub.Info("tick")
			}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 200 {
		t.Fatalf("expected 200 lines, got %d", len(lines))
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "\033[32mINFO\033[0m msg=tick worker=w") {
			t.Fatalf("interleaved or malformed line: %q", l)
		}
	}
}
