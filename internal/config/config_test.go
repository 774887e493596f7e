package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sitter/internal/controller"
	"github.com/loykin/sitter/internal/logger"
	"github.com/loykin/sitter/internal/supervisor"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "sitter.toml")
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return file
}

func TestLoad_MinimalUsesDefaults(t *testing.T) {
	file := writeConfig(t, `
[supervisor]
services = ["apache2", "rabbitmq-server"]

[notify]
dry_run = true
`)
	cfg, err := Load(file)
	require.NoError(t, err)

	sc := cfg.SupervisorConfig()
	assert.Equal(t, []string{"apache2", "rabbitmq-server"}, sc.Services)
	assert.Equal(t, 300*time.Second, sc.CheckInterval)
	assert.Equal(t, 1500*time.Second, sc.HeartbeatInterval)
	assert.Equal(t, 120*time.Second, sc.ConfirmInterval)
	assert.Equal(t, 3, sc.MaxRetries)
	assert.Equal(t, supervisor.ShutdownGraceful, sc.ShutdownMode)

	cc := cfg.ControllerConfig()
	assert.Equal(t, controller.TypeSystemctl, cc.Type)
	assert.Equal(t, "systemctl", cc.Binary)
	assert.Equal(t, controller.DefaultTimeout, cc.Timeout)

	lc := cfg.LoggerConfig()
	assert.Equal(t, logger.LevelInfo, lc.Slog.Level)
	assert.Equal(t, logger.DefaultMaxSizeMB, lc.File.MaxSizeMB)
	assert.Empty(t, lc.File.Path)

	nc := cfg.NotifyConfig("web01")
	assert.True(t, nc.DryRun)
	assert.Nil(t, nc.SMTP)
	assert.Nil(t, nc.Webhook)
}

func TestLoad_Full(t *testing.T) {
	file := writeConfig(t, `
[supervisor]
services = ["nginx"]
check_interval = "5s"
heartbeat_interval = "1m"
confirm_interval = "2s"
max_retries = 5
shutdown_mode = "immediate"
hostname = "web01"

[controller]
type = "command"
status_command = "service {name} status"
restart_command = "service {name} restart"
timeout = "3s"

[notify.smtp]
host = "smtp.example.com"
port = 2525
from = "sitter@example.com"
to = ["ops@example.com", "oncall@example.com"]
tls = "opportunistic"

[notify.webhook]
url = "https://hooks.example.com/sitter"
headers = { Authorization = "Bearer x" }

[log]
level = "debug"
format = "json"
file = "/var/log/sitter.log"
max_backups = 9

[metrics]
enabled = true
listen = ":9100"

[history]
enabled = true
dsn = "sqlite://:memory:"

[server]
listen = "127.0.0.1:8080"
base_path = "/sitter"

[server.tls]
enabled = true
dir = "/etc/sitter/tls"
auto_generate = true
min_version = "1.2"

[daemon]
pidfile = "/tmp/sitter.pid"
`)
	cfg, err := Load(file)
	require.NoError(t, err)

	sc := cfg.SupervisorConfig()
	assert.Equal(t, 5*time.Second, sc.CheckInterval)
	assert.Equal(t, time.Minute, sc.HeartbeatInterval)
	assert.Equal(t, 2*time.Second, sc.ConfirmInterval)
	assert.Equal(t, 5, sc.MaxRetries)
	assert.Equal(t, supervisor.ShutdownImmediate, sc.ShutdownMode)
	assert.Equal(t, "web01", cfg.Hostname())

	cc := cfg.ControllerConfig()
	assert.Equal(t, controller.TypeCommand, cc.Type)
	assert.Equal(t, "service {name} status", cc.StatusCommand)
	assert.Equal(t, 3*time.Second, cc.Timeout)

	nc := cfg.NotifyConfig("web01")
	require.NotNil(t, nc.SMTP)
	assert.Equal(t, 2525, nc.SMTP.Port)
	assert.Equal(t, []string{"ops@example.com", "oncall@example.com"}, nc.SMTP.To)
	assert.Equal(t, "opportunistic", nc.SMTP.TLS)
	require.NotNil(t, nc.Webhook)
	assert.Equal(t, "web01", nc.Webhook.Host)
	// viper lower-cases map keys; HTTP header names are case-insensitive.
	assert.Equal(t, "Bearer x", nc.Webhook.Headers["authorization"])

	lc := cfg.LoggerConfig()
	assert.Equal(t, logger.FormatJSON, lc.Slog.Format)
	assert.Equal(t, 9, lc.File.MaxBackups)
	assert.Equal(t, "/var/log/sitter.log", lc.File.Path)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.Listen)
	assert.Equal(t, "sqlite://:memory:", cfg.History.DSN)
	assert.Equal(t, "/sitter", cfg.Server.BasePath)
	assert.Equal(t, "/tmp/sitter.pid", cfg.Daemon.PIDFile)

	tc := cfg.TLSConfig()
	assert.True(t, tc.Enabled)
	assert.True(t, tc.AutoGenerate)
	assert.Equal(t, "/etc/sitter/tls", tc.Dir)
	assert.Equal(t, "1.2", tc.MinVersion)
}

func TestLoad_EnvFilesAndOverrides(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "secrets.env"), []byte("SITTER_NOTIFY_SMTP_PASSWORD=s3cret\n# comment\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(dir, "sitter.toml")
	data := `
env_files = ["secrets.env"]

[supervisor]
services = ["apache2"]

[notify.smtp]
host = "smtp.example.com"
from = "sitter@example.com"
to = ["ops@example.com"]
`
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SITTER_SUPERVISOR_MAX_RETRIES", "7")
	// godotenv.Load writes into the process env; make sure the key is restored.
	t.Setenv("SITTER_NOTIFY_SMTP_PASSWORD", "")
	require.NoError(t, os.Unsetenv("SITTER_NOTIFY_SMTP_PASSWORD"))

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Supervisor.MaxRetries)
	assert.Equal(t, "s3cret", cfg.Notify.SMTP.Password)
}

func TestLoad_MissingEnvFile(t *testing.T) {
	file := writeConfig(t, `
env_files = ["nope.env"]
[supervisor]
services = ["apache2"]
[notify]
dry_run = true
`)
	_, err := Load(file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "env files")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{"no services", "[notify]\ndry_run = true\n", "no services"},
		{"duplicate services", "[supervisor]\nservices = [\"a\", \"a\"]\n[notify]\ndry_run = true\n", "duplicate"},
		{"zero retries", "[supervisor]\nservices = [\"a\"]\nmax_retries = 0\n[notify]\ndry_run = true\n", "max_retries"},
		{"negative interval", "[supervisor]\nservices = [\"a\"]\ncheck_interval = \"-1s\"\n[notify]\ndry_run = true\n", "check_interval"},
		{"bad shutdown mode", "[supervisor]\nservices = [\"a\"]\nshutdown_mode = \"later\"\n[notify]\ndry_run = true\n", "shutdown mode"},
		{"bad controller", "[supervisor]\nservices = [\"a\"]\n[controller]\ntype = \"upstart\"\n[notify]\ndry_run = true\n", "controller type"},
		{"command without placeholder", "[supervisor]\nservices = [\"a\"]\n[controller]\ntype = \"command\"\nstatus_command = \"true\"\nrestart_command = \"true\"\n[notify]\ndry_run = true\n", "{name}"},
		{"bad log level", "[supervisor]\nservices = [\"a\"]\n[log]\nlevel = \"loud\"\n[notify]\ndry_run = true\n", "log level"},
		{"no notify channel", "[supervisor]\nservices = [\"a\"]\n", "notify"},
		{"smtp without recipients", "[supervisor]\nservices = [\"a\"]\n[notify.smtp]\nhost = \"h\"\nfrom = \"a@b.c\"\n", "recipient"},
		{"smtp bad tls", "[supervisor]\nservices = [\"a\"]\n[notify.smtp]\nhost = \"h\"\nfrom = \"a@b.c\"\nto = [\"x@y.z\"]\ntls = \"maybe\"\n", "tls"},
		{"webhook not http", "[supervisor]\nservices = [\"a\"]\n[notify.webhook]\nurl = \"ftp://x\"\n", "webhook"},
		{"tls without certificates", "[supervisor]\nservices = [\"a\"]\n[notify]\ndry_run = true\n[server.tls]\nenabled = true\n", "tls: enabled"},
		{"history without dsn", "[supervisor]\nservices = [\"a\"]\n[notify]\ndry_run = true\n[history]\nenabled = true\n", "history.dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.toml))
			require.Error(t, err)
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestHostnameFallsBackToOS(t *testing.T) {
	cfg := &Config{}
	assert.NotEmpty(t, cfg.Hostname())
	assert.Equal(t, supervisor.DefaultHostname(), cfg.Hostname())
}
