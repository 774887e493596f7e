package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/loykin/sitter/internal/controller"
	"github.com/loykin/sitter/internal/logger"
	"github.com/loykin/sitter/internal/notify"
	"github.com/loykin/sitter/internal/supervisor"
	itls "github.com/loykin/sitter/internal/tls"
)

// EnvPrefix prefixes environment overrides, e.g. SITTER_NOTIFY_SMTP_PASSWORD.
const EnvPrefix = "SITTER"

// Config represents the top-level TOML structure.
type Config struct {
	EnvFiles   []string         `toml:"env_files" mapstructure:"env_files"`
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Controller ControllerConfig `toml:"controller" mapstructure:"controller"`
	Notify     NotifyConfig     `toml:"notify" mapstructure:"notify"`
	Log        LogConfig        `toml:"log" mapstructure:"log"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
	History    HistoryConfig    `toml:"history" mapstructure:"history"`
	Server     ServerConfig     `toml:"server" mapstructure:"server"`
	Daemon     DaemonConfig     `toml:"daemon" mapstructure:"daemon"`
}

type SupervisorConfig struct {
	Services          []string      `toml:"services" mapstructure:"services"`
	CheckInterval     time.Duration `toml:"check_interval" mapstructure:"check_interval"`
	HeartbeatInterval time.Duration `toml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	ConfirmInterval   time.Duration `toml:"confirm_interval" mapstructure:"confirm_interval"`
	MaxRetries        int           `toml:"max_retries" mapstructure:"max_retries"`
	ShutdownMode      string        `toml:"shutdown_mode" mapstructure:"shutdown_mode"`
	Hostname          string        `toml:"hostname" mapstructure:"hostname"`
}

type ControllerConfig struct {
	Type           string        `toml:"type" mapstructure:"type"`
	Binary         string        `toml:"binary" mapstructure:"binary"`
	User           bool          `toml:"user" mapstructure:"user"`
	Timeout        time.Duration `toml:"timeout" mapstructure:"timeout"`
	StatusCommand  string        `toml:"status_command" mapstructure:"status_command"`
	RestartCommand string        `toml:"restart_command" mapstructure:"restart_command"`
}

type NotifyConfig struct {
	DryRun  bool          `toml:"dry_run" mapstructure:"dry_run"`
	SMTP    SMTPConfig    `toml:"smtp" mapstructure:"smtp"`
	Webhook WebhookConfig `toml:"webhook" mapstructure:"webhook"`
}

// SMTPConfig is enabled when Host is set.
type SMTPConfig struct {
	Host     string        `toml:"host" mapstructure:"host"`
	Port     int           `toml:"port" mapstructure:"port"`
	Username string        `toml:"username" mapstructure:"username"`
	Password string        `toml:"password" mapstructure:"password"`
	From     string        `toml:"from" mapstructure:"from"`
	To       []string      `toml:"to" mapstructure:"to"`
	TLS      string        `toml:"tls" mapstructure:"tls"`
	Timeout  time.Duration `toml:"timeout" mapstructure:"timeout"`
}

// WebhookConfig is enabled when URL is set.
type WebhookConfig struct {
	URL     string            `toml:"url" mapstructure:"url"`
	Headers map[string]string `toml:"headers" mapstructure:"headers"`
	Timeout time.Duration     `toml:"timeout" mapstructure:"timeout"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	TimeStamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	Source     bool   `toml:"source" mapstructure:"source"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	DSN     string `toml:"dsn" mapstructure:"dsn"`
}

type ServerConfig struct {
	Listen   string    `toml:"listen" mapstructure:"listen"`
	BasePath string    `toml:"base_path" mapstructure:"base_path"`
	TLS      TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig secures the status API listener.
type TLSConfig struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
	MaxVersion   string   `toml:"max_version" mapstructure:"max_version"`
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

type DaemonConfig struct {
	PIDFile string `toml:"pidfile" mapstructure:"pidfile"`
	LogFile string `toml:"logfile" mapstructure:"logfile"`
}

// setDefaults registers every key so that AutomaticEnv can override keys
// absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("env_files", []string{})
	v.SetDefault("supervisor.services", []string{})
	v.SetDefault("supervisor.check_interval", 300*time.Second)
	v.SetDefault("supervisor.heartbeat_interval", 1500*time.Second)
	v.SetDefault("supervisor.confirm_interval", 120*time.Second)
	v.SetDefault("supervisor.max_retries", 3)
	v.SetDefault("supervisor.shutdown_mode", string(supervisor.ShutdownGraceful))
	v.SetDefault("supervisor.hostname", "")

	v.SetDefault("controller.type", controller.TypeSystemctl)
	v.SetDefault("controller.binary", "systemctl")
	v.SetDefault("controller.user", false)
	v.SetDefault("controller.timeout", controller.DefaultTimeout)
	v.SetDefault("controller.status_command", "")
	v.SetDefault("controller.restart_command", "")

	v.SetDefault("notify.dry_run", false)
	v.SetDefault("notify.smtp.host", "")
	v.SetDefault("notify.smtp.port", notify.DefaultSMTPPort)
	v.SetDefault("notify.smtp.username", "")
	v.SetDefault("notify.smtp.password", "")
	v.SetDefault("notify.smtp.from", "")
	v.SetDefault("notify.smtp.to", []string{})
	v.SetDefault("notify.smtp.tls", notify.TLSMandatory)
	v.SetDefault("notify.smtp.timeout", 30*time.Second)
	v.SetDefault("notify.webhook.url", "")
	v.SetDefault("notify.webhook.timeout", 10*time.Second)

	v.SetDefault("log.level", string(logger.LevelInfo))
	v.SetDefault("log.format", string(logger.FormatText))
	v.SetDefault("log.color", false)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.source", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9464")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("server.listen", "")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "")
	v.SetDefault("server.tls.max_version", "")
	v.SetDefault("server.tls.common_name", "")
	v.SetDefault("server.tls.valid_days", 0)
	v.SetDefault("daemon.pidfile", "")
	v.SetDefault("daemon.logfile", "")
}

// Load reads the TOML file at path, loads its env_files into the process
// environment, applies SITTER_* overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	files := v.GetStringSlice("env_files")
	if err := LoadEnvFiles(filepath.Dir(path), files...); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadEnvFiles loads dotenv files into the process environment. Relative
// paths resolve against base. Variables already set are not overwritten.
func LoadEnvFiles(base string, files ...string) error {
	if len(files) == 0 {
		return nil
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		if f == "" {
			continue
		}
		if !filepath.IsAbs(f) && base != "" {
			f = filepath.Join(base, f)
		}
		// Mitigate G304: sanitize user-provided path by cleaning it before use.
		paths = append(paths, filepath.Clean(f))
	}
	if len(paths) == 0 {
		return nil
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// Validate fails fast on any setting the loop could not run with.
func (c *Config) Validate() error {
	var errs []error
	if err := c.SupervisorConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.ControllerConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.LoggerConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Notify.validate(); err != nil {
		errs = append(errs, err)
	}
	if c.History.Enabled && strings.TrimSpace(c.History.DSN) == "" {
		errs = append(errs, errors.New("history.dsn is required when history is enabled"))
	}
	if err := c.TLSConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics.listen is required when metrics are enabled"))
	}
	return errors.Join(errs...)
}

func (n NotifyConfig) validate() error {
	if n.DryRun {
		return nil
	}
	smtpOn, hookOn := n.SMTP.Host != "", n.Webhook.URL != ""
	if !smtpOn && !hookOn {
		return errors.New("notify: configure notify.smtp or notify.webhook, or set notify.dry_run")
	}
	if smtpOn {
		if n.SMTP.From == "" {
			return errors.New("notify.smtp.from is required")
		}
		if len(n.SMTP.To) == 0 {
			return errors.New("notify.smtp.to requires at least one recipient")
		}
		if n.SMTP.Port < 0 || n.SMTP.Port > 65535 {
			return fmt.Errorf("notify.smtp.port %d out of range", n.SMTP.Port)
		}
		switch n.SMTP.TLS {
		case "", notify.TLSMandatory, notify.TLSOpportunistic, notify.TLSNone:
		default:
			return fmt.Errorf("unknown notify.smtp.tls %q", n.SMTP.TLS)
		}
	}
	if hookOn {
		u, err := url.Parse(n.Webhook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("notify.webhook.url %q must be an absolute http(s) URL", n.Webhook.URL)
		}
	}
	return nil
}

// SupervisorConfig converts the [supervisor] section. An empty hostname is
// left for the caller to resolve.
func (c *Config) SupervisorConfig() supervisor.Config {
	return supervisor.Config{
		Services:          c.Supervisor.Services,
		CheckInterval:     c.Supervisor.CheckInterval,
		HeartbeatInterval: c.Supervisor.HeartbeatInterval,
		ConfirmInterval:   c.Supervisor.ConfirmInterval,
		MaxRetries:        c.Supervisor.MaxRetries,
		ShutdownMode:      supervisor.ShutdownMode(strings.ToLower(c.Supervisor.ShutdownMode)),
		Hostname:          c.Supervisor.Hostname,
	}
}

func (c *Config) ControllerConfig() controller.Config {
	return controller.Config{
		Type:           c.Controller.Type,
		Binary:         c.Controller.Binary,
		User:           c.Controller.User,
		Timeout:        c.Controller.Timeout,
		StatusCommand:  c.Controller.StatusCommand,
		RestartCommand: c.Controller.RestartCommand,
	}
}

// NotifyConfig converts the [notify] section; host is reported in webhook payloads.
func (c *Config) NotifyConfig(host string) notify.Config {
	out := notify.Config{DryRun: c.Notify.DryRun}
	if s := c.Notify.SMTP; s.Host != "" {
		out.SMTP = &notify.SMTPConfig{
			Host:     s.Host,
			Port:     s.Port,
			Username: s.Username,
			Password: s.Password,
			From:     s.From,
			To:       s.To,
			TLS:      s.TLS,
			Timeout:  s.Timeout,
		}
	}
	if w := c.Notify.Webhook; w.URL != "" {
		out.Webhook = &notify.WebhookConfig{
			URL:     w.URL,
			Headers: w.Headers,
			Timeout: w.Timeout,
			Host:    host,
		}
	}
	return out
}

func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      logger.Level(c.Log.Level),
			Format:     logger.Format(c.Log.Format),
			Color:      c.Log.Color,
			TimeStamps: c.Log.TimeStamps,
			Source:     c.Log.Source,
		},
		File: logger.FileConfig{
			Path:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

func (c *Config) TLSConfig() itls.Config {
	t := c.Server.TLS
	return itls.Config{
		Enabled:      t.Enabled,
		CertFile:     t.CertFile,
		KeyFile:      t.KeyFile,
		Dir:          t.Dir,
		AutoGenerate: t.AutoGenerate,
		MinVersion:   t.MinVersion,
		MaxVersion:   t.MaxVersion,
		CommonName:   t.CommonName,
		DNSNames:     t.DNSNames,
		ValidDays:    t.ValidDays,
	}
}

// Hostname returns the configured hostname or the host name reported by the OS.
func (c *Config) Hostname() string {
	if c.Supervisor.Hostname != "" {
		return c.Supervisor.Hostname
	}
	return supervisor.DefaultHostname()
}
