package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loykin/sitter"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "/etc/sitter/sitter.toml"

var errInactive = errors.New("one or more services are not active")

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags holds flags for the run command
type RunFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags),
		createCheckCommand(globalFlags),
		createNotifyTestCommand(globalFlags),
		createValidateCommand(globalFlags),
		createVersionCommand(),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "sitter",
		Short: "Keep systemd services running and tell a human when they won't",
		Long: `Sitter periodically checks a fixed set of services, restarts inactive
ones a bounded number of times and notifies the operator when the restart
budget is exhausted. A periodic heartbeat proves the sitter itself is alive.

Examples:
  sitter run --config=/etc/sitter/sitter.toml
  sitter run --daemonize             # detach; pidfile from [daemon].pidfile
  sitter check                       # one-shot status, no restarts
  sitter notify-test                 # send a test notification`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", defaultConfigPath, "path to TOML config file")
	return root
}

func configPath(flags *GlobalFlags, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return flags.ConfigPath
}

func createRunCommand(globalFlags *GlobalFlags) *cobra.Command {
	runFlags := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run [config.toml]",
		Short: "Run the supervisor loop until SIGTERM, SIGHUP or SIGINT",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervisor(cmd.Context(), configPath(globalFlags, args), runFlags)
		},
	}
	cmd.Flags().BoolVar(&runFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&runFlags.PidFile, "pidfile", "", "pid file, overrides [daemon].pidfile")
	cmd.Flags().StringVar(&runFlags.LogFile, "logfile", "", "redirect daemon stdout/stderr to file, overrides [daemon].logfile")
	return cmd
}

func runSupervisor(parent context.Context, path string, flags *RunFlags) error {
	cfg, err := sitter.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	pidFile := flags.PidFile
	if pidFile == "" {
		pidFile = cfg.Daemon.PIDFile
	}
	if flags.Daemonize {
		logFile := flags.LogFile
		if logFile == "" {
			logFile = cfg.Daemon.LogFile
		}
		return daemonize(pidFile, logFile)
	}

	if pidFile != "" {
		lock, err := lockPidFile(pidFile)
		if err != nil {
			return err
		}
		defer func() { _ = lock.Release() }()
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT)
	defer stop()

	s, err := sitter.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return s.Run(ctx)
}

func createCheckCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check [config.toml]",
		Short: "Query every configured service once without restarting anything",
		Long: `Query every configured service once and print its state.
Exits non-zero when any service is not active.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := sitter.LoadConfig(configPath(globalFlags, args))
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			s, err := sitter.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "SERVICE\tSTATE")
			inactive := 0
			for _, r := range s.Check(cmd.Context()) {
				st := "active"
				if !r.Active {
					st = "inactive"
					inactive++
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\n", r.Name, st)
			}
			_ = w.Flush()
			if inactive > 0 {
				return fmt.Errorf("%w (%d)", errInactive, inactive)
			}
			return nil
		},
	}
}

func createNotifyTestCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "notify-test [config.toml]",
		Short: "Send a test notification through the configured channels",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := sitter.LoadConfig(configPath(globalFlags, args))
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			s, err := sitter.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			if err := s.NotifyTest(cmd.Context()); err != nil {
				return fmt.Errorf("test notification failed: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "test notification delivered")
			return nil
		},
	}
}

func createValidateCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [config.toml]",
		Short: "Load and validate the configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(globalFlags, args)
			cfg, err := sitter.LoadConfig(path)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d services, controller %s)\n",
				path, len(cfg.Supervisor.Services), cfg.Controller.Type)
			return nil
		},
	}
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "sitter "+version)
		},
	}
}
