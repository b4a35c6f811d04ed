package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"telxfwd/internal/privacy"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	envFile    string
	verbose    bool
}

// roles selects which halves of the system a process hosts.
type roles struct {
	supervisor bool
	workers    bool
}

func (r roles) String() string {
	switch {
	case r.supervisor && r.workers:
		return "all"
	case r.supervisor:
		return "supervisor"
	default:
		return "worker"
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "telxfwd",
		Short:         "Telegram and Discord forwarding backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnv(opts.envFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.json", "Path to configuration file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Optional .env file loaded before the configuration")
	root.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")

	root.AddCommand(
		roleCmd("supervisor", "Run the session registry, queue monitor, scheduler and status server", opts, roles{supervisor: true}),
		roleCmd("worker", "Run the queue workers", opts, roles{workers: true}),
		roleCmd("all", "Run supervisor and workers in one process", opts, roles{supervisor: true, workers: true}),
		versionCmd(),
	)
	return root
}

func roleCmd(use, short string, opts *options, r roles) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), *opts, r)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "telxfwd %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		},
	}
}

// loadEnv reads the .env file when it exists. Variables already set in the
// environment win.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func newLogger(verbose bool, level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.AddHook(privacy.Hook{})

	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return logger
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}
