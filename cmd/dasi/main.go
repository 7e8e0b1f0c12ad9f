package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/maxiofs/dasi/internal/config"
	"github.com/maxiofs/dasi/internal/logging"
	"github.com/maxiofs/dasi/internal/metrics"
	"github.com/maxiofs/dasi/pkg/dasi"
	"github.com/maxiofs/dasi/pkg/engine/local"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}

// app carries what every subcommand shares
type app struct {
	cli     *config.CLIConfig
	logs    *logging.Manager
	metrics metrics.Manager
}

func newRootCmd() *cobra.Command {
	a := &app{
		logs:    logging.NewManager(logrus.New()),
		metrics: metrics.NewManager(metrics.MetricsConfig{Enabled: true, Namespace: "dasi", Subsystem: "cli"}),
	}

	rootCmd := &cobra.Command{
		Use:   "dasi",
		Short: "dasi - access a schema-governed archival store",
		Long: `dasi archives, retrieves, lists and wipes objects described by keys
that follow the schema of the store named in the configuration file.`,
		Version:           fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: a.teardown,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Engine configuration file (DASI_CONFIG)")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", logging.FormatText, "Log format (text, json)")
	rootCmd.PersistentFlags().String("log-file", "", "Also append JSON log lines to this file")
	rootCmd.PersistentFlags().String("log-syslog", "", "Also send logs to syslog at udp://host:port or tcp://host:port")

	rootCmd.AddCommand(
		a.putCmd(),
		a.getCmd(),
		a.listCmd(),
		a.wipeCmd(),
		a.policyCmd(),
		a.schemaCmd(),
		a.infoCmd(),
		initCmd(),
	)
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cli, err := config.LoadCLI(cmd)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	a.cli = cli

	a.logs.SetOutput(cmd.ErrOrStderr())
	return a.logs.Configure(logging.Options{
		Level:  cli.LogLevel,
		Format: cli.LogFormat,
		File:   cli.LogFile,
		Syslog: cli.LogSyslog,
	})
}

func (a *app) teardown(cmd *cobra.Command, args []string) {
	logger := a.logs.Logger()
	if logger.IsLevelEnabled(logrus.DebugLevel) {
		if snapshot, err := a.metrics.Snapshot(); err == nil {
			fields := make(logrus.Fields, len(snapshot))
			for name, value := range snapshot {
				fields[name] = value
			}
			logger.WithFields(fields).Debug("Engine operations")
		}
	}
	a.logs.Close()
}

func (a *app) configPath() (string, error) {
	if a.cli == nil || a.cli.ConfigFile == "" {
		return "", fmt.Errorf("no configuration file: pass --config or set DASI_CONFIG")
	}
	return a.cli.ConfigFile, nil
}

// open starts a session on the configured store
func (a *app) open(ctx context.Context) (*dasi.Session, error) {
	path, err := a.configPath()
	if err != nil {
		return nil, err
	}
	logger := a.logs.Logger()
	driver := local.NewDriver(local.WithLogger(logger), local.WithMetrics(a.metrics))
	return dasi.Open(ctx, driver, dasi.ConfigFile(path), dasi.WithLogger(logger))
}
