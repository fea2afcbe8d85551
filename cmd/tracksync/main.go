// Command tracksync turns playlist exports into folders of tagged audio.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tracksync/tracksync-go/internal/config"
	"github.com/tracksync/tracksync-go/internal/errors"
	"github.com/tracksync/tracksync-go/internal/monitoring"
	"github.com/tracksync/tracksync-go/internal/store"
)

var version = "dev"

// Exit codes
const (
	exitOK                = 0
	exitFailure           = 1
	exitMissingDependency = 2
)

// app carries what every subcommand needs once the root command has run
type app struct {
	configPath string
	logLevel   string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
	stdout io.Writer
	stderr io.Writer
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if a.logger != nil {
		a.logger.Sync()
	}
	if err != nil {
		fmt.Fprintln(stderr, color.RedString("error: %v", err))
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.IsMissingDependency(err):
		return exitMissingDependency
	default:
		return exitFailure
	}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tracksync",
		Short:         "Download a playlist export as tagged audio files",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Settings file (default: the per-user settings.json)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override the configured log level")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Also log to the console")

	cmd.AddCommand(
		newRunCmd(a),
		newArtworkCmd(a),
		newHistoryCmd(a),
		newDoctorCmd(a),
		newConfigCmd(a),
	)
	return cmd
}

// setup loads settings and builds the logger. A broken settings file is a
// warning: Load always returns usable defaults.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		fmt.Fprintln(a.stderr, color.YellowString("warning: %v", err))
	}
	a.cfg = cfg

	logCfg := monitoring.LogConfig(cfg.Logging)
	if logCfg.FilePath == "" {
		logCfg.FilePath = monitoring.DefaultLogConfig(config.GetDataDir()).FilePath
	}
	if a.logLevel != "" {
		logCfg.Level = a.logLevel
	}
	if a.verbose {
		logCfg.Output = "both"
		logCfg.Format = "console"
	}

	logger, err := monitoring.NewLogger(&logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger.With(zap.String("version", version))
	return nil
}

// openHistory opens the history store, or returns nil when history is disabled
func (a *app) openHistory() (*store.HistoryStore, func(), error) {
	if !a.cfg.History.Enabled {
		return nil, func() {}, nil
	}

	path := a.cfg.History.DBPath
	if path == "" {
		path = filepath.Join(config.GetDataDir(), "data", "history.db")
	}
	hs, err := store.OpenHistory(path)
	if err != nil {
		return nil, nil, errors.NewFileSystemError("failed to open history database", err)
	}
	return hs, func() { hs.Close() }, nil
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.stdout, format, args...)
}
