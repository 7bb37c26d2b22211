package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pqshim/pkg/config"
	"github.com/ajitpratap0/pqshim/pkg/errors"
	"github.com/ajitpratap0/pqshim/pkg/logger"
	"github.com/ajitpratap0/pqshim/pkg/observability"
)

var version = "0.1.0"

// app holds the state shared by every command of one invocation.
type app struct {
	conf       *config.Configuration
	configFile string
	logLevel   string
	trace      bool

	out      io.Writer
	errOut   io.Writer
	shutdown observability.ShutdownFunc
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	root := newRootCommand(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		if path, ok := errors.Detail(err, "path"); ok {
			fmt.Fprintf(os.Stderr, "Error: %v (path %v)\n", err, path)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{
		conf:   config.New(),
		out:    out,
		errOut: errOut,
	}

	root := &cobra.Command{
		Use:   "pqshim",
		Short: "pqshim - Parquet files in, pipeline rows out",
		Long: `pqshim translates between Parquet files and pipeline rows.
It plans row-group aligned splits over local or s3:// paths, decodes them into
rows and writes rows back into Parquet files.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  func(cmd *cobra.Command, args []string) error { return a.setup() },
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return a.teardown() },
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "Path to a YAML job configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides log.level")
	root.PersistentFlags().BoolVar(&a.trace, "trace", false, "Export OpenTelemetry spans to stderr")

	root.AddCommand(
		a.versionCommand(),
		a.planCommand(),
		a.catCommand(),
		a.schemaCommand(),
		a.copyCommand(),
		a.configCommand(),
	)
	return root
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "pqshim v%s\n", version)
			fmt.Fprintf(a.out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(a.out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// setup loads the configuration file and starts logging and tracing.
func (a *app) setup() error {
	if a.configFile != "" {
		if err := a.conf.LoadFile(a.configFile); err != nil {
			return err
		}
	}
	if a.logLevel != "" {
		a.conf.Set(config.KeyLogLevel, a.logLevel)
	}

	level, _ := a.conf.Get(config.KeyLogLevel)
	if err := logger.Init(logger.Config{Level: level, Encoding: "console"}); err != nil {
		return err
	}

	tracing := observability.DefaultTracingConfig()
	tracing.ServiceVersion = version
	if a.trace {
		tracing.Exporter = "stdout"
		tracing.Writer = a.errOut
	}
	shutdown, err := observability.InitTracing(tracing)
	if err != nil {
		return err
	}
	a.shutdown = shutdown
	return nil
}

func (a *app) teardown() error {
	if a.shutdown != nil {
		if err := a.shutdown(context.Background()); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}
	_ = logger.Sync()
	return nil
}
