// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package command holds the root command assembly and the startup plumbing
// shared by every pigtrack subcommand.
package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/pigtrack/pigtrack/pkg/config"
	"github.com/pigtrack/pigtrack/pkg/db"
	"github.com/pigtrack/pigtrack/pkg/refdata"
	"github.com/pigtrack/pigtrack/pkg/util/log"
)

// LoggerName tags every log line emitted by the binary.
const LoggerName config.LoggerName = "PIGTRACK"

// GlobalParams carries the persistent flags into subcommand constructors.
type GlobalParams struct {
	// ConfPath is the path to an optional pigtrack.yaml.
	ConfPath string

	// LogLevel overrides the configured log level when non-empty.
	LogLevel string

	// NoColor disables colored terminal output.
	NoColor bool
}

// SubcommandFactory builds the cobra commands one subcommand package
// contributes to the root.
type SubcommandFactory func(*GlobalParams) []*cobra.Command

// MakeCommand assembles the root pigtrack command.
func MakeCommand(factories []SubcommandFactory) *cobra.Command {
	globalParams := &GlobalParams{}

	rootCmd := &cobra.Command{
		Use:           "pigtrack",
		Short:         "Pipeline pig tracking and notification service",
		Long:          "pigtrack watches in-line inspection tools moving through a pipeline and delivers approved milestone notifications to an ingest endpoint.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if globalParams.NoColor {
				color.NoColor = true
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&globalParams.ConfPath, "cfgpath", "c", "", "path to the pigtrack.yaml configuration file")
	rootCmd.PersistentFlags().StringVarP(&globalParams.LogLevel, "log-level", "l", "", "override the configured log level")
	rootCmd.PersistentFlags().BoolVarP(&globalParams.NoColor, "no-color", "n", false, "disable color output")

	for _, factory := range factories {
		rootCmd.AddCommand(factory(globalParams)...)
	}
	return rootCmd
}

// Bootstrap loads the configuration and installs the process logger. Every
// subcommand that does real work calls it first.
func Bootstrap(globalParams *GlobalParams) error {
	if globalParams.ConfPath != "" {
		config.Pigtrack.SetConfigFile(globalParams.ConfPath)
	} else {
		config.Pigtrack.AddConfigPath(".")
		config.Pigtrack.AddConfigPath("/etc/pigtrack")
	}
	if err := config.Load(); err != nil {
		return fmt.Errorf("unable to load configuration: %w", err)
	}
	level := globalParams.LogLevel
	if level == "" {
		level = config.Pigtrack.GetString("log_level")
	}
	if err := config.SetupLogger(LoggerName, level, config.Pigtrack.GetString("log_file")); err != nil {
		return fmt.Errorf("unable to set up logger: %w", err)
	}
	return nil
}

// OpenDB connects to the configured Postgres and, when pg_auto_migrate is
// set, applies pending migrations.
func OpenDB(ctx context.Context) (*sqlx.DB, error) {
	pool, err := db.Open(ctx, config.Pigtrack.GetString("pg_dsn"))
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if config.Pigtrack.GetBool("pg_auto_migrate") {
		if err := db.Migrate(pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}
	return pool, nil
}

// LoadReferenceData builds the reference provider from the configured CSVs,
// logging any lenient-mode row warnings.
func LoadReferenceData() (*refdata.Provider, error) {
	provider, err := refdata.Load(
		config.Pigtrack.GetString("ref_gc_kp_csv"),
		config.Pigtrack.GetString("ref_pois_csv"),
		config.Pigtrack.GetString("ref_gaps_csv"),
		config.Pigtrack.GetBool("ref_strict"),
	)
	if err != nil {
		return nil, fmt.Errorf("load reference data: %w", err)
	}
	for _, warn := range provider.Warnings() {
		log.Warnf("reference data: %v", warn)
	}
	log.Infof("reference data: %d channel mappings, %d POIs on %d routes, %d gap points",
		len(provider.GCToKP()), len(provider.POIs()), len(provider.Routes()), len(provider.Gaps()))
	return provider, nil
}

// SignalContext returns a context canceled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Teardown flushes logs before the process exits.
func Teardown() {
	log.Flush()
}
