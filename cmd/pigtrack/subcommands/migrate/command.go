// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package migrate implements 'pigtrack migrate'.
package migrate

import (
	"github.com/spf13/cobra"

	"github.com/pigtrack/pigtrack/cmd/pigtrack/command"
	"github.com/pigtrack/pigtrack/pkg/config"
	"github.com/pigtrack/pigtrack/pkg/db"
)

// Commands returns the migrate commands.
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database schema migrations",
		Long:  ``,
		RunE: func(*cobra.Command, []string) error {
			if err := command.Bootstrap(globalParams); err != nil {
				return err
			}
			ctx, stop := command.SignalContext()
			defer stop()

			pool, err := db.Open(ctx, config.Pigtrack.GetString("pg_dsn"))
			if err != nil {
				return err
			}
			defer pool.Close()
			return db.Migrate(pool)
		},
	}
	return []*cobra.Command{migrateCmd}
}
