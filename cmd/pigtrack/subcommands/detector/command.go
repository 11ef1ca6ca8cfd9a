// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package detector implements 'pigtrack detector'.
package detector

import (
	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"

	"github.com/pigtrack/pigtrack/cmd/pigtrack/command"
	"github.com/pigtrack/pigtrack/pkg/config"
	"github.com/pigtrack/pigtrack/pkg/detector"
	"github.com/pigtrack/pigtrack/pkg/engine"
	"github.com/pigtrack/pigtrack/pkg/outbox"
	"github.com/pigtrack/pigtrack/pkg/state"
	"github.com/pigtrack/pigtrack/pkg/telemetry"
)

// Commands returns the detector commands.
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	detectorCmd := &cobra.Command{
		Use:   "detector",
		Short: "Run the detection scheduler",
		Long:  "Polls telemetry for every active pig, runs the detection engine, and enqueues selected notifications for approval.",
		RunE: func(*cobra.Command, []string) error {
			if err := command.Bootstrap(globalParams); err != nil {
				return err
			}
			ctx, stop := command.SignalContext()
			defer stop()

			pool, err := command.OpenDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			ref, err := command.LoadReferenceData()
			if err != nil {
				return err
			}

			clk := clock.New()
			eng := engine.New(
				engine.SettingsFromConfig(config.Pigtrack),
				clk,
				ref,
				telemetry.NewStore(pool),
				state.NewStore(pool),
			)
			worker := detector.New(
				detector.FromConfig(config.Pigtrack),
				eng,
				telemetry.NewStore(pool),
				outbox.New(pool),
				clk,
			)
			worker.Run(ctx)
			return nil
		},
	}
	return []*cobra.Command{detectorCmd}
}
