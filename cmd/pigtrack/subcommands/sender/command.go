// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package sender implements 'pigtrack sender'.
package sender

import (
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"

	"github.com/pigtrack/pigtrack/cmd/pigtrack/command"
	"github.com/pigtrack/pigtrack/pkg/config"
	"github.com/pigtrack/pigtrack/pkg/outbox"
	"github.com/pigtrack/pigtrack/pkg/sender"
)

// Commands returns the sender commands.
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	senderCmd := &cobra.Command{
		Use:   "sender",
		Short: "Run the outbox sender workers",
		Long:  "Claims approved notifications from the outbox and POSTs them to the ingest endpoint with retry and dead-lettering.",
		RunE: func(*cobra.Command, []string) error {
			if err := command.Bootstrap(globalParams); err != nil {
				return err
			}
			settings := sender.FromConfig(config.Pigtrack)
			if settings.IngestURL == "" {
				return errors.New("ingest_url is not configured")
			}
			ctx, stop := command.SignalContext()
			defer stop()

			pool, err := command.OpenDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			sender.NewPool(settings, outbox.New(pool), clock.New()).Run(ctx)
			return nil
		},
	}
	return []*cobra.Command{senderCmd}
}
