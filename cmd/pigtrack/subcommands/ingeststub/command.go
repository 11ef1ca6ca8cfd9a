// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package ingeststub implements 'pigtrack ingest-stub'.
package ingeststub

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/pigtrack/pigtrack/cmd/pigtrack/command"
	"github.com/pigtrack/pigtrack/pkg/config"
	"github.com/pigtrack/pigtrack/pkg/ingeststub"
)

// Commands returns the ingest-stub commands.
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	stubCmd := &cobra.Command{
		Use:   "ingest-stub",
		Short: "Run a local stand-in for the ingest endpoint",
		Long:  "Serves POST /ingest with Idempotency-Key deduplication, for local development loops.",
		RunE: func(*cobra.Command, []string) error {
			if err := command.Bootstrap(globalParams); err != nil {
				return err
			}
			ctx, stop := command.SignalContext()
			defer stop()

			err := ingeststub.New(config.Pigtrack.GetString("ingest_stub_addr")).Run(ctx)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
	}
	return []*cobra.Command{stubCmd}
}
