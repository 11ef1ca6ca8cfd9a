// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package status implements 'pigtrack status'.
package status

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pigtrack/pigtrack/cmd/pigtrack/command"
	"github.com/pigtrack/pigtrack/pkg/outbox"
	"github.com/pigtrack/pigtrack/pkg/state"
)

const deadLetterLimit = 10

// Commands returns the status commands.
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print outbox and pig state overview",
		Long:  ``,
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
			return printStatus(ctx, outbox.New(pool), state.NewStore(pool))
		},
	}
	return []*cobra.Command{statusCmd}
}

func printStatus(ctx context.Context, ob *outbox.Repo, states *state.Store) error {
	stats, err := ob.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(color.Output, color.New(color.Bold).Sprint("=== Outbox ==="))
	if len(stats) == 0 {
		fmt.Fprintln(color.Output, "  empty")
	}
	for _, row := range stats {
		line := fmt.Sprintf("  %-8s %-9s %d", row.Status, row.ApprovalStatus, row.Count)
		switch row.Status {
		case outbox.StatusDead:
			fmt.Fprintln(color.Output, color.RedString(line))
		case outbox.StatusSent:
			fmt.Fprintln(color.Output, color.GreenString(line))
		default:
			fmt.Fprintln(color.Output, line)
		}
	}

	deads, err := ob.DeadLetters(ctx, deadLetterLimit)
	if err != nil {
		return err
	}
	if len(deads) > 0 {
		fmt.Fprintln(color.Output, color.New(color.Bold).Sprint("=== Dead letters ==="))
		for _, d := range deads {
			lastErr := ""
			if d.LastError != nil {
				lastErr = *d.LastError
			}
			fmt.Fprintln(color.Output, color.RedString(
				"  #%d %s %q attempts=%d: %.120s", d.ID, d.PigID, d.NotifType, d.AttemptCount, lastErr))
		}
	}

	records, err := states.All(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(color.Output, color.New(color.Bold).Sprint("=== Pigs ==="))
	if len(records) == 0 {
		fmt.Fprintln(color.Output, "  none")
	}
	for _, r := range records {
		route := r.State.LockedLegacyRoute
		if route == "" {
			route = "-"
		}
		event := string(r.State.LastEvent)
		if event == "" {
			event = "-"
		}
		fmt.Fprintf(color.Output, "  %-12s route=%s last_event=%s updated=%s\n",
			color.CyanString(r.PigID), route, event, r.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
