// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package approval implements 'pigtrack approval'.
package approval

import (
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"

	"github.com/pigtrack/pigtrack/cmd/pigtrack/command"
	"github.com/pigtrack/pigtrack/pkg/approval"
	"github.com/pigtrack/pigtrack/pkg/config"
	"github.com/pigtrack/pigtrack/pkg/outbox"
)

// Commands returns the approval commands.
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	approvalCmd := &cobra.Command{
		Use:   "approval",
		Short: "Run the Telegram approval worker",
		Long:  "Posts pending notifications to a Telegram chat with Approve/Reject buttons and records the decisions.",
		RunE: func(*cobra.Command, []string) error {
			if err := command.Bootstrap(globalParams); err != nil {
				return err
			}
			settings := approval.FromConfig(config.Pigtrack)
			if settings.Token == "" || settings.ChatID == "" {
				return errors.New("telegram_token and telegram_chat_id must be configured")
			}
			ctx, stop := command.SignalContext()
			defer stop()

			pool, err := command.OpenDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			approval.New(settings, outbox.New(pool), clock.New()).Run(ctx)
			return nil
		},
	}
	return []*cobra.Command{approvalCmd}
}
