// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package version implements 'pigtrack version'.
package version

import (
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pigtrack/pigtrack/cmd/pigtrack/command"
	"github.com/pigtrack/pigtrack/pkg/version"
)

// Commands returns the version commands.
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version info",
		Long:  ``,
		Run: func(*cobra.Command, []string) {
			if globalParams.NoColor {
				color.NoColor = true
			}
			commit := version.Commit
			if commit == "" {
				commit = "unknown"
			}
			fmt.Fprintln(
				color.Output,
				fmt.Sprintf("pigtrack %s - Commit: %s - Go version: %s",
					color.CyanString(version.Version),
					color.GreenString(commit),
					color.RedString(runtime.Version()),
				),
			)
		},
	}
	return []*cobra.Command{versionCmd}
}
