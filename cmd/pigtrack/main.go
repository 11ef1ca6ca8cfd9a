// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Main package for the pigtrack binary: one executable carries every role
// (detector, sender, approval worker, migrations, tooling) as subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/pigtrack/pigtrack/cmd/pigtrack/command"
	"github.com/pigtrack/pigtrack/cmd/pigtrack/subcommands/approval"
	"github.com/pigtrack/pigtrack/cmd/pigtrack/subcommands/detector"
	"github.com/pigtrack/pigtrack/cmd/pigtrack/subcommands/ingeststub"
	"github.com/pigtrack/pigtrack/cmd/pigtrack/subcommands/migrate"
	"github.com/pigtrack/pigtrack/cmd/pigtrack/subcommands/run"
	"github.com/pigtrack/pigtrack/cmd/pigtrack/subcommands/seed"
	"github.com/pigtrack/pigtrack/cmd/pigtrack/subcommands/sender"
	"github.com/pigtrack/pigtrack/cmd/pigtrack/subcommands/status"
	"github.com/pigtrack/pigtrack/cmd/pigtrack/subcommands/version"
)

func main() {
	factories := []command.SubcommandFactory{
		run.Commands,
		detector.Commands,
		sender.Commands,
		approval.Commands,
		migrate.Commands,
		seed.Commands,
		status.Commands,
		ingeststub.Commands,
		version.Commands,
	}
	rootCmd := command.MakeCommand(factories)
	defer command.Teardown()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		command.Teardown()
		os.Exit(1)
	}
}
