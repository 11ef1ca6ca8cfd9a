// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package db

import (
	"embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/pigtrack/pigtrack/pkg/util/log"
)

//go:embed migrations/*.sql
var migrations embed.FS

// gooseLogger routes goose output through the process logger.
type gooseLogger struct{}

func (gooseLogger) Fatalf(format string, v ...interface{}) {
	log.Criticalf(format, v...) //nolint:errcheck
}

func (gooseLogger) Printf(format string, v ...interface{}) {
	log.Info(strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"))
}

// Migrate applies the embedded schema migrations in order. It is invoked by
// the migrate subcommand and, when pg_auto_migrate is set, at daemon startup.
func Migrate(pool *sqlx.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(pool.DB, "migrations")
}
