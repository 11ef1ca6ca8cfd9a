// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package db opens the shared Postgres pool and applies schema migrations.
// The detector, the sender workers, and the approval worker coordinate only
// through this database.
package db

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/pigtrack/pigtrack/pkg/util/log"
)

const pingTimeout = 3 * time.Second

// ErrEmptyDSN is returned by Open when no connection string is configured.
var ErrEmptyDSN = errors.New("postgres DSN is empty")

type pinger interface {
	PingContext(ctx context.Context) error
}

// Open connects to Postgres through the pgx stdlib driver and blocks until
// the server answers a ping, retrying with exponential backoff so workers
// survive a database that comes up after them.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, ErrEmptyDSN
	}
	pool, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	pool.SetMaxOpenConns(10)
	pool.SetMaxIdleConns(5)
	pool.SetConnMaxIdleTime(5 * time.Minute)

	if err := waitForPing(ctx, pool, connectBackOff(ctx)); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func connectBackOff(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = 5 * time.Second
	expo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(expo, 10), ctx)
}

func waitForPing(ctx context.Context, p pinger, policy backoff.BackOff) error {
	return backoff.Retry(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := p.PingContext(pingCtx); err != nil {
			log.Debugf("postgres not ready: %v", err)
			return err
		}
		return nil
	}, policy)
}
