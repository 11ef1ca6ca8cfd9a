// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyPinger struct {
	failures int
	calls    int
}

func (p *flakyPinger) PingContext(_ context.Context) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestOpenEmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyDSN)
}

func TestWaitForPingRetriesUntilReady(t *testing.T) {
	p := &flakyPinger{failures: 2}
	err := waitForPing(context.Background(), p, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 5))
	require.NoError(t, err)
	assert.Equal(t, 3, p.calls)
}

func TestWaitForPingGivesUp(t *testing.T) {
	p := &flakyPinger{failures: 100}
	err := waitForPing(context.Background(), p, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2))
	require.Error(t, err)
	assert.Equal(t, 3, p.calls)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.True(t, strings.HasSuffix(e.Name(), ".sql"), e.Name())
	}
}
