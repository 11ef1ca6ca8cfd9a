// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package telemetry is the pig_positions repository: the detector reads
// recent samples and the active-pig roster from it, the seed command writes
// synthetic runs through it.
package telemetry

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pigtrack/pigtrack/pkg/pig"
)

// Store reads and writes pig position samples.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps the shared pool.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type positionRow struct {
	TS time.Time `db:"ts"`
	GC *int      `db:"gc"`
	KP *float64  `db:"kp"`
}

const recentPositionsQuery = `
SELECT ts, gc, kp
FROM pig_positions
WHERE pig_id = $1 AND ts >= $2
ORDER BY ts ASC`

// RecentPositions returns the pig's samples at or after since, oldest first.
func (s *Store) RecentPositions(ctx context.Context, pigID string, since time.Time) ([]pig.PosSample, error) {
	var rows []positionRow
	if err := s.db.SelectContext(ctx, &rows, recentPositionsQuery, pigID, since); err != nil {
		return nil, err
	}
	samples := make([]pig.PosSample, 0, len(rows))
	for _, r := range rows {
		samples = append(samples, pig.PosSample{DT: r.TS, GC: r.GC, KP: r.KP})
	}
	return samples, nil
}

const activePigsQuery = `
SELECT DISTINCT ON (pig_id) pig_id, COALESCE(tool_type, '') AS tool_type
FROM pig_positions
WHERE ts >= $1
ORDER BY pig_id, ts DESC`

// ActivePigs returns every pig with telemetry at or after since, each with
// the tool type of its newest sample.
func (s *Store) ActivePigs(ctx context.Context, since time.Time) ([]pig.ActivePig, error) {
	var pigs []pig.ActivePig
	if err := s.db.SelectContext(ctx, &pigs, activePigsQuery, since); err != nil {
		return nil, err
	}
	return pigs, nil
}

const (
	deletePositionsQuery = `DELETE FROM pig_positions WHERE pig_id = $1`
	insertPositionQuery  = `
INSERT INTO pig_positions (pig_id, tool_type, ts, gc, kp)
VALUES ($1, $2, $3, $4, $5)`
)

// ReplacePositions atomically swaps the pig's telemetry for the given
// samples. The seed command uses it to set up reproducible local runs.
func (s *Store) ReplacePositions(ctx context.Context, pigID, toolType string, samples []pig.PosSample) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, deletePositionsQuery, pigID); err != nil {
		return err
	}
	for _, sm := range samples {
		if _, err := tx.ExecContext(ctx, insertPositionQuery, pigID, toolType, sm.DT, sm.GC, sm.KP); err != nil {
			return err
		}
	}
	return tx.Commit()
}
