// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package state persists per-pig engine state as a JSONB document keyed by
// pig id. The engine is the single writer; it reads the whole document,
// mutates it and writes it back once per tick.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pigtrack/pigtrack/pkg/pig"
)

// Store is the pig_state repository.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps the shared pool.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const getStateQuery = `SELECT state_json FROM pig_state WHERE pig_id = $1`

// Get returns the pig's persisted state, or the zero state when the pig has
// never been seen.
func (s *Store) Get(ctx context.Context, pigID string) (pig.State, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, getStateQuery, pigID)
	if errors.Is(err, sql.ErrNoRows) {
		return pig.State{}, nil
	}
	if err != nil {
		return pig.State{}, err
	}
	var st pig.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return pig.State{}, fmt.Errorf("decode state for %s: %w", pigID, err)
	}
	return st, nil
}

const upsertStateQuery = `
INSERT INTO pig_state (pig_id, state_json, updated_at)
VALUES ($1, $2::jsonb, now())
ON CONFLICT (pig_id) DO UPDATE
SET state_json = EXCLUDED.state_json, updated_at = now()`

// Upsert replaces the pig's state document.
func (s *Store) Upsert(ctx context.Context, pigID string, st pig.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	// Sent as text so the ::jsonb cast applies server side.
	_, err = s.db.ExecContext(ctx, upsertStateQuery, pigID, string(raw))
	return err
}

const evictStaleQuery = `
DELETE FROM pig_state s
WHERE s.updated_at < $1
  AND NOT EXISTS (
    SELECT 1 FROM pig_positions p WHERE p.pig_id = s.pig_id AND p.ts >= $1
  )`

// EvictStale deletes state rows untouched since cutoff whose pig also has no
// telemetry since cutoff. Returns the number of rows removed.
func (s *Store) EvictStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, evictStaleQuery, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Record pairs a pig with its decoded state, for status reporting.
type Record struct {
	PigID     string
	State     pig.State
	UpdatedAt time.Time
}

const allStatesQuery = `SELECT pig_id, state_json, updated_at FROM pig_state ORDER BY pig_id`

// All returns every persisted pig state.
func (s *Store) All(ctx context.Context) ([]Record, error) {
	type row struct {
		PigID     string    `db:"pig_id"`
		StateJSON []byte    `db:"state_json"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, allStatesQuery); err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		var st pig.State
		if err := json.Unmarshal(r.StateJSON, &st); err != nil {
			return nil, fmt.Errorf("decode state for %s: %w", r.PigID, err)
		}
		out = append(out, Record{PigID: r.PigID, State: st, UpdatedAt: r.UpdatedAt})
	}
	return out, nil
}
