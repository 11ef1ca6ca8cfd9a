// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package outbox is the transactional notification outbox. Enqueue inserts
// exactly once per dedup fingerprint; Claim hands batches to competing
// sender workers with row locks that skip each other; the Ack methods
// settle delivery outcomes. Rows wait for an approval decision before any
// worker may claim them.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pigtrack/pigtrack/pkg/pig"
)

// Delivery states of an outbox row.
const (
	StatusNew     = "NEW"
	StatusSending = "SENDING"
	StatusSent    = "SENT"
	StatusRetry   = "RETRY"
	StatusDead    = "DEAD"
)

// Approval states of an outbox row.
const (
	ApprovalPending  = "PENDING"
	ApprovalApproved = "APPROVED"
	ApprovalRejected = "REJECTED"
)

// Item is one claimed outbox row, carrying what a sender needs to deliver
// it and account for the attempt.
type Item struct {
	ID           int64           `db:"id"`
	DedupKey     string          `db:"dedup_key"`
	PigID        string          `db:"pig_id"`
	NotifType    string          `db:"notif_type"`
	Payload      json.RawMessage `db:"payload"`
	AttemptCount int             `db:"attempt_count"`
}

// RetryItem schedules one failed delivery for another attempt.
type RetryItem struct {
	ID           int64
	AttemptCount int
	DelaySeconds int
	LastError    string
}

// DeadItem retires one delivery that exhausted its attempts.
type DeadItem struct {
	ID           int64
	AttemptCount int
	LastError    string
}

// PendingItem is an undecided row not yet posted to the approval channel.
type PendingItem struct {
	ID            int64           `db:"id"`
	Payload       json.RawMessage `db:"payload"`
	ApprovalToken string          `db:"approval_token"`
}

// StatRow is one (status, approval status) bucket count.
type StatRow struct {
	Status         string `db:"status"`
	ApprovalStatus string `db:"approval_status"`
	Count          int64  `db:"n"`
}

// DeadRow is one dead-lettered delivery with its final error.
type DeadRow struct {
	ID           int64     `db:"id"`
	DedupKey     string    `db:"dedup_key"`
	PigID        string    `db:"pig_id"`
	NotifType    string    `db:"notif_type"`
	AttemptCount int       `db:"attempt_count"`
	LastError    *string   `db:"last_error"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Repo persists and claims outbox rows.
type Repo struct {
	db *sqlx.DB
}

// New wraps a database handle.
func New(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

// Enqueue inserts a notification under its dedup fingerprint. Returns false
// without error when the fingerprint already exists; the row starts NEW and
// PENDING approval with a fresh approval token.
func (r *Repo) Enqueue(ctx context.Context, dedupKey, pigID string, notifType pig.NotifType, payload pig.Payload) (bool, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode payload for %s: %w", dedupKey, err)
	}
	// Sent as text so the ::jsonb cast applies server side.
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications_outbox (dedup_key, pig_id, notif_type, payload, approval_token)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		ON CONFLICT (dedup_key) DO NOTHING`,
		dedupKey, pigID, string(notifType), string(raw), uuid.NewString())
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", dedupKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Claim locks up to batch approved, due rows for one worker and marks them
// SENDING. Competing workers skip each other's locked rows. Returns nil when
// nothing is due.
func (r *Repo) Claim(ctx context.Context, batch int, worker string) ([]Item, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var items []Item
	err = tx.SelectContext(ctx, &items, `
		SELECT id, dedup_key, pig_id, notif_type, payload, attempt_count
		FROM notifications_outbox
		WHERE status IN ('NEW', 'RETRY')
		  AND approval_status = 'APPROVED'
		  AND next_attempt_at <= now()
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1`, batch)
	if err != nil {
		return nil, fmt.Errorf("select claimable: %w", err)
	}
	if len(items) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]int64, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	query, args, err := sqlx.In(`
		UPDATE notifications_outbox
		SET status = 'SENDING', locked_by = ?, locked_at = now(), updated_at = now()
		WHERE id IN (?)`, worker, ids)
	if err != nil {
		return nil, fmt.Errorf("build lock update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("lock claimed rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return items, nil
}

// AckSent settles delivered rows: SENT, stamped, unlocked.
func (r *Repo) AckSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`
		UPDATE notifications_outbox
		SET status = 'SENT', sent_at = now(), updated_at = now(),
		    locked_by = NULL, locked_at = NULL
		WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("build sent update: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("ack sent: %w", err)
	}
	return nil
}

// AckRetry reschedules failed rows with their per-item delay and error, in
// one transaction.
func (r *Repo) AckRetry(ctx context.Context, items []RetryItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin retry ack: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, it := range items {
		_, err := tx.ExecContext(ctx, `
			UPDATE notifications_outbox
			SET status = 'RETRY', attempt_count = $1,
			    next_attempt_at = now() + ($2 * interval '1 second'),
			    last_error = $3, updated_at = now(),
			    locked_by = NULL, locked_at = NULL
			WHERE id = $4`,
			it.AttemptCount, it.DelaySeconds, it.LastError, it.ID)
		if err != nil {
			return fmt.Errorf("ack retry %d: %w", it.ID, err)
		}
	}
	return tx.Commit()
}

// AckDead retires rows past their attempt budget, in one transaction.
func (r *Repo) AckDead(ctx context.Context, items []DeadItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dead ack: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, it := range items {
		_, err := tx.ExecContext(ctx, `
			UPDATE notifications_outbox
			SET status = 'DEAD', attempt_count = $1, last_error = $2,
			    updated_at = now(), locked_by = NULL, locked_at = NULL
			WHERE id = $3`,
			it.AttemptCount, it.LastError, it.ID)
		if err != nil {
			return fmt.Errorf("ack dead %d: %w", it.ID, err)
		}
	}
	return tx.Commit()
}

// ReclaimStale frees SENDING rows whose lock outlived a crashed or hung
// worker, making them immediately claimable again. Returns the number of
// rows freed.
func (r *Repo) ReclaimStale(ctx context.Context, staleSeconds int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications_outbox
		SET status = 'RETRY', next_attempt_at = now(), updated_at = now(),
		    locked_by = NULL, locked_at = NULL
		WHERE status = 'SENDING'
		  AND locked_at IS NOT NULL
		  AND locked_at < now() - ($1 * interval '1 second')`, staleSeconds)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale: %w", err)
	}
	return res.RowsAffected()
}

// DecideApproval applies an APPROVED/REJECTED decision. The row id and its
// approval token must both match and the row must still be undecided, so a
// second press of the same button is a no-op. Returns whether the decision
// landed.
func (r *Repo) DecideApproval(ctx context.Context, id int64, token, decision, actor string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications_outbox
		SET approval_status = $1, decided_by = $2, decided_at = now(), updated_at = now()
		WHERE id = $3 AND approval_token = $4 AND approval_status = 'PENDING'`,
		decision, actor, id, token)
	if err != nil {
		return false, fmt.Errorf("decide approval %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListWaitingForApproval returns undecided rows not yet posted to the
// approval channel, oldest first.
func (r *Repo) ListWaitingForApproval(ctx context.Context, limit int) ([]PendingItem, error) {
	var items []PendingItem
	err := r.db.SelectContext(ctx, &items, `
		SELECT id, payload, approval_token
		FROM notifications_outbox
		WHERE approval_status = 'PENDING' AND telegram_message_id IS NULL
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list waiting for approval: %w", err)
	}
	return items, nil
}

// SetChannelMessageID records the approval-channel message posted for a row
// so it is not posted twice.
func (r *Repo) SetChannelMessageID(ctx context.Context, id, messageID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE notifications_outbox
		SET telegram_message_id = $1, updated_at = now()
		WHERE id = $2`, messageID, id)
	if err != nil {
		return fmt.Errorf("set channel message for %d: %w", id, err)
	}
	return nil
}

// Stats counts rows per (status, approval status) bucket.
func (r *Repo) Stats(ctx context.Context) ([]StatRow, error) {
	var rows []StatRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT status, approval_status, COUNT(*) AS n
		FROM notifications_outbox
		GROUP BY status, approval_status
		ORDER BY status, approval_status`)
	if err != nil {
		return nil, fmt.Errorf("outbox stats: %w", err)
	}
	return rows, nil
}

// DeadLetters returns the most recently retired deliveries.
func (r *Repo) DeadLetters(ctx context.Context, limit int) ([]DeadRow, error) {
	var rows []DeadRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, dedup_key, pig_id, notif_type, attempt_count, last_error, updated_at
		FROM notifications_outbox
		WHERE status = 'DEAD'
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return rows, nil
}

// MakeDedupKey builds the dedup fingerprint for a decision:
// pig|type|discriminator. POI-anchored kinds collapse per route, tag and
// calendar day; gaps per route, boundary and day; periodic updates per
// cadence window.
func MakeDedupKey(d pig.Decision, now time.Time) string {
	day := now.UTC().Format("20060102")
	var disc string
	switch d.NotifType {
	case pig.NotifGapStart, pig.NotifGapEnd:
		disc = fmt.Sprintf("%s|%.3f|%s", d.Route, d.GapKP, day)
	case pig.NotifPeriodic:
		disc = strconv.FormatInt(d.WindowStart.Unix(), 10)
	default:
		disc = fmt.Sprintf("%s|%s|%s", d.Route, d.TargetTag, day)
	}
	return fmt.Sprintf("%s|%s|%s", d.PigID, d.NotifType, disc)
}

var backoffSchedule = [...]int{10, 30, 60, 120, 300, 600}

// BackoffSeconds returns the delay before the given attempt (1-based new
// attempt count) may run again: a fixed schedule capped at 10 minutes, plus
// up to 10% jitter so retries spread out.
func BackoffSeconds(attempt int) int {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	base := backoffSchedule[idx]
	return base + rand.Intn(max(1, base/10)+1)
}
