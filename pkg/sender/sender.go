// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package sender drains the notification outbox: workers claim approved
// batches, POST each payload to the ingest endpoint with its dedup key as
// the idempotency header, and settle every row as sent, retried on a fixed
// backoff schedule, or dead once the attempt budget is spent.
package sender

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/pigtrack/pigtrack/pkg/config"
	"github.com/pigtrack/pigtrack/pkg/outbox"
	"github.com/pigtrack/pigtrack/pkg/util/log"
)

const (
	// requestTimeout bounds one delivery attempt end to end.
	requestTimeout = 10 * time.Second

	// errBodyLimit caps how much of an error response is read for the
	// stored error line.
	errBodyLimit = 1 << 10

	// lastErrorLimit caps the stored last_error column value.
	lastErrorLimit = 1000
)

// Settings configures the sender pool.
type Settings struct {
	IngestURL    string
	Batch        int
	Sleep        time.Duration
	Workers      int
	Name         string
	ReclaimEvery int
	MaxAttempts  int
	StaleSeconds int
	Timeout      time.Duration
}

// DefaultSettings returns the stock sender tuning.
func DefaultSettings() Settings {
	return Settings{
		Batch:        5,
		Sleep:        2 * time.Second,
		Workers:      1,
		Name:         "sender_1",
		ReclaimEvery: 10,
		MaxAttempts:  5,
		StaleSeconds: 300,
		Timeout:      requestTimeout,
	}
}

// FromConfig builds Settings from the global configuration.
func FromConfig(cfg config.Config) Settings {
	return Settings{
		IngestURL:    cfg.GetString("ingest_url"),
		Batch:        cfg.GetInt("sender_batch"),
		Sleep:        time.Duration(cfg.GetInt("sender_sleep_sec")) * time.Second,
		Workers:      cfg.GetInt("sender_workers"),
		Name:         cfg.GetString("sender_name"),
		ReclaimEvery: cfg.GetInt("sender_reclaim_loops"),
		MaxAttempts:  cfg.GetInt("max_attempts"),
		StaleSeconds: cfg.GetInt("stale_sending_sec"),
		Timeout:      requestTimeout,
	}
}

// Outbox is the slice of the outbox repository a sender needs.
type Outbox interface {
	Claim(ctx context.Context, batch int, worker string) ([]outbox.Item, error)
	AckSent(ctx context.Context, ids []int64) error
	AckRetry(ctx context.Context, items []outbox.RetryItem) error
	AckDead(ctx context.Context, items []outbox.DeadItem) error
	ReclaimStale(ctx context.Context, staleSeconds int) (int64, error)
}

// Worker is one claim-deliver-ack loop. Workers compete on the outbox;
// their claims never overlap.
type Worker struct {
	settings Settings
	name     string
	outbox   Outbox
	client   *http.Client
	clock    clock.Clock
}

// NewWorker builds a worker with its own HTTP client.
func NewWorker(settings Settings, name string, ob Outbox, clk clock.Clock) *Worker {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = requestTimeout
	}
	return &Worker{
		settings: settings,
		name:     name,
		outbox:   ob,
		client:   &http.Client{Timeout: timeout},
		clock:    clk,
	}
}

// Run loops until the context is canceled, sleeping only when a claim comes
// back empty.
func (w *Worker) Run(ctx context.Context) {
	log.Infof("sender %s: starting (batch=%d url=%s)", w.name, w.settings.Batch, w.settings.IngestURL)
	for loop := 0; ; loop++ {
		if ctx.Err() != nil {
			log.Infof("sender %s: stopping", w.name)
			return
		}
		if w.processOnce(ctx, loop) {
			continue
		}
		select {
		case <-ctx.Done():
			log.Infof("sender %s: stopping", w.name)
			return
		case <-w.clock.After(w.settings.Sleep):
		}
	}
}

// processOnce reclaims on schedule, claims one batch and settles it.
// Returns false when there was nothing to deliver.
func (w *Worker) processOnce(ctx context.Context, loop int) bool {
	if w.settings.ReclaimEvery > 0 && loop%w.settings.ReclaimEvery == 0 {
		n, err := w.outbox.ReclaimStale(ctx, w.settings.StaleSeconds)
		if err != nil {
			log.Warnf("sender %s: reclaim failed: %v", w.name, err)
		} else if n > 0 {
			log.Infof("sender %s: reclaimed %d stale deliveries", w.name, n)
		}
	}

	items, err := w.outbox.Claim(ctx, w.settings.Batch, w.name)
	if err != nil {
		log.Errorf("sender %s: claim failed: %v", w.name, err)
		return false
	}
	if len(items) == 0 {
		return false
	}

	var sent []int64
	var retries []outbox.RetryItem
	var deads []outbox.DeadItem
	for _, item := range items {
		errLine, ok := w.deliver(ctx, item)
		if ok {
			log.Debugf("sender %s: delivered id=%d key=%s", w.name, item.ID, item.DedupKey)
			sent = append(sent, item.ID)
			continue
		}
		attempt := item.AttemptCount + 1
		if attempt >= w.settings.MaxAttempts {
			log.Warnf("sender %s: id=%d dead after %d attempts: %s", w.name, item.ID, attempt, errLine)
			deads = append(deads, outbox.DeadItem{
				ID:           item.ID,
				AttemptCount: attempt,
				LastError:    truncateErr(errLine),
			})
			continue
		}
		delay := outbox.BackoffSeconds(attempt)
		log.Warnf("sender %s: id=%d attempt %d failed, retry in %ds: %s", w.name, item.ID, attempt, delay, errLine)
		retries = append(retries, outbox.RetryItem{
			ID:           item.ID,
			AttemptCount: attempt,
			DelaySeconds: delay,
			LastError:    truncateErr(errLine),
		})
	}

	if err := w.outbox.AckSent(ctx, sent); err != nil {
		log.Errorf("sender %s: ack sent failed: %v", w.name, err)
	}
	if err := w.outbox.AckRetry(ctx, retries); err != nil {
		log.Errorf("sender %s: ack retry failed: %v", w.name, err)
	}
	if err := w.outbox.AckDead(ctx, deads); err != nil {
		log.Errorf("sender %s: ack dead failed: %v", w.name, err)
	}
	return true
}

// deliver POSTs one payload. A 2xx settles the row; anything else comes
// back as the error line stored with the attempt.
func (w *Worker) deliver(ctx context.Context, item outbox.Item) (string, bool) {
	start := w.clock.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.settings.IngestURL, bytes.NewReader(item.Payload))
	if err != nil {
		return fmt.Sprintf("exc %dms: %s", w.msSince(start), err), false
	}
	req.Header.Set("Content-Type", "application/json")
	// The dedup fingerprint doubles as the idempotency key so redelivery
	// after a crashed ack is harmless.
	req.Header.Set("Idempotency-Key", item.DedupKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Sprintf("exc %dms: %s", w.msSince(start), err), false
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()              //nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return "", true
	}
	return fmt.Sprintf("http %d %dms: %.300s", resp.StatusCode, w.msSince(start), snippet), false
}

func (w *Worker) msSince(start time.Time) int64 {
	return int64(w.clock.Since(start) / time.Millisecond)
}

func truncateErr(s string) string {
	if len(s) > lastErrorLimit {
		return s[:lastErrorLimit]
	}
	return s
}

// Pool runs the configured number of workers against one outbox and blocks
// until they all stop.
type Pool struct {
	settings Settings
	outbox   Outbox
	clock    clock.Clock
}

// NewPool builds a pool.
func NewPool(settings Settings, ob Outbox, clk clock.Clock) *Pool {
	return &Pool{settings: settings, outbox: ob, clock: clk}
}

// Run starts the workers and waits for them to drain after cancellation.
func (p *Pool) Run(ctx context.Context) {
	workers := p.settings.Workers
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		name := p.settings.Name
		if workers > 1 {
			name = fmt.Sprintf("%s-%d", p.settings.Name, i+1)
		}
		w := NewWorker(p.settings, name, p.outbox, p.clock)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()
}
