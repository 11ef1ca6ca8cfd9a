// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package detector schedules the detection engine: every poll it lists the
// pigs with recent telemetry, runs one engine tick per pig in sequence, and
// enqueues each decision that selected a notification.
package detector

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/pigtrack/pigtrack/pkg/config"
	"github.com/pigtrack/pigtrack/pkg/outbox"
	"github.com/pigtrack/pigtrack/pkg/pig"
	"github.com/pigtrack/pigtrack/pkg/util/log"
)

// Settings configures the scheduler loop.
type Settings struct {
	Poll           time.Duration
	ActiveLookback time.Duration
}

// DefaultSettings returns the stock scheduler tuning.
func DefaultSettings() Settings {
	return Settings{
		Poll:           10 * time.Second,
		ActiveLookback: 24 * time.Hour,
	}
}

// FromConfig builds Settings from the global configuration.
func FromConfig(cfg config.Config) Settings {
	return Settings{
		Poll:           time.Duration(cfg.GetInt("detector_poll_sec")) * time.Second,
		ActiveLookback: time.Duration(cfg.GetInt("active_lookback_min")) * time.Minute,
	}
}

// Engine evaluates one pig and returns its decision.
type Engine interface {
	Tick(ctx context.Context, pigID, toolType string) (pig.Decision, error)
}

// PigLister returns the pigs with telemetry since a timestamp.
type PigLister interface {
	ActivePigs(ctx context.Context, since time.Time) ([]pig.ActivePig, error)
}

// Enqueuer accepts selected notifications into the outbox.
type Enqueuer interface {
	Enqueue(ctx context.Context, dedupKey, pigID string, notifType pig.NotifType, payload pig.Payload) (bool, error)
}

// Worker is the periodic detection scheduler. One instance runs per
// deployment; per-pig ticks are sequential so each pig's state has a single
// writer.
type Worker struct {
	settings Settings
	engine   Engine
	pigs     PigLister
	outbox   Enqueuer
	clock    clock.Clock
}

// New builds a detector worker.
func New(settings Settings, engine Engine, pigs PigLister, ob Enqueuer, clk clock.Clock) *Worker {
	return &Worker{
		settings: settings,
		engine:   engine,
		pigs:     pigs,
		outbox:   ob,
		clock:    clk,
	}
}

// Run polls until the context is canceled. The first pass runs immediately.
func (w *Worker) Run(ctx context.Context) {
	log.Infof("detector: starting (poll=%s lookback=%s)", w.settings.Poll, w.settings.ActiveLookback)
	ticker := w.clock.Ticker(w.settings.Poll)
	defer ticker.Stop()
	for {
		w.RunOnce(ctx)
		select {
		case <-ctx.Done():
			log.Info("detector: stopping")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single detection pass over every active pig. Per-pig
// errors are logged and do not stop the pass.
func (w *Worker) RunOnce(ctx context.Context) {
	since := w.clock.Now().UTC().Add(-w.settings.ActiveLookback)
	active, err := w.pigs.ActivePigs(ctx, since)
	if err != nil {
		log.Errorf("detector: list active pigs: %v", err)
		return
	}
	for _, p := range active {
		if ctx.Err() != nil {
			return
		}
		w.tickOne(ctx, p)
	}
}

func (w *Worker) tickOne(ctx context.Context, p pig.ActivePig) {
	decision, err := w.engine.Tick(ctx, p.PigID, p.ToolType)
	if err != nil {
		log.Errorf("detector: tick %s: %v", p.PigID, err)
		return
	}
	if !decision.Notifiable() {
		log.Debugf("detector: %s event=%s route=%s, nothing to send", p.PigID, decision.Event, decision.Route)
		return
	}
	key := outbox.MakeDedupKey(decision, w.clock.Now().UTC())
	inserted, err := w.outbox.Enqueue(ctx, key, decision.PigID, decision.NotifType, decision.Payload)
	if err != nil {
		log.Errorf("detector: enqueue %s for %s: %v", key, p.PigID, err)
		return
	}
	if inserted {
		log.Infof("detector: %s queued %q key=%s", p.PigID, decision.NotifType, key)
	} else {
		log.Debugf("detector: %s deduplicated %q key=%s", p.PigID, decision.NotifType, key)
	}
}
