// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package run implements 'pigtrack run': every role in one process with a
// shared shutdown, for small deployments and local loops.
package run

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/pigtrack/pigtrack/cmd/pigtrack/command"
	"github.com/pigtrack/pigtrack/pkg/approval"
	"github.com/pigtrack/pigtrack/pkg/config"
	"github.com/pigtrack/pigtrack/pkg/detector"
	"github.com/pigtrack/pigtrack/pkg/engine"
	"github.com/pigtrack/pigtrack/pkg/outbox"
	"github.com/pigtrack/pigtrack/pkg/sender"
	"github.com/pigtrack/pigtrack/pkg/state"
	"github.com/pigtrack/pigtrack/pkg/telemetry"
	"github.com/pigtrack/pigtrack/pkg/util/log"
)

// Commands returns the run commands.
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run detector, senders and maintenance in one process",
		Long:  "Starts the detection scheduler, the sender workers, scheduled maintenance, and the Telegram approval worker when configured, with coordinated shutdown.",
		RunE: func(*cobra.Command, []string) error {
			return start(globalParams)
		},
	}
	return []*cobra.Command{runCmd}
}

func start(globalParams *command.GlobalParams) error {
	if err := command.Bootstrap(globalParams); err != nil {
		return err
	}
	senderSettings := sender.FromConfig(config.Pigtrack)
	if senderSettings.IngestURL == "" {
		return errors.New("ingest_url is not configured")
	}
	ctx, stop := command.SignalContext()
	defer stop()

	pool, err := command.OpenDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	ref, err := command.LoadReferenceData()
	if err != nil {
		return err
	}

	clk := clock.New()
	ob := outbox.New(pool)
	states := state.NewStore(pool)
	positions := telemetry.NewStore(pool)

	eng := engine.New(engine.SettingsFromConfig(config.Pigtrack), clk, ref, positions, states)
	detectorWorker := detector.New(detector.FromConfig(config.Pigtrack), eng, positions, ob, clk)
	senderPool := sender.NewPool(senderSettings, ob, clk)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		detectorWorker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		senderPool.Run(ctx)
	}()

	approvalSettings := approval.FromConfig(config.Pigtrack)
	if approvalSettings.Token != "" && approvalSettings.ChatID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			approval.New(approvalSettings, ob, clk).Run(ctx)
		}()
	} else {
		log.Info("run: no telegram token configured, approval worker disabled")
	}

	maintenance, err := startMaintenance(ctx, ob, states)
	if err != nil {
		stop()
		wg.Wait()
		return err
	}

	<-ctx.Done()
	log.Info("run: shutting down")
	maintCtx := maintenance.Stop()
	wg.Wait()
	<-maintCtx.Done()
	return nil
}

// startMaintenance schedules the periodic jobs: stale pig-state eviction and
// an outbox depth report that flags dead letters.
func startMaintenance(ctx context.Context, ob *outbox.Repo, states *state.Store) (*cron.Cron, error) {
	schedule := config.Pigtrack.GetString("maintenance_schedule")
	evictionAge := time.Duration(config.Pigtrack.GetInt("state_eviction_days")) * 24 * time.Hour

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		cutoff := time.Now().UTC().Add(-evictionAge)
		if n, err := states.EvictStale(ctx, cutoff); err != nil {
			log.Errorf("maintenance: evict stale states: %v", err)
		} else if n > 0 {
			log.Infof("maintenance: evicted %d stale pig states", n)
		}

		stats, err := ob.Stats(ctx)
		if err != nil {
			log.Errorf("maintenance: outbox stats: %v", err)
			return
		}
		var dead int64
		for _, row := range stats {
			log.Infof("maintenance: outbox %s/%s: %d", row.Status, row.ApprovalStatus, row.Count)
			if row.Status == outbox.StatusDead {
				dead += row.Count
			}
		}
		if dead > 0 {
			log.Warnf("maintenance: %d dead-lettered notifications need attention", dead)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	log.Infof("maintenance: scheduled %q", schedule)
	return c, nil
}
