// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package seed implements 'pigtrack seed': synthetic telemetry for local
// end-to-end loops (seed, detect, approve, send, stub).
package seed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pigtrack/pigtrack/cmd/pigtrack/command"
	"github.com/pigtrack/pigtrack/pkg/pig"
	"github.com/pigtrack/pigtrack/pkg/telemetry"
	"github.com/pigtrack/pigtrack/pkg/util/log"
)

type cliParams struct {
	pigID   string
	tool    string
	startKP float64
	endKP   float64
	stepSec int
	count   int
	fromCSV string
}

// Commands returns the seed commands.
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	params := &cliParams{}
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert synthetic telemetry for a pig",
		Long:  "Replaces the stored positions of one pig with a synthetic run from --start-kp to --end-kp, or with rows from a CSV file.",
		RunE: func(*cobra.Command, []string) error {
			return runSeed(globalParams, params)
		},
	}
	seedCmd.Flags().StringVar(&params.pigID, "pig", "PIG_001", "pig identifier")
	seedCmd.Flags().StringVar(&params.tool, "tool", "Cleaning Tool", "tool type")
	seedCmd.Flags().Float64Var(&params.startKP, "start-kp", 10.0, "run start kilometer point")
	seedCmd.Flags().Float64Var(&params.endKP, "end-kp", 12.0, "run end kilometer point")
	seedCmd.Flags().IntVar(&params.stepSec, "step-sec", 60, "seconds between samples")
	seedCmd.Flags().IntVar(&params.count, "count", 40, "number of samples, newest at now")
	seedCmd.Flags().StringVar(&params.fromCSV, "from-csv", "", "load samples from a CSV (columns DT, GC, KP) instead of generating them")
	return []*cobra.Command{seedCmd}
}

func runSeed(globalParams *command.GlobalParams, params *cliParams) error {
	if err := command.Bootstrap(globalParams); err != nil {
		return err
	}
	ctx, stop := command.SignalContext()
	defer stop()

	pool, err := command.OpenDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	var samples []pig.PosSample
	if params.fromCSV != "" {
		samples, err = samplesFromCSV(params.fromCSV)
		if err != nil {
			return err
		}
	} else {
		samples = generate(params, time.Now().UTC())
	}
	if err := telemetry.NewStore(pool).ReplacePositions(ctx, params.pigID, params.tool, samples); err != nil {
		return err
	}
	log.Infof("seed: stored %d samples for %s", len(samples), params.pigID)
	return nil
}

// generate lays count samples at stepSec intervals ending at now, the KP
// advancing linearly from start to end.
func generate(params *cliParams, now time.Time) []pig.PosSample {
	count := params.count
	if count < 2 {
		count = 2
	}
	samples := make([]pig.PosSample, 0, count)
	for i := 0; i < count; i++ {
		frac := float64(i) / float64(count-1)
		kp := params.startKP + (params.endKP-params.startKP)*frac
		dt := now.Add(-time.Duration(count-1-i) * time.Duration(params.stepSec) * time.Second)
		samples = append(samples, pig.PosSample{DT: dt, KP: &kp})
	}
	return samples
}

// samplesFromCSV reads telemetry rows with a DT column (RFC 3339) and
// optional GC / KP columns.
func samplesFromCSV(path string) ([]pig.PosSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	dtIdx, ok := col["dt"]
	if !ok {
		return nil, fmt.Errorf("CSV %s has no DT column", path)
	}

	var samples []pig.PosSample
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV line %d: %w", line, err)
		}
		dt, err := time.Parse(time.RFC3339, strings.TrimSpace(record[dtIdx]))
		if err != nil {
			return nil, fmt.Errorf("CSV line %d: bad DT: %w", line, err)
		}
		sample := pig.PosSample{DT: dt.UTC()}
		if i, ok := col["gc"]; ok && i < len(record) && strings.TrimSpace(record[i]) != "" {
			gc, err := strconv.Atoi(strings.TrimSpace(record[i]))
			if err != nil {
				return nil, fmt.Errorf("CSV line %d: bad GC: %w", line, err)
			}
			sample.GC = &gc
		}
		if i, ok := col["kp"]; ok && i < len(record) && strings.TrimSpace(record[i]) != "" {
			kp, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("CSV line %d: bad KP: %w", line, err)
			}
			sample.KP = &kp
		}
		samples = append(samples, sample)
	}
	return samples, nil
}
