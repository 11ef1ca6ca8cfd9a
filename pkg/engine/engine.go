// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package engine turns raw pig telemetry into per-tick decisions: a motion
// event, the bound legacy route, speed and ETAs, and at most one
// notification selected by strict priority. One tick is a pure pass over
// (telemetry, reference data, per-pig state); the only writes are the state
// upsert at the end.
package engine

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/pigtrack/pigtrack/pkg/pig"
	"github.com/pigtrack/pigtrack/pkg/util/log"
)

// ReferenceData is the static lookup surface the engine needs for a tick.
type ReferenceData interface {
	GCToKP() map[int]float64
	POIs() []pig.POI
	Gaps() []pig.GapPoint
	Routes() map[string][]pig.POI
	Route(name string) []pig.POI
}

// TelemetryReader pulls position samples for one pig.
type TelemetryReader interface {
	RecentPositions(ctx context.Context, pigID string, since time.Time) ([]pig.PosSample, error)
}

// StateStore persists per-pig decision state between ticks.
type StateStore interface {
	Get(ctx context.Context, pigID string) (pig.State, error)
	Upsert(ctx context.Context, pigID string, st pig.State) error
}

// Engine evaluates one pig per Tick call. Safe for sequential use by a
// single scheduler; per-pig state has a single writer.
type Engine struct {
	settings  Settings
	clock     clock.Clock
	ref       ReferenceData
	telemetry TelemetryReader
	states    StateStore
}

// New builds an engine over the given stores and reference data.
func New(settings Settings, clk clock.Clock, ref ReferenceData, telemetry TelemetryReader, states StateStore) *Engine {
	return &Engine{
		settings:  settings,
		clock:     clk,
		ref:       ref,
		telemetry: telemetry,
		states:    states,
	}
}

// Tick runs one detection pass for a pig and returns the decision. toolType
// is the latest reported tool type; a locked tool type on state overrides
// it, and a blank falls back to the configured default.
func (e *Engine) Tick(ctx context.Context, pigID, toolType string) (pig.Decision, error) {
	now := e.clock.Now().UTC()
	s := e.settings

	st, err := e.states.Get(ctx, pigID)
	if err != nil {
		return pig.Decision{}, fmt.Errorf("load state for %s: %w", pigID, err)
	}

	effectiveTool := st.LockedToolType
	if effectiveTool == "" {
		effectiveTool = strings.TrimSpace(toolType)
	}
	if effectiveTool == "" {
		effectiveTool = s.DefaultToolType
	}

	// Last few minutes decide Moving/Stopped; the longer pull serves speed
	// and supplies the current sample.
	recent, err := e.telemetry.RecentPositions(ctx, pigID, now.Add(-s.StoppedWindow))
	if err != nil {
		return pig.Decision{}, fmt.Errorf("load recent positions for %s: %w", pigID, err)
	}
	speedSamples, err := e.telemetry.RecentPositions(ctx, pigID, now.Add(-s.SpeedSearch))
	if err != nil {
		return pig.Decision{}, fmt.Errorf("load speed history for %s: %w", pigID, err)
	}

	cur, ok := newestSample(speedSamples)
	if !ok {
		cur, ok = newestSample(recent)
	}
	if !ok {
		route := st.LockedLegacyRoute
		if isUnknownRoute(route) {
			route = pig.RouteUnknown
		}
		payload := pig.BuildPayload(pigID, effectiveTool, pig.EventNotDetected, pig.NotifNone,
			0, nil, nil, time.Time{}, time.Time{}, route, nil, nil, now)
		return pig.Decision{
			PigID:    pigID,
			ToolType: effectiveTool,
			Event:    pig.EventNotDetected,
			Route:    route,
			Payload:  payload,
		}, nil
	}

	// First route pass: the classifier needs the route's end POI before the
	// real event is known, so bind as if moving.
	legacy := e.pickRoute(&st, cur, pig.EventMoving)
	route := e.routeFor(legacy)
	_, _, endPOI := e.prevNextEnd(route, cur)

	rawEvent := e.classify(recent, endPOI)
	event := rawEvent
	if st.LastEvent == pig.EventStopped && rawEvent == pig.EventMoving {
		event = pig.EventResumption
		t := cur.DT
		st.MovingStartedAt = &t
	}
	if event == pig.EventStopped || event == pig.EventCompleted {
		st.MovingStartedAt = nil
	}
	st.LastEvent = rawEvent
	lastDT := cur.DT
	st.LastEventDT = &lastDT

	// Second pass with the real event: a Completed tick bypasses the sticky
	// binding and re-picks from scratch.
	legacy = e.pickRoute(&st, cur, event)
	route = e.routeFor(legacy)
	prevPOI, nextPOI, endPOI := e.prevNextEnd(route, cur)

	if isUnknownRoute(legacy) {
		log.Warnf("pig %s: position matches no legacy route (gc=%s kp=%s)", pigID, fmtGC(cur.GC), fmtKP(cur.KP))
	} else if len(route) == 0 {
		log.Warnf("pig %s: bound route %q has no reference POIs", pigID, legacy)
	}

	var speed float64
	var etaNext, etaEnd time.Time
	if event != pig.EventStopped {
		window := s.SpeedWindow
		useShort := st.MovingStartedAt != nil && cur.DT.Sub(*st.MovingStartedAt) < s.MovingBoost
		if useShort {
			window = s.SpeedShortWindow
		}

		pool := speedSamples
		if useShort {
			if filtered := samplesAtOrAfter(speedSamples, *st.MovingStartedAt); len(filtered) > 0 {
				pool = filtered
			}
		}

		if ref, found := refSampleAtOrBefore(pool, cur.DT.Add(-window)); found {
			if cur.DT.Sub(ref.DT) >= s.MinSpeedDT {
				speed = e.speedBetween(cur, ref)
			}
		}

		if speed > 0 {
			if nextPOI != nil {
				etaNext = e.etaTo(cur, *nextPOI, speed)
			}
			if endPOI != nil {
				etaEnd = e.etaTo(cur, *endPOI, speed)
			}
		}
	}

	notif, targetTag, gapKP, windowStart := e.selectNotification(&st, event, cur, legacy, route, nextPOI, endPOI, etaNext)

	if event == pig.EventCompleted {
		st.ClearRun()
	}

	if err := e.states.Upsert(ctx, pigID, st); err != nil {
		return pig.Decision{}, fmt.Errorf("save state for %s: %w", pigID, err)
	}

	log.Debugf("pig %s: event=%s notif=%q route=%s speed=%.2f", pigID, event, notif, legacy, speed)

	payload := pig.BuildPayload(pigID, effectiveTool, event, notif, speed,
		prevPOI, nextPOI, etaNext, etaEnd, legacy, cur.GC, cur.KP, cur.DT)

	return pig.Decision{
		PigID:       pigID,
		ToolType:    effectiveTool,
		Event:       event,
		NotifType:   notif,
		Route:       legacy,
		TargetTag:   targetTag,
		GapKP:       gapKP,
		WindowStart: windowStart,
		Payload:     payload,
	}, nil
}

// selectNotification applies the strict priority order and mutates state for
// the branches that dedupe on it (pre-POI flags, periodic cadence). The
// reference instant is the current sample's timestamp.
func (e *Engine) selectNotification(st *pig.State, event pig.Event, cur pig.PosSample, legacy string, route []pig.POI, nextPOI, endPOI *pig.POI, etaNext time.Time) (pig.NotifType, string, float64, time.Time) {
	now := cur.DT

	if event == pig.EventCompleted {
		tag := ""
		if endPOI != nil {
			tag = endPOI.Tag
		}
		return pig.NotifRunCompletion, tag, 0, time.Time{}
	}
	if endPOI != nil && e.closeToPOI(cur, *endPOI) {
		return pig.NotifRunCompletion, endPOI.Tag, 0, time.Time{}
	}

	for i := range route {
		if e.closeToPOI(cur, route[i]) {
			return pig.NotifPOIPassage, route[i].Tag, 0, time.Time{}
		}
	}

	// Gaps only match on the bound route; an unbound pig never matches.
	if !isUnknownRoute(legacy) {
		for _, g := range e.ref.Gaps() {
			if g.LegacyRoute != legacy {
				continue
			}
			if e.closeToGap(cur, g) {
				if g.Kind == pig.GapStart {
					return pig.NotifGapStart, "", g.KP, time.Time{}
				}
				return pig.NotifGapEnd, "", g.KP, time.Time{}
			}
		}
	}

	if !etaNext.IsZero() && nextPOI != nil {
		win := e.settings.PrePOIWindow
		if absDuration(now.Sub(etaNext.Add(-30*time.Minute))) <= win && st.FiredPre30ForTag != nextPOI.Tag {
			st.FiredPre30ForTag = nextPOI.Tag
			return pig.NotifPre30, nextPOI.Tag, 0, time.Time{}
		}
		if absDuration(now.Sub(etaNext.Add(-15*time.Minute))) <= win && st.FiredPre15ForTag != nextPOI.Tag {
			st.FiredPre15ForTag = nextPOI.Tag
			return pig.NotifPre15, nextPOI.Tag, 0, time.Time{}
		}
	}

	if st.FirstNotifAt == nil {
		t := now
		st.FirstNotifAt = &t
		st.LastNotifAt = &t
		return pig.NotifPeriodic, "", 0, now
	}
	if st.LastNotifAt == nil {
		t := now
		st.LastNotifAt = &t
		return pig.NotifPeriodic, "", 0, now
	}
	if now.Sub(*st.LastNotifAt) >= 30*time.Minute {
		windowStart := *st.LastNotifAt
		t := now
		st.LastNotifAt = &t
		return pig.NotifPeriodic, "", 0, windowStart
	}

	return pig.NotifNone, "", 0, time.Time{}
}

// pickRoute returns the sticky binding when it holds, otherwise binds the
// narrowest route whose position range contains the current position (within
// tolerance), falling back to the route of the nearest POI. Binding a real
// route locks it on state.
func (e *Engine) pickRoute(st *pig.State, cur pig.PosSample, event pig.Event) string {
	if st.LockedLegacyRoute != "" && !isUnknownRoute(st.LockedLegacyRoute) && event != pig.EventCompleted {
		return st.LockedLegacyRoute
	}

	gcToKP := e.ref.GCToKP()
	curM, ok := cur.PositionMeters(gcToKP, e.settings.MetersPerChannel)
	if !ok {
		return pig.RouteUnknown
	}
	tol := e.settings.POITolMeters

	bestSpan := math.Inf(1)
	picked := ""
	for name, route := range e.ref.Routes() {
		if isUnknownRoute(name) {
			continue
		}
		lo, hi, defined := e.routeRange(route)
		if !defined {
			continue
		}
		if curM < lo-tol || curM > hi+tol {
			continue
		}
		span := hi - lo
		if span < bestSpan || (span == bestSpan && name < picked) {
			bestSpan = span
			picked = name
		}
	}
	if picked != "" {
		st.LockedLegacyRoute = picked
		return picked
	}

	bestDist := math.Inf(1)
	nearest := ""
	for _, p := range e.ref.POIs() {
		pm, defined := p.PositionMeters(gcToKP, e.settings.MetersPerChannel)
		if !defined {
			continue
		}
		if d := math.Abs(curM - pm); d < bestDist {
			bestDist = d
			nearest = p.LegacyRoute
		}
	}
	if nearest != "" && !isUnknownRoute(nearest) {
		st.LockedLegacyRoute = nearest
		return nearest
	}
	return pig.RouteUnknown
}

func (e *Engine) routeFor(legacy string) []pig.POI {
	return e.ref.Route(legacy)
}

func (e *Engine) routeRange(route []pig.POI) (lo, hi float64, ok bool) {
	gcToKP := e.ref.GCToKP()
	for _, p := range route {
		pm, defined := p.PositionMeters(gcToKP, e.settings.MetersPerChannel)
		if !defined {
			continue
		}
		if !ok || pm < lo {
			lo = pm
		}
		if !ok || pm > hi {
			hi = pm
		}
		ok = true
	}
	return lo, hi, ok
}

// prevNextEnd walks the route in position order: prev is the last POI at or
// behind the current position (within tolerance counts as behind), next the
// first strictly beyond it, end the last POI with a defined position.
func (e *Engine) prevNextEnd(route []pig.POI, cur pig.PosSample) (prev, next, end *pig.POI) {
	if len(route) == 0 {
		return nil, nil, nil
	}
	gcToKP := e.ref.GCToKP()
	for i := range route {
		if _, defined := route[i].PositionMeters(gcToKP, e.settings.MetersPerChannel); defined {
			end = &route[i]
		}
	}

	curM, ok := cur.PositionMeters(gcToKP, e.settings.MetersPerChannel)
	if !ok {
		return nil, nil, end
	}
	for i := range route {
		pm, defined := route[i].PositionMeters(gcToKP, e.settings.MetersPerChannel)
		if !defined {
			continue
		}
		if pm <= curM+e.settings.POITolMeters {
			prev = &route[i]
			continue
		}
		next = &route[i]
		break
	}
	return prev, next, end
}

// classify derives the raw motion event from the short window: Completed
// near the route end, Not Detected under two positioned samples, Stopped
// when the positions span at most one tolerance, Moving otherwise.
func (e *Engine) classify(recent []pig.PosSample, end *pig.POI) pig.Event {
	cur, ok := newestSample(recent)
	if !ok {
		return pig.EventNotDetected
	}
	if end != nil && e.closeToPOI(cur, *end) {
		return pig.EventCompleted
	}

	gcToKP := e.ref.GCToKP()
	var lo, hi float64
	n := 0
	for _, smp := range recent {
		m, defined := smp.PositionMeters(gcToKP, e.settings.MetersPerChannel)
		if !defined {
			continue
		}
		if n == 0 || m < lo {
			lo = m
		}
		if n == 0 || m > hi {
			hi = m
		}
		n++
	}
	if n < 2 {
		return pig.EventNotDetected
	}
	if hi-lo <= e.settings.POITolMeters {
		return pig.EventStopped
	}
	return pig.EventMoving
}

func (e *Engine) closeToPOI(cur pig.PosSample, p pig.POI) bool {
	gcToKP := e.ref.GCToKP()
	curM, ok := cur.PositionMeters(gcToKP, e.settings.MetersPerChannel)
	if !ok {
		return false
	}
	pm, ok := p.PositionMeters(gcToKP, e.settings.MetersPerChannel)
	if !ok {
		return false
	}
	return math.Abs(curM-pm) <= e.settings.POITolMeters
}

func (e *Engine) closeToGap(cur pig.PosSample, g pig.GapPoint) bool {
	curM, ok := cur.PositionMeters(e.ref.GCToKP(), e.settings.MetersPerChannel)
	if !ok {
		return false
	}
	return math.Abs(curM-g.PositionMeters()) <= e.settings.POITolMeters
}

// speedBetween is the absolute position delta over the time delta, zero when
// either sample lacks a position or time does not advance.
func (e *Engine) speedBetween(cur, ref pig.PosSample) float64 {
	dt := cur.DT.Sub(ref.DT).Seconds()
	if dt <= 0 {
		return 0
	}
	gcToKP := e.ref.GCToKP()
	curM, ok := cur.PositionMeters(gcToKP, e.settings.MetersPerChannel)
	if !ok {
		return 0
	}
	refM, ok := ref.PositionMeters(gcToKP, e.settings.MetersPerChannel)
	if !ok {
		return 0
	}
	return math.Abs(curM-refM) / dt
}

// etaTo projects the arrival at target from the current sample. Zero time
// when the speed is not positive, a position is undefined, or the target is
// behind the pig.
func (e *Engine) etaTo(cur pig.PosSample, target pig.POI, speed float64) time.Time {
	if speed <= 0 {
		return time.Time{}
	}
	gcToKP := e.ref.GCToKP()
	curM, ok := cur.PositionMeters(gcToKP, e.settings.MetersPerChannel)
	if !ok {
		return time.Time{}
	}
	targetM, ok := target.PositionMeters(gcToKP, e.settings.MetersPerChannel)
	if !ok {
		return time.Time{}
	}
	dist := targetM - curM
	if dist < 0 {
		return time.Time{}
	}
	return cur.DT.Add(time.Duration(dist / speed * float64(time.Second)))
}

// newestSample returns the latest sample by timestamp; on equal timestamps
// the later element wins.
func newestSample(samples []pig.PosSample) (pig.PosSample, bool) {
	if len(samples) == 0 {
		return pig.PosSample{}, false
	}
	best := samples[0]
	for _, s := range samples[1:] {
		if !s.DT.Before(best.DT) {
			best = s
		}
	}
	return best, true
}

// refSampleAtOrBefore prefers the sample at or before target closest to it;
// when none qualify, the closest by absolute time distance. Earlier elements
// win ties.
func refSampleAtOrBefore(samples []pig.PosSample, target time.Time) (pig.PosSample, bool) {
	if len(samples) == 0 {
		return pig.PosSample{}, false
	}
	var best pig.PosSample
	bestDelta := time.Duration(math.MaxInt64)
	found := false
	for _, s := range samples {
		if s.DT.After(target) {
			continue
		}
		if d := target.Sub(s.DT); d < bestDelta {
			best, bestDelta, found = s, d, true
		}
	}
	if found {
		return best, true
	}
	for _, s := range samples {
		if d := absDuration(s.DT.Sub(target)); d < bestDelta {
			best, bestDelta = s, d
		}
	}
	return best, true
}

func samplesAtOrAfter(samples []pig.PosSample, cutoff time.Time) []pig.PosSample {
	var out []pig.PosSample
	for _, s := range samples {
		if !s.DT.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

func isUnknownRoute(name string) bool {
	return name == "" || strings.EqualFold(name, pig.RouteUnknown)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func fmtGC(gc *int) string {
	if gc == nil {
		return ""
	}
	return strconv.Itoa(*gc)
}

func fmtKP(kp *float64) string {
	if kp == nil {
		return ""
	}
	return strconv.FormatFloat(*kp, 'f', 3, 64)
}
