// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package pig holds the domain model shared by the detection engine, the
// reference data provider and the stores: telemetry samples, points of
// interest, gap boundaries, per-pig state and the notification payload.
package pig

import "time"

// Event classifies the pig's motion for one tick.
type Event string

// Pig event values, wire-exact.
const (
	EventMoving      Event = "Moving"
	EventStopped     Event = "Stopped"
	EventCompleted   Event = "Completed"
	EventNotDetected Event = "Not Detected"
	EventResumption  Event = "Resumption"
)

// NotifType names the notification selected for one tick. Empty means none.
type NotifType string

// Notification type values, wire-exact.
const (
	NotifRunCompletion NotifType = "Run Completion"
	NotifPOIPassage    NotifType = "POI Passage"
	NotifGapStart      NotifType = "Gap Start"
	NotifGapEnd        NotifType = "Gap End"
	NotifPre30         NotifType = "30 Min Upstream - Station"
	NotifPre15         NotifType = "15 Min Upstream - Station"
	NotifPeriodic      NotifType = "30 Min Update"
	NotifNone          NotifType = ""
)

// RouteUnknown is the sentinel route name reported while a pig is not bound
// to any legacy route.
const RouteUnknown = "Unknown"

// GapKind tells which boundary of a gap segment a GapPoint marks.
type GapKind string

// Gap boundary kinds.
const (
	GapStart GapKind = "start"
	GapEnd   GapKind = "end"
)

// PosSample is one telemetry point for a pig. At least one of GC/KP must be
// set for the sample to resolve to a position.
type PosSample struct {
	DT time.Time
	GC *int     // Global Channel
	KP *float64 // Kilometer Point
}

// POI is a point of interest (valve) on a legacy route.
type POI struct {
	Tag           string
	ValveType     string
	GlobalChannel *int
	KP            *float64
	LegacyRoute   string
}

// GapPoint is a gap boundary on a legacy route.
type GapPoint struct {
	LegacyRoute string
	Kind        GapKind
	KP          float64
}

// ActivePig identifies a pig with recent telemetry and its latest reported
// tool type.
type ActivePig struct {
	PigID    string `db:"pig_id"`
	ToolType string `db:"tool_type"`
}

// PositionMeters converts the sample to meters along the line: prefer KP,
// else the channel's mapped KP, else a linear channel conversion. The second
// return is false when the sample carries no position at all.
func (s PosSample) PositionMeters(gcToKP map[int]float64, metersPerChannel float64) (float64, bool) {
	if s.KP != nil {
		return *s.KP * 1000.0, true
	}
	if s.GC != nil {
		if kp, ok := gcToKP[*s.GC]; ok {
			return kp * 1000.0, true
		}
		return float64(*s.GC) * metersPerChannel, true
	}
	return 0, false
}

// PositionMeters converts the POI to meters along the line, with the same
// preference order as samples.
func (p POI) PositionMeters(gcToKP map[int]float64, metersPerChannel float64) (float64, bool) {
	if p.KP != nil {
		return *p.KP * 1000.0, true
	}
	if p.GlobalChannel != nil {
		if kp, ok := gcToKP[*p.GlobalChannel]; ok {
			return kp * 1000.0, true
		}
		return float64(*p.GlobalChannel) * metersPerChannel, true
	}
	return 0, false
}

// PositionMeters converts the gap boundary to meters along the line.
func (g GapPoint) PositionMeters() float64 {
	return g.KP * 1000.0
}
