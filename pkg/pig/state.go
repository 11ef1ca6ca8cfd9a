// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package pig

import "time"

// State is the persisted per-pig decision state. It has a single writer (the
// engine, serialized per pig by the detector) and is read whole, mutated and
// written back on every tick.
type State struct {
	// Sticky route: kept until a Completed decision clears it.
	LockedLegacyRoute string `json:"locked_legacy_route"`

	// 30-min update cadence.
	FirstNotifAt *time.Time `json:"first_notif_at"`
	LastNotifAt  *time.Time `json:"last_notif_at"`

	// Pre-POI dedup: the tag each warning last fired for.
	FiredPre30ForTag string `json:"fired_pre30_for_tag"`
	FiredPre15ForTag string `json:"fired_pre15_for_tag"`

	// Motion transitions, for speed window selection.
	LastEvent       Event      `json:"last_event"`
	LastEventDT     *time.Time `json:"last_event_dt"`
	MovingStartedAt *time.Time `json:"moving_started_at"`

	// Operator override for the reported tool type. The engine honors and
	// clears it on Completed but never sets it.
	LockedToolType string `json:"locked_tool_type"`
}

// ClearRun resets the per-run fields after a Completed decision: the sticky
// route, the pre-POI flags, the motion transition marker, the tool override
// and the cadence anchor. LastNotifAt survives as a historical watermark.
func (s *State) ClearRun() {
	s.LockedLegacyRoute = ""
	s.FiredPre30ForTag = ""
	s.FiredPre15ForTag = ""
	s.MovingStartedAt = nil
	s.LockedToolType = ""
	s.FirstNotifAt = nil
}
