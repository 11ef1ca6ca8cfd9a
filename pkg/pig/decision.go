// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package pig

import "time"

// Decision is the engine's output for one tick: the snapshot payload plus
// the identity fields the outbox needs to build a dedup fingerprint. The
// payload alone cannot carry those (gap identity and the cadence anchor are
// not wire fields).
type Decision struct {
	PigID     string
	ToolType  string
	Event     Event
	NotifType NotifType

	// Route bound at decision time ("Unknown" when none).
	Route string

	// TargetTag is the POI the notification is about: the passed POI for
	// POI Passage, the upcoming POI for the pre-POI warnings, the end POI
	// for Run Completion. Empty otherwise.
	TargetTag string

	// GapKP is the matched gap boundary (kilometers) for Gap Start/End.
	GapKP float64

	// WindowStart anchors the periodic-update cadence window.
	WindowStart time.Time

	Payload Payload
}

// Notifiable reports whether the decision selected a notification.
func (d Decision) Notifiable() bool {
	return d.NotifType != NotifNone
}
