// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package pig

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func TestSamplePositionMeters(t *testing.T) {
	gcToKP := map[int]float64{100: 2.5}

	tests := []struct {
		name   string
		sample PosSample
		wantM  float64
		wantOK bool
	}{
		{"kp wins", PosSample{KP: floatp(10.0), GC: intp(100)}, 10000.0, true},
		{"mapped channel", PosSample{GC: intp(100)}, 2500.0, true},
		{"unmapped channel linear", PosSample{GC: intp(40)}, 1000.0, true},
		{"no position", PosSample{}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := tt.sample.PositionMeters(gcToKP, 25.0)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.InDelta(t, tt.wantM, m, 1e-9)
			}
		})
	}
}

func TestPOIPositionMeters(t *testing.T) {
	gcToKP := map[int]float64{7: 1.2}

	m, ok := POI{Tag: "V1", KP: floatp(10.0)}.PositionMeters(gcToKP, 25.0)
	require.True(t, ok)
	assert.InDelta(t, 10000.0, m, 1e-9)

	m, ok = POI{Tag: "V2", GlobalChannel: intp(7)}.PositionMeters(gcToKP, 25.0)
	require.True(t, ok)
	assert.InDelta(t, 1200.0, m, 1e-9)

	m, ok = POI{Tag: "V3", GlobalChannel: intp(8)}.PositionMeters(gcToKP, 25.0)
	require.True(t, ok)
	assert.InDelta(t, 200.0, m, 1e-9)

	_, ok = POI{Tag: "V4"}.PositionMeters(gcToKP, 25.0)
	assert.False(t, ok)
}

func TestBuildPayloadFields(t *testing.T) {
	ts := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	eta := time.Date(2025, 3, 14, 16, 0, 0, 0, time.UTC)
	prev := &POI{Tag: "V1", ValveType: "Block Valve"}
	next := &POI{Tag: "V2", ValveType: "Check Valve"}

	p := BuildPayload("PIG_001", "Cleaning Tool", EventMoving, NotifPOIPassage,
		1.2345, prev, next, eta, time.Time{}, "R", intp(480), floatp(12.0005), ts)

	assert.Equal(t, "PIG_001", p.PigID)
	assert.Equal(t, "Moving", p.PigEvent)
	assert.Equal(t, "POI Passage", p.NotifType)
	assert.Equal(t, "1.23", p.Speed)
	assert.Equal(t, "Block Valve", p.PrevValveType)
	assert.Equal(t, "V1", p.PrevValveTag)
	assert.Equal(t, "Check Valve", p.NextValveType)
	assert.Equal(t, "V2", p.NextValveTag)
	assert.Equal(t, "14-03-25 160000", p.ETANext)
	assert.Equal(t, "", p.ETAEnd)
	assert.Equal(t, "480", p.CurrentGC)
	assert.Equal(t, "12.001", p.CurrentKP)
	assert.Equal(t, "14-03-25 150926", p.Timestamp)
}

func TestBuildPayloadEmptyOptionals(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	p := BuildPayload("PIG_002", "Cleaning Tool", EventNotDetected, NotifNone,
		0, nil, nil, time.Time{}, time.Time{}, "Unknown", nil, nil, ts)

	assert.Equal(t, "Not Detected", p.PigEvent)
	assert.Equal(t, "", p.NotifType)
	assert.Equal(t, "0.00", p.Speed)
	assert.Equal(t, "", p.PrevValveTag)
	assert.Equal(t, "", p.NextValveTag)
	assert.Equal(t, "", p.ETANext)
	assert.Equal(t, "", p.CurrentGC)
	assert.Equal(t, "", p.CurrentKP)
	assert.Equal(t, "02-01-25 030405", p.Timestamp)
}

func TestPayloadJSONKeys(t *testing.T) {
	raw, err := json.Marshal(Payload{PigID: "PIG_001"})
	require.NoError(t, err)

	var m map[string]string
	require.NoError(t, json.Unmarshal(raw, &m))

	for _, key := range []string{
		"Pig ID", "Tool Type", "Pig Event", "Notification Type", "Speed",
		"Previous Valve Type", "Previous Valve Tag", "Next Valve Type",
		"Next Valve Tag", "ETA to the Next Valve", "ETA to the End",
		"Legacy Route", "Current Global Channel", "Current KP", "Timestamp",
	} {
		_, ok := m[key]
		assert.True(t, ok, "missing key %q", key)
	}
	assert.Len(t, m, 15)
}

func TestStateClearRun(t *testing.T) {
	now := time.Now()
	s := State{
		LockedLegacyRoute: "R",
		FirstNotifAt:      &now,
		LastNotifAt:       &now,
		FiredPre30ForTag:  "V2",
		FiredPre15ForTag:  "V2",
		LastEvent:         EventMoving,
		LastEventDT:       &now,
		MovingStartedAt:   &now,
		LockedToolType:    "Caliper Tool",
	}
	s.ClearRun()

	assert.Empty(t, s.LockedLegacyRoute)
	assert.Nil(t, s.FirstNotifAt)
	assert.NotNil(t, s.LastNotifAt) // watermark survives
	assert.Empty(t, s.FiredPre30ForTag)
	assert.Empty(t, s.FiredPre15ForTag)
	assert.Nil(t, s.MovingStartedAt)
	assert.Empty(t, s.LockedToolType)
	assert.Equal(t, EventMoving, s.LastEvent)
}

func TestStateJSONRoundTrip(t *testing.T) {
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s := State{
		LockedLegacyRoute: "R",
		LastEvent:         EventStopped,
		LastEventDT:       &at,
	}
	raw, err := json.Marshal(s)
	require.NoError(t, err)

	var back State
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, s.LockedLegacyRoute, back.LockedLegacyRoute)
	assert.Equal(t, s.LastEvent, back.LastEvent)
	require.NotNil(t, back.LastEventDT)
	assert.True(t, at.Equal(*back.LastEventDT))
	assert.Nil(t, back.MovingStartedAt)
}
