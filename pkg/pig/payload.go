// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package pig

import (
	"fmt"
	"strconv"
	"time"
)

// TimeFormat is the wire format for payload timestamps: DD-MM-YY HHMMSS.
const TimeFormat = "02-01-06 150405"

// Payload is the notification body POSTed to the ingest endpoint. Every
// value is a string; optional fields are empty strings.
type Payload struct {
	PigID         string `json:"Pig ID"`
	ToolType      string `json:"Tool Type"`
	PigEvent      string `json:"Pig Event"`
	NotifType     string `json:"Notification Type"`
	Speed         string `json:"Speed"`
	PrevValveType string `json:"Previous Valve Type"`
	PrevValveTag  string `json:"Previous Valve Tag"`
	NextValveType string `json:"Next Valve Type"`
	NextValveTag  string `json:"Next Valve Tag"`
	ETANext       string `json:"ETA to the Next Valve"`
	ETAEnd        string `json:"ETA to the End"`
	LegacyRoute   string `json:"Legacy Route"`
	CurrentGC     string `json:"Current Global Channel"`
	CurrentKP     string `json:"Current KP"`
	Timestamp     string `json:"Timestamp"`
}

// FormatTime renders t in the payload time format, or "" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(TimeFormat)
}

// BuildPayload assembles the wire payload from one tick's decision inputs.
// prev/next may be nil; etaNext/etaEnd zero mean undefined; gc/kp nil mean
// the current sample carried no such field.
func BuildPayload(
	pigID string,
	toolType string,
	pigEvent Event,
	notifType NotifType,
	speedMPS float64,
	prev, next *POI,
	etaNext, etaEnd time.Time,
	legacyRoute string,
	currentGC *int,
	currentKP *float64,
	ts time.Time,
) Payload {
	p := Payload{
		PigID:       pigID,
		ToolType:    toolType,
		PigEvent:    string(pigEvent),
		NotifType:   string(notifType),
		Speed:       fmt.Sprintf("%.2f", speedMPS),
		ETANext:     FormatTime(etaNext),
		ETAEnd:      FormatTime(etaEnd),
		LegacyRoute: legacyRoute,
		Timestamp:   ts.Format(TimeFormat),
	}
	if prev != nil {
		p.PrevValveType = prev.ValveType
		p.PrevValveTag = prev.Tag
	}
	if next != nil {
		p.NextValveType = next.ValveType
		p.NextValveTag = next.Tag
	}
	if currentGC != nil {
		p.CurrentGC = strconv.Itoa(*currentGC)
	}
	if currentKP != nil {
		p.CurrentKP = fmt.Sprintf("%.3f", *currentKP)
	}
	return p
}
