// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package engine

import (
	"time"

	"github.com/pigtrack/pigtrack/pkg/config"
)

// Settings are the detection tunables. The engine consumes this struct and
// never reads configuration directly.
type Settings struct {
	MetersPerChannel float64
	POITolMeters     float64

	// Moving/Stopped classification looks back this far.
	StoppedWindow time.Duration

	// Half-width of the match window around ETA-30/ETA-15.
	PrePOIWindow time.Duration

	SpeedWindow      time.Duration
	SpeedShortWindow time.Duration
	MovingBoost      time.Duration
	MinSpeedDT       time.Duration

	// History pull for speed, longer than SpeedWindow so a reference
	// sample at or before now-SpeedWindow can be found.
	SpeedSearch time.Duration

	DefaultToolType string
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		MetersPerChannel: 25,
		POITolMeters:     50,
		StoppedWindow:    5 * time.Minute,
		PrePOIWindow:     time.Minute,
		SpeedWindow:      25 * time.Minute,
		SpeedShortWindow: 5 * time.Minute,
		MovingBoost:      10 * time.Minute,
		MinSpeedDT:       2 * time.Minute,
		SpeedSearch:      35 * time.Minute,
		DefaultToolType:  "Cleaning Tool",
	}
}

// SettingsFromConfig builds Settings from the loaded configuration.
func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		MetersPerChannel: cfg.GetFloat64("meters_per_channel"),
		POITolMeters:     cfg.GetFloat64("poi_tol_meters"),
		StoppedWindow:    time.Duration(cfg.GetInt("stopped_window_sec")) * time.Second,
		PrePOIWindow:     time.Duration(cfg.GetInt("prepoi_time_window_sec")) * time.Second,
		SpeedWindow:      time.Duration(cfg.GetInt("speed_window_sec")) * time.Second,
		SpeedShortWindow: time.Duration(cfg.GetInt("speed_short_window_sec")) * time.Second,
		MovingBoost:      time.Duration(cfg.GetInt("moving_boost_sec")) * time.Second,
		MinSpeedDT:       time.Duration(cfg.GetInt("min_speed_dt_sec")) * time.Second,
		SpeedSearch:      time.Duration(cfg.GetInt("speed_search_sec")) * time.Second,
		DefaultToolType:  cfg.GetString("default_tool_type"),
	}
}
