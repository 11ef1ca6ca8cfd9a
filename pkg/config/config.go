// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package config holds the global pigtrack configuration: a viper instance
// with every known key bound to a default and to a PIGTRACK_ environment
// variable. Components do not read viper directly; they build their settings
// structs from the accessors here at startup.
package config

import (
	"strings"
	"sync"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Pigtrack is the global configuration object
var Pigtrack Config

// LoggerName specifies the name of the process that emits log entries.
type LoggerName string

// Config represents an object that can load and store configuration
// parameters coming from defaults, a yaml file, environment variables and
// command line flags.
type Config interface {
	Set(key string, value interface{})
	SetDefault(key string, value interface{})
	IsSet(key string) bool

	Get(key string) interface{}
	GetBool(key string) bool
	GetInt(key string) int
	GetInt64(key string) int64
	GetFloat64(key string) float64
	GetString(key string) string
	GetStringSlice(key string) []string

	BindEnv(input ...string)
	BindEnvAndSetDefault(key string, val interface{})

	ReadInConfig() error
	AddConfigPath(in string)
	SetConfigName(in string)
	SetConfigFile(in string)
	ConfigFileUsed() string
	AllSettings() map[string]interface{}

	BindPFlag(key string, flag *pflag.Flag) error
}

// safeConfig wraps viper with a lock so that concurrent readers do not race
// the startup code that still mutates the instance.
type safeConfig struct {
	*viper.Viper
	sync.RWMutex
}

func (c *safeConfig) Set(key string, value interface{}) {
	c.Lock()
	defer c.Unlock()
	c.Viper.Set(key, value)
}

func (c *safeConfig) SetDefault(key string, value interface{}) {
	c.Lock()
	defer c.Unlock()
	c.Viper.SetDefault(key, value)
}

func (c *safeConfig) IsSet(key string) bool {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.IsSet(key)
}

func (c *safeConfig) Get(key string) interface{} {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.Get(key)
}

func (c *safeConfig) GetBool(key string) bool {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetBool(key)
}

func (c *safeConfig) GetInt(key string) int {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetInt(key)
}

func (c *safeConfig) GetInt64(key string) int64 {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetInt64(key)
}

func (c *safeConfig) GetFloat64(key string) float64 {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetFloat64(key)
}

func (c *safeConfig) GetString(key string) string {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetString(key)
}

func (c *safeConfig) GetStringSlice(key string) []string {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.GetStringSlice(key)
}

func (c *safeConfig) BindEnv(input ...string) {
	c.Lock()
	defer c.Unlock()
	c.Viper.BindEnv(input...) //nolint:errcheck
}

// BindEnvAndSetDefault binds a key to the matching PIGTRACK_ environment
// variable and sets its default value.
func (c *safeConfig) BindEnvAndSetDefault(key string, val interface{}) {
	c.Lock()
	defer c.Unlock()
	c.Viper.SetDefault(key, val)
	c.Viper.BindEnv(key) //nolint:errcheck
}

func (c *safeConfig) ReadInConfig() error {
	c.Lock()
	defer c.Unlock()
	return c.Viper.ReadInConfig()
}

func (c *safeConfig) AddConfigPath(in string) {
	c.Lock()
	defer c.Unlock()
	c.Viper.AddConfigPath(in)
}

func (c *safeConfig) SetConfigName(in string) {
	c.Lock()
	defer c.Unlock()
	c.Viper.SetConfigName(in)
}

func (c *safeConfig) SetConfigFile(in string) {
	c.Lock()
	defer c.Unlock()
	c.Viper.SetConfigFile(in)
}

func (c *safeConfig) ConfigFileUsed() string {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.ConfigFileUsed()
}

func (c *safeConfig) AllSettings() map[string]interface{} {
	c.RLock()
	defer c.RUnlock()
	return c.Viper.AllSettings()
}

func (c *safeConfig) BindPFlag(key string, flag *pflag.Flag) error {
	c.Lock()
	defer c.Unlock()
	return c.Viper.BindPFlag(key, flag)
}

// NewConfig returns a new Config object.
func NewConfig(name string, envPrefix string, envKeyReplacer *strings.Replacer) Config {
	config := safeConfig{
		Viper: viper.New(),
	}
	config.Viper.SetConfigName(name)
	config.Viper.SetEnvPrefix(envPrefix)
	config.Viper.SetEnvKeyReplacer(envKeyReplacer)
	config.Viper.SetTypeByDefaultValue(true)
	config.Viper.AutomaticEnv()
	return &config
}

func init() {
	Pigtrack = NewConfig("pigtrack", "PIGTRACK", strings.NewReplacer(".", "_"))
	initConfig(Pigtrack)
}

// initConfig initializes the config defaults on a config
func initConfig(config Config) {
	// Don't set defaults on the DSN and the delivery URL so startup can tell
	// "unset" apart from "misconfigured"
	config.BindEnv("pg_dsn")
	config.BindEnv("ingest_url")
	config.BindEnvAndSetDefault("pg_auto_migrate", false)

	config.BindEnvAndSetDefault("log_level", "info")
	config.BindEnvAndSetDefault("log_file", "")

	// Position model
	config.BindEnvAndSetDefault("meters_per_channel", 25.0)
	config.BindEnvAndSetDefault("poi_tol_meters", 50.0)

	// Detection engine
	config.BindEnvAndSetDefault("stopped_window_sec", 300)
	config.BindEnvAndSetDefault("prepoi_time_window_sec", 60)
	config.BindEnvAndSetDefault("speed_window_sec", 1500)
	config.BindEnvAndSetDefault("speed_short_window_sec", 300)
	config.BindEnvAndSetDefault("moving_boost_sec", 600)
	config.BindEnvAndSetDefault("min_speed_dt_sec", 120)
	config.BindEnvAndSetDefault("speed_search_sec", 2100)
	config.BindEnvAndSetDefault("default_tool_type", "Cleaning Tool")

	// Detector worker
	config.BindEnvAndSetDefault("detector_poll_sec", 10)
	config.BindEnvAndSetDefault("active_lookback_min", 1440)

	// Sender workers
	config.BindEnvAndSetDefault("sender_batch", 5)
	config.BindEnvAndSetDefault("sender_sleep_sec", 2)
	config.BindEnvAndSetDefault("sender_workers", 1)
	config.BindEnvAndSetDefault("sender_name", "sender_1")
	config.BindEnvAndSetDefault("sender_reclaim_loops", 10)
	config.BindEnvAndSetDefault("max_attempts", 5)
	config.BindEnvAndSetDefault("stale_sending_sec", 300)

	// Reference data
	config.BindEnvAndSetDefault("ref_gc_kp_csv", "ref/gc_kp.csv")
	config.BindEnvAndSetDefault("ref_pois_csv", "ref/pois.csv")
	config.BindEnvAndSetDefault("ref_gaps_csv", "ref/gaps.csv")
	config.BindEnvAndSetDefault("ref_strict", false)

	// Telegram approvals
	config.BindEnvAndSetDefault("telegram_token", "")
	config.BindEnvAndSetDefault("telegram_chat_id", "")
	config.BindEnvAndSetDefault("telegram_poll_sec", 2)
	config.BindEnvAndSetDefault("telegram_offset_file", ".tg_update_offset")
	config.BindEnvAndSetDefault("approval_page_size", 3)

	// Maintenance
	config.BindEnvAndSetDefault("state_eviction_days", 30)
	config.BindEnvAndSetDefault("maintenance_schedule", "@hourly")

	// Telemetry ingest stub
	config.BindEnvAndSetDefault("ingest_stub_addr", ":8099")
}

// Load reads the config file found on the search paths, if any. A missing
// file is not an error: every key still resolves through env vars and
// defaults.
func Load() error {
	if err := Pigtrack.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}
	return nil
}
