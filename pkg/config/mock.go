// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import "strings"

// MockConfig should only be used in tests
type MockConfig struct {
	Config
}

// Mock returns a fresh config populated with the standard defaults, detached
// from the global instance so tests can mutate it freely.
func Mock() *MockConfig {
	c := NewConfig("pigtrack", "PIGTRACK", strings.NewReplacer(".", "_"))
	initConfig(c)
	return &MockConfig{Config: c}
}
