// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cihub/seelog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBufferedLogger(t *testing.T, level string) *bytes.Buffer {
	var b bytes.Buffer
	l, err := seelog.LoggerFromWriterWithMinLevelAndFormat(&b, seelog.TraceLvl, "%LEVEL %Msg\n")
	require.NoError(t, err)
	SetupLogger(l, level)
	return &b
}

func TestLogLevelGating(t *testing.T) {
	b := setupBufferedLogger(t, "info")

	Debug("under the floor")
	Info("at the floor")
	Flush()

	out := b.String()
	assert.NotContains(t, out, "under the floor")
	assert.Contains(t, out, "at the floor")
}

func TestWarnReturnsError(t *testing.T) {
	b := setupBufferedLogger(t, "debug")

	err := Warnf("pig %s went quiet", "PIG-7")
	Flush()

	require.Error(t, err)
	assert.Equal(t, "pig PIG-7 went quiet", err.Error())
	assert.Contains(t, b.String(), "WARN pig PIG-7 went quiet")
}

func TestErrorReturnsError(t *testing.T) {
	b := setupBufferedLogger(t, "debug")

	err := Error("claim", "failed")
	Flush()

	require.Error(t, err)
	assert.Equal(t, "claimfailed", err.Error())
	assert.Contains(t, b.String(), "ERROR claim failed")
}

func TestChangeLogLevel(t *testing.T) {
	b := setupBufferedLogger(t, "info")

	Debug("invisible")
	l, err := seelog.LoggerFromWriterWithMinLevelAndFormat(b, seelog.TraceLvl, "%LEVEL %Msg\n")
	require.NoError(t, err)
	require.NoError(t, ChangeLogLevel(l, "debug"))

	lvl, err := GetLogLevel()
	require.NoError(t, err)
	assert.Equal(t, seelog.DebugLvl, lvl)

	Debug("visible now")
	Flush()

	out := b.String()
	assert.NotContains(t, out, "invisible")
	assert.Contains(t, out, "visible now")
}

func TestChangeLogLevelBadLevel(t *testing.T) {
	setupBufferedLogger(t, "info")

	l, err := seelog.LoggerFromWriterWithMinLevelAndFormat(&bytes.Buffer{}, seelog.TraceLvl, "%Msg")
	require.NoError(t, err)
	assert.Error(t, ChangeLogLevel(l, "upside-down"))
}

func TestBuildLogEntry(t *testing.T) {
	assert.Equal(t, "a b 3", buildLogEntry("a", "b", 3))
	assert.Equal(t, "solo", buildLogEntry("solo"))
}

func TestMultilineKeptVerbatim(t *testing.T) {
	b := setupBufferedLogger(t, "debug")

	Info("line one\nline two")
	Flush()

	assert.True(t, strings.Contains(b.String(), "line one\nline two"))
}
