// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package refdata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pigtrack/pigtrack/pkg/pig"
)

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNormalizeRoute(t *testing.T) {
	assert.Equal(t, "north line", NormalizeRoute("  North Line "))
	assert.Equal(t, "unknown", NormalizeRoute(""))
	assert.Equal(t, "unknown", NormalizeRoute("   "))
}

func TestLoadGCToKP(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "gc_kp.csv",
		"Global Channel,KP\n100,2.5\n200.0,5.125\n,9.9\nbroken,1.0\n")

	p, err := Load(path, "", "", false)
	require.NoError(t, err)

	m := p.GCToKP()
	assert.Equal(t, map[int]float64{100: 2.5, 200: 5.125}, m)
	// the blank-channel row is skipped silently, the broken one is a warning
	require.Len(t, p.Warnings(), 1)
	assert.Contains(t, p.Warnings()[0].Error(), "broken")
}

func TestLoadGCToKPAlternativeHeaders(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "gc_kp.csv", "GC,matched_kp\n7,1.2\n")

	p, err := Load(path, "", "", false)
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{7: 1.2}, p.GCToKP())
}

func TestLoadPOIs(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "pois.csv",
		"Valve Tag,Valve Type,Global Channel,KP,Legacy Route Name\n"+
			"V1,Block Valve,400,10.0,Route R\n"+
			"V2,Check Valve,,11.0,Route R\n"+
			",Orphan,500,12.0,Route R\n"+
			"V3,Block Valve,,,Route R\n")

	p, err := Load("", path, "", false)
	require.NoError(t, err)

	pois := p.POIs()
	require.Len(t, pois, 3)
	assert.Equal(t, "V1", pois[0].Tag)
	assert.Equal(t, "route r", pois[0].LegacyRoute)
	require.NotNil(t, pois[0].GlobalChannel)
	assert.Equal(t, 400, *pois[0].GlobalChannel)
	require.NotNil(t, pois[0].KP)
	assert.Equal(t, 10.0, *pois[0].KP)

	assert.Nil(t, pois[1].GlobalChannel)

	// V3 has no position but is kept
	assert.Equal(t, "V3", pois[2].Tag)
	assert.Nil(t, pois[2].KP)
	assert.Nil(t, pois[2].GlobalChannel)

	// one missing-tag warning, one position-less warning
	assert.Len(t, p.Warnings(), 2)
}

func TestLoadPOIsStrict(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "pois.csv",
		"Valve Tag,KP,Legacy Route\n,10.0,R\n")

	_, err := Load("", path, "", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing valve tag")
}

func TestLoadGaps(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "gaps.csv",
		"Legacy Route Name,Gap,KP\n"+
			"Route R,Gap Start,10.5\n"+
			"Route R,gap END,11.5\n"+
			"Route R,neither,12.5\n"+
			"Route R,Gap Start,\n")

	p, err := Load("", "", path, false)
	require.NoError(t, err)

	gaps := p.Gaps()
	require.Len(t, gaps, 2)
	assert.Equal(t, pig.GapStart, gaps[0].Kind)
	assert.Equal(t, 10.5, gaps[0].KP)
	assert.Equal(t, "route r", gaps[0].LegacyRoute)
	assert.Equal(t, pig.GapEnd, gaps[1].Kind)
	assert.Len(t, p.Warnings(), 2)
}

func TestLoadMissingFiles(t *testing.T) {
	p, err := Load("/nonexistent/gc.csv", "/nonexistent/pois.csv", "/nonexistent/gaps.csv", true)
	require.NoError(t, err)
	assert.Empty(t, p.GCToKP())
	assert.Empty(t, p.POIs())
	assert.Empty(t, p.Gaps())
}

func TestLoadBOMHeader(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "gc_kp.csv", "\uFEFFGlobal Channel,KP\n1,0.5\n")

	p, err := Load(path, "", "", false)
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{1: 0.5}, p.GCToKP())
}

func TestBuildRoutesOrdering(t *testing.T) {
	kp := func(v float64) *float64 { return &v }
	gc := func(v int) *int { return &v }

	pois := []pig.POI{
		{Tag: "D", LegacyRoute: "r"},                          // no position: last
		{Tag: "C", LegacyRoute: "r", GlobalChannel: gc(300)},  // gc only: after kp rows
		{Tag: "B", LegacyRoute: "r", KP: kp(11.0)},
		{Tag: "A", LegacyRoute: "r", KP: kp(10.0), GlobalChannel: gc(999)},
		{Tag: "X", LegacyRoute: ""},                           // grouped under Unknown
	}
	routes := BuildRoutes(pois)

	require.Len(t, routes["r"], 4)
	tags := []string{routes["r"][0].Tag, routes["r"][1].Tag, routes["r"][2].Tag, routes["r"][3].Tag}
	assert.Equal(t, []string{"A", "B", "C", "D"}, tags)

	require.Len(t, routes["Unknown"], 1)
	assert.Equal(t, "X", routes["Unknown"][0].Tag)
}

func TestBuildRoutesTieByTag(t *testing.T) {
	kp := func(v float64) *float64 { return &v }
	pois := []pig.POI{
		{Tag: "V2", LegacyRoute: "r", KP: kp(10.0)},
		{Tag: "V1", LegacyRoute: "r", KP: kp(10.0)},
	}
	routes := BuildRoutes(pois)
	assert.Equal(t, "V1", routes["r"][0].Tag)
	assert.Equal(t, "V2", routes["r"][1].Tag)
}
