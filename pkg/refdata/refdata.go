// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package refdata loads the static reference data (channel→kp map, POIs,
// gap boundaries) from CSV files and groups POIs into ordered routes. The
// provider is immutable once loaded.
package refdata

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pigtrack/pigtrack/pkg/pig"
)

// Provider serves the loaded reference data set.
type Provider struct {
	gcToKP   map[int]float64
	pois     []pig.POI
	gaps     []pig.GapPoint
	routes   map[string][]pig.POI
	warnings []error
}

// New builds a provider from already-parsed reference data. Route groups are
// derived from the POIs.
func New(gcToKP map[int]float64, pois []pig.POI, gaps []pig.GapPoint) *Provider {
	if gcToKP == nil {
		gcToKP = map[int]float64{}
	}
	return &Provider{
		gcToKP: gcToKP,
		pois:   pois,
		gaps:   gaps,
		routes: BuildRoutes(pois),
	}
}

// GCToKP returns the channel→kilometer map.
func (p *Provider) GCToKP() map[int]float64 { return p.gcToKP }

// POIs returns all points of interest in load order.
func (p *Provider) POIs() []pig.POI { return p.pois }

// Gaps returns all gap boundaries in load order.
func (p *Provider) Gaps() []pig.GapPoint { return p.gaps }

// Routes returns the POIs grouped by route name, each group in position
// order.
func (p *Provider) Routes() map[string][]pig.POI { return p.routes }

// Route returns the POI group for a route name, trying the name as given
// and then its normalized form. Nil when the route is not known.
func (p *Provider) Route(name string) []pig.POI {
	if group, ok := p.routes[name]; ok {
		return group
	}
	return p.routes[NormalizeRoute(name)]
}

// Warnings returns the row-level problems tolerated during a lenient load.
func (p *Provider) Warnings() []error { return p.warnings }

// NormalizeRoute canonicalizes a route name for comparison: trimmed,
// lowercased, blank becomes "unknown".
func NormalizeRoute(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return strings.ToLower(s)
}

// BuildRoutes groups POIs by route name and sorts each group by position:
// kp ascending with missing kp last, then channel ascending with missing
// channel last, then tag.
func BuildRoutes(pois []pig.POI) map[string][]pig.POI {
	routes := map[string][]pig.POI{}
	for _, p := range pois {
		name := p.LegacyRoute
		if name == "" {
			name = "Unknown"
		}
		routes[name] = append(routes[name], p)
	}
	for name := range routes {
		group := routes[name]
		sort.SliceStable(group, func(i, j int) bool {
			return lessPOI(group[i], group[j])
		})
	}
	return routes
}

func lessPOI(a, b pig.POI) bool {
	aKP, bKP := math.Inf(1), math.Inf(1)
	aKPMissing, bKPMissing := 1, 1
	if a.KP != nil {
		aKP, aKPMissing = *a.KP, 0
	}
	if b.KP != nil {
		bKP, bKPMissing = *b.KP, 0
	}
	if aKPMissing != bKPMissing {
		return aKPMissing < bKPMissing
	}
	if aKP != bKP {
		return aKP < bKP
	}

	aGC, bGC := int(1e12), int(1e12)
	aGCMissing, bGCMissing := 1, 1
	if a.GlobalChannel != nil {
		aGC, aGCMissing = *a.GlobalChannel, 0
	}
	if b.GlobalChannel != nil {
		bGC, bGCMissing = *b.GlobalChannel, 0
	}
	if aGCMissing != bGCMissing {
		return aGCMissing < bGCMissing
	}
	if aGC != bGC {
		return aGC < bGC
	}
	return a.Tag < b.Tag
}

// pick returns the first non-blank value among the alternative headers,
// trimmed, or "".
func pick(row map[string]string, alternatives ...string) string {
	for _, key := range alternatives {
		if v, ok := row[key]; ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// parseGC parses a channel number the tolerant way: float syntax accepted,
// truncated to int.
func parseGC(s string) (int, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad channel %q: %w", s, err)
	}
	return int(f), nil
}
