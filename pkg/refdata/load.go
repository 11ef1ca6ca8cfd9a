// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package refdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/pigtrack/pigtrack/pkg/pig"
)

// Load reads the three reference CSVs. A missing file yields an empty set
// for that kind; an unreadable or malformed file fails the load. Row-level
// problems are collected: with strict=false they become Warnings() on the
// returned provider, with strict=true they fail the load as one multierror.
func Load(gcKPPath, poisPath, gapsPath string, strict bool) (*Provider, error) {
	var problems *multierror.Error

	gcToKP, rowErrs, err := loadGCToKP(gcKPPath)
	if err != nil {
		return nil, err
	}
	problems = appendAll(problems, rowErrs)

	pois, rowErrs, err := loadPOIs(poisPath)
	if err != nil {
		return nil, err
	}
	problems = appendAll(problems, rowErrs)

	gaps, rowErrs, err := loadGaps(gapsPath)
	if err != nil {
		return nil, err
	}
	problems = appendAll(problems, rowErrs)

	if strict && problems.ErrorOrNil() != nil {
		return nil, problems.ErrorOrNil()
	}

	p := New(gcToKP, pois, gaps)
	if problems != nil {
		p.warnings = problems.Errors
	}
	return p, nil
}

func appendAll(dst *multierror.Error, errs []error) *multierror.Error {
	for _, err := range errs {
		dst = multierror.Append(dst, err)
	}
	return dst
}

// readRows parses a CSV into header-keyed rows. The first header cell has
// any UTF-8 BOM stripped. Returns nil rows for a missing file.
func readRows(path string) ([]map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	var rows []map[string]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(record) {
				row[strings.TrimSpace(name)] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func loadGCToKP(path string) (map[int]float64, []error, error) {
	m := map[int]float64{}
	rows, err := readRows(path)
	if err != nil {
		return nil, nil, err
	}

	var errs []error
	for i, row := range rows {
		gcS := pick(row, "Global Channel", "GC")
		kpS := pick(row, "KP", "matched_kp", "kp")
		if gcS == "" || kpS == "" {
			continue
		}
		gc, err := parseGC(gcS)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s row %d: %w", filepath.Base(path), i+2, err))
			continue
		}
		kp, err := strconv.ParseFloat(kpS, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s row %d: bad kp %q", filepath.Base(path), i+2, kpS))
			continue
		}
		m[gc] = kp
	}
	return m, errs, nil
}

func loadPOIs(path string) ([]pig.POI, []error, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, nil, err
	}

	var out []pig.POI
	var errs []error
	for i, row := range rows {
		tag := pick(row, "Valve Tag", "Tag")
		if tag == "" {
			errs = append(errs, fmt.Errorf("%s row %d: missing valve tag", filepath.Base(path), i+2))
			continue
		}
		legacy := pick(row, "Legacy Route Name", "Legacy Route", "Legacy")
		p := pig.POI{
			Tag:         tag,
			ValveType:   pick(row, "Valve Type", "Type"),
			LegacyRoute: NormalizeRoute(legacy),
		}
		if gcS := pick(row, "Global Channel", "GC"); gcS != "" {
			if gc, err := parseGC(gcS); err == nil {
				p.GlobalChannel = &gc
			}
		}
		if kpS := pick(row, "KP", "matched_kp", "kp"); kpS != "" {
			if kp, err := strconv.ParseFloat(kpS, 64); err == nil {
				p.KP = &kp
			}
		}
		if p.GlobalChannel == nil && p.KP == nil {
			errs = append(errs, fmt.Errorf("%s row %d: poi %q has no position", filepath.Base(path), i+2, tag))
		}
		out = append(out, p)
	}
	return out, errs, nil
}

func loadGaps(path string) ([]pig.GapPoint, []error, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, nil, err
	}

	var out []pig.GapPoint
	var errs []error
	for i, row := range rows {
		legacy := pick(row, "Legacy Route Name", "Legacy Route", "legacy_route", "route")
		kindRaw := strings.ToLower(pick(row, "Gap", "Gap Type", "gap", "kind"))
		kpS := pick(row, "KP", "kp")
		if kpS == "" {
			errs = append(errs, fmt.Errorf("%s row %d: missing kp", filepath.Base(path), i+2))
			continue
		}
		kp, err := strconv.ParseFloat(kpS, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s row %d: bad kp %q", filepath.Base(path), i+2, kpS))
			continue
		}

		var kind pig.GapKind
		switch {
		case strings.Contains(kindRaw, "start"):
			kind = pig.GapStart
		case strings.Contains(kindRaw, "end"):
			kind = pig.GapEnd
		default:
			errs = append(errs, fmt.Errorf("%s row %d: unrecognized gap kind %q", filepath.Base(path), i+2, kindRaw))
			continue
		}

		out = append(out, pig.GapPoint{
			LegacyRoute: NormalizeRoute(legacy),
			Kind:        kind,
			KP:          kp,
		})
	}
	return out, errs, nil
}
