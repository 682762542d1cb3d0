package parser

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"filingbot/types"
)

var (
	errMissingValue = errors.New("missing value")
	errNotFinite    = errors.New("not a finite number")
)

// parseNumber reads a reported numeric value, tolerating thousands separators
// and a leading currency sign. Empty input is errMissingValue.
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "%")
	if s == "" {
		return 0, errMissingValue
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotFinite
	}
	return v, nil
}

// requiredNumber accepts only present, non-negative numbers.
func requiredNumber(s string) (float64, bool) {
	v, err := parseNumber(s)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// optionalNumber accepts a missing value as zero but rejects garbage.
func optionalNumber(s string) (float64, bool) {
	v, err := parseNumber(s)
	if errors.Is(err, errMissingValue) {
		return 0, true
	}
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

var dateLayouts = []string{
	types.DateLayout,
	"01/02/2006",
	"01-02-2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan. 2, 2006",
	"Jan 2, 2006",
	"20060102",
}

// normalizeDate converts the date formats seen in filings to YYYY-MM-DD.
// It returns "" for anything unrecognised.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > len(types.DateLayout) && s[4] == '-' {
		// 2026-01-30-05:00 carries a zone suffix
		s = s[:len(types.DateLayout)]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(types.DateLayout)
		}
	}
	return ""
}

func trimCIK(cik string) string {
	cik = strings.TrimLeft(strings.TrimSpace(cik), "0")
	if cik == "" {
		return "0"
	}
	return cik
}

func isTrue(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "y", "yes":
		return true
	}
	return false
}
