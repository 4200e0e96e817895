// Package normalize turns free-text provider price-unit strings into a
// structured quantity. Parsing is a pure function of the input and never
// fails; fields a unit string does not carry are simply left empty.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

// Unit is the structured form of a raw price-unit string such as "Hrs",
// "1K GB-Second" or "100 GiB-Hours".
type Unit struct {
	// Amount is the magnitude multiplier carried by the unit string, with
	// K/M/B suffixes expanded. Defaults to 1 when no quantity is present.
	Amount float64 `json:"amount"`

	// Base is the measured thing (GB, Requests, Hrs). For bare period tokens
	// the raw token is preserved here.
	Base string `json:"base"`

	// Period is the canonical temporal period when one is recognized:
	// second, minute, hour, day, month or year.
	Period string `json:"period"`

	// Modifier carries a provider qualifier split off a composite unit,
	// e.g. the "Lambda" in "Lambda-GB-Second".
	Modifier string `json:"modifier"`

	// Notes holds the raw input when no part of it was recognized.
	Notes string `json:"notes"`
}

// quantityRe matches an optional leading quantity with an optional K/M/B
// magnitude suffix, e.g. "1K", "100", "1.5M GB-Second".
var quantityRe = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*([KMBkmb])?\b\s*(.*)$`)

var magnitudes = map[string]float64{
	"k": 1e3,
	"m": 1e6,
	"b": 1e9,
}

// periods maps the period spellings seen across provider dumps to their
// canonical names.
var periods = map[string]string{
	"second":  "second",
	"seconds": "second",
	"sec":     "second",
	"secs":    "second",
	"minute":  "minute",
	"minutes": "minute",
	"min":     "minute",
	"mins":    "minute",
	"hour":    "hour",
	"hours":   "hour",
	"hr":      "hour",
	"hrs":     "hour",
	"day":     "day",
	"days":    "day",
	"month":   "month",
	"months":  "month",
	"mo":      "month",
	"mon":     "month",
	"year":    "year",
	"years":   "year",
	"yr":      "year",
	"yrs":     "year",
	"annual":  "year",
}

// composites special-cases the multi-part units that do not follow the plain
// base-period split.
var composites = map[string]Unit{
	"gb-second":        {Base: "GB", Period: "second"},
	"gb-seconds":       {Base: "GB", Period: "second"},
	"gib-hour":         {Base: "GiB", Period: "hour"},
	"gib-hours":        {Base: "GiB", Period: "hour"},
	"lambda-gb-second": {Base: "GB", Period: "second", Modifier: "Lambda"},
}

// Parse normalizes a raw price-unit string. It always returns a usable Unit:
// recognized parts are extracted, everything else lands in Notes.
func Parse(raw string) Unit {
	unit := Unit{Amount: 1}

	text := strings.TrimSpace(raw)
	if text == "" {
		return unit
	}

	if m := quantityRe.FindStringSubmatch(text); m != nil {
		amount, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			unit.Amount = amount
			if mult, ok := magnitudes[strings.ToLower(m[2])]; ok {
				unit.Amount *= mult
			}
			text = strings.TrimSpace(m[3])
		}
	}

	if text == "" {
		return unit
	}

	lower := strings.ToLower(text)

	if composite, ok := composites[lower]; ok {
		unit.Base = composite.Base
		unit.Period = composite.Period
		unit.Modifier = composite.Modifier
		return unit
	}

	// A bare period token keeps the raw spelling as the base so the
	// original unit stays visible downstream ("Hrs" -> base Hrs, period hour).
	if period, ok := periods[lower]; ok {
		unit.Base = text
		unit.Period = period
		return unit
	}

	// General composite: the last hyphen-separated token names the period,
	// everything before it is the base ("Instance-Hour" -> Instance, hour).
	if idx := strings.LastIndex(text, "-"); idx > 0 {
		tail := strings.ToLower(text[idx+1:])
		if period, ok := periods[tail]; ok {
			unit.Base = text[:idx]
			unit.Period = period
			return unit
		}
	}

	// Slash-separated rate forms ("GB/month", "Requests/hour").
	if idx := strings.LastIndex(text, "/"); idx > 0 {
		tail := strings.ToLower(strings.TrimSpace(text[idx+1:]))
		if period, ok := periods[tail]; ok {
			unit.Base = strings.TrimSpace(text[:idx])
			unit.Period = period
			return unit
		}
	}

	if isWord(text) {
		unit.Base = text
		return unit
	}

	// Nothing recognized beyond a possible quantity. Keep the raw text so
	// the caller can still see what the provider sent.
	unit.Notes = raw
	return unit
}

func isWord(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return s != ""
}
