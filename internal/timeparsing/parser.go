// Package timeparsing turns relative date/time expressions into absolute
// times. It backs the --since flag on run-history queries, where agents
// tend to write "-1d" and humans tend to write "yesterday".
//
// Parsing is layered:
//  1. Compact duration (+6h, -1d, +2w)
//  2. Natural language (tomorrow, next monday, 3 days ago)
//  3. Absolute timestamp (date-only, RFC3339)
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// compactDurationRe matches compact duration syntax: [+-]?(\d+)([hdwmy])
var compactDurationRe = regexp.MustCompile(`^([+-]?)(\d+)([hdwmy])$`)

// ParseCompactDuration parses compact duration syntax relative to now.
//
// Units: h (hours), d (days), w (weeks), m (months), y (years).
// A missing sign means positive: "3m" is three months from now,
// "-1d" is one day ago. The time of day is preserved for d/w/m/y.
func ParseCompactDuration(s string, now time.Time) (time.Time, error) {
	matches := compactDurationRe.FindStringSubmatch(s)
	if matches == nil {
		return time.Time{}, fmt.Errorf("not a compact duration: %q", s)
	}

	sign := matches[1]
	amountStr := matches[2]
	unit := matches[3]

	amount, err := strconv.Atoi(amountStr)
	if err != nil {
		// The regex guarantees digits; this guards against overflow.
		return time.Time{}, fmt.Errorf("invalid duration amount: %q", amountStr)
	}

	if sign == "-" {
		amount = -amount
	}

	return applyDuration(now, amount, unit), nil
}

// applyDuration shifts base by amount units. Hours go through Add so DST
// transitions behave like wall-clock arithmetic; calendar units go through
// AddDate so "+1m" on Jan 31 normalizes the way the standard library does.
func applyDuration(base time.Time, amount int, unit string) time.Time {
	switch unit {
	case "h":
		return base.Add(time.Duration(amount) * time.Hour)
	case "d":
		return base.AddDate(0, 0, amount)
	case "w":
		return base.AddDate(0, 0, amount*7)
	case "m":
		return base.AddDate(0, amount, 0)
	case "y":
		return base.AddDate(amount, 0, 0)
	default:
		// Unreachable: the regex only admits hdwmy.
		return base
	}
}

// IsCompactDuration reports whether s looks like compact duration syntax.
// Used to pick a layer without consuming the error from a full parse.
func IsCompactDuration(s string) bool {
	return compactDurationRe.MatchString(s)
}
