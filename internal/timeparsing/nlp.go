package timeparsing

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// nlParser is shared across calls. when parsers are stateless after rule
// registration, so a package-level instance is safe.
var nlParser = newNLParser()

func newNLParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseNaturalLanguage parses English expressions like "tomorrow",
// "next monday at 2pm", "in 3 days" or "3 days ago" relative to now.
// Returns an error when the input contains no recognizable time expression.
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	r, err := nlParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("natural language parse failed: %w", err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("not a recognized time expression: %q", s)
	}
	return r.Time, nil
}

// ParseRelativeTime is the entry point used by flag parsing. Layers are
// tried in order: compact duration, then absolute timestamps, then natural
// language. Absolute formats run before the NLP layer so "2025-01-20" is
// never reinterpreted by a fuzzy rule.
func ParseRelativeTime(s string, now time.Time) (time.Time, error) {
	if IsCompactDuration(s) {
		return ParseCompactDuration(s, now)
	}

	// Date-only resolves to midnight in now's location.
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	if t, err := ParseNaturalLanguage(s, now); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("unrecognized time expression: %q (try +6h, -1d, \"yesterday\", 2006-01-02, or RFC3339)", s)
}
