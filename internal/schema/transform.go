package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var countRe = regexp.MustCompile(`([\d.]+)\s*([KkMm]?)`)

// ParseCount reads a human-formatted counter ("1,234", "5.2K", "1.1M")
// into an integer.
func ParseCount(text string) (int64, error) {
	text = strings.TrimSpace(strings.ReplaceAll(text, ",", ""))
	m := countRe.FindStringSubmatch(text)
	if m == nil {
		return 0, fmt.Errorf("no number in %q", text)
	}

	num, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", m[1], err)
	}

	switch strings.ToUpper(m[2]) {
	case "K":
		num *= 1_000
	case "M":
		num *= 1_000_000
	}
	return int64(num), nil
}

var spaceRe = regexp.MustCompile(`\s+`)

const stampLayout = "Jan 2, 2006 · 3:04 PM MST"

// ParseStamp reads timestamps of the form "Apr 5, 2024 · 4:06 PM UTC".
// Unknown timezone abbreviations are treated as UTC.
func ParseStamp(text string) (time.Time, error) {
	text = strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))

	t, err := time.Parse(stampLayout, text)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable timestamp %q: %w", text, err)
	}

	// time.Parse resolves an unrecognized zone abbreviation to a fake
	// zero-offset location; normalize those to UTC.
	if _, offset := t.Zone(); offset == 0 {
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
	}
	return t, nil
}
