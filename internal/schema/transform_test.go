package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCount(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"42", 42},
		{"1,234", 1234},
		{"1,234,567", 1234567},
		{"5.2K", 5200},
		{"3k", 3000},
		{"1.1M", 1100000},
		{"2m", 2000000},
		{" 17 ", 17},
		{"1.2K views", 1200},
	}
	for _, tc := range cases {
		got, err := ParseCount(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestParseCount_NoNumber(t *testing.T) {
	_, err := ParseCount("no views yet")
	assert.Error(t, err)

	_, err = ParseCount("")
	assert.Error(t, err)
}

func TestParseStamp(t *testing.T) {
	got, err := ParseStamp("Apr 5, 2024 · 4:06 PM UTC")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 4, 5, 16, 6, 0, 0, time.UTC), got)
}

func TestParseStamp_CollapsesWhitespace(t *testing.T) {
	got, err := ParseStamp("  Dec 31,   2023 ·  11:59 PM   UTC ")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 12, 31, 23, 59, 0, 0, time.UTC), got)
}

func TestParseStamp_UnknownZoneNormalizedToUTC(t *testing.T) {
	got, err := ParseStamp("Jan 2, 2025 · 9:30 AM GMT")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC), got)
	assert.Equal(t, time.UTC, got.Location())
}

func TestParseStamp_Invalid(t *testing.T) {
	_, err := ParseStamp("yesterday")
	assert.Error(t, err)
}

func TestSanitize(t *testing.T) {
	out, err := Sanitize(`<div id="main" onclick="evil()">
		<style>.x{}</style>
		<p>Some text</p>
		<img src="/a.png" alt="pic">
	</div>`)
	require.NoError(t, err)

	assert.Contains(t, out, `<div id="main">`)
	assert.NotContains(t, out, "onclick")
	assert.NotContains(t, out, ".x{}")
	assert.Contains(t, out, "<p>Some text </p>")
	assert.Contains(t, out, `<img src="/a.png" alt="pic">`)
}
