package utils

import (
	"time"

	"github.com/dustin/go-humanize"
)

// ParseRemoteTime parses the RFC 3339 timestamps returned by remote listings.
// The zero time is returned for empty or malformed input.
func ParseRemoteTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FormatTime renders t as `2006-01-02 15:04:05 (3 hours ago)` in local time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime) + " (" + humanize.Time(t) + ")"
}
