package util

import (
	"strconv"
	"strings"
	"time"
)

// ISOLayout renders UTC timestamps at second precision without a zone suffix.
const ISOLayout = "2006-01-02T15:04:05"

const (
	minEpochSeconds = -62135596800 // 0001-01-01T00:00:00Z
	maxEpochSeconds = 253402300799 // 9999-12-31T23:59:59Z
)

// ToISO interprets raw as seconds since the Unix epoch and renders it in UTC.
// It reports false for anything that is not an integer within years 1..9999.
func ToISO(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", false
	}
	if secs < minEpochSeconds || secs > maxEpochSeconds {
		return "", false
	}
	return time.Unix(secs, 0).UTC().Format(ISOLayout), true
}

// FormatISO renders t with ISOLayout after converting it to UTC.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}
