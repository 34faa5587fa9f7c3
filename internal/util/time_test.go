package util_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"artifact-ingest/internal/util"
)

func TestToISO(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
		ok       bool
	}{
		{name: "Epoch Zero", raw: "0", expected: "1970-01-01T00:00:00", ok: true},
		{name: "Birth Time", raw: "1699990000", expected: "2023-11-14T19:26:40", ok: true},
		{name: "Modification Time", raw: "1700000000", expected: "2023-11-14T22:13:20", ok: true},
		{name: "Surrounding Whitespace", raw: " 1700000000 ", expected: "2023-11-14T22:13:20", ok: true},
		{name: "Negative Epoch", raw: "-86400", expected: "1969-12-31T00:00:00", ok: true},
		{name: "Upper Bound", raw: "253402300799", expected: "9999-12-31T23:59:59", ok: true},
		{name: "Past Upper Bound", raw: "253402300800", ok: false},
		{name: "Past Lower Bound", raw: "-62135596801", ok: false},
		{name: "Overflow", raw: "99999999999999999999999", ok: false},
		{name: "Empty", raw: "", ok: false},
		{name: "Decimal", raw: "1700000000.5", ok: false},
		{name: "Text", raw: "yesterday", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := util.ToISO(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFormatISO(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	ts := time.Date(2024, 5, 1, 7, 0, 0, 0, loc)
	assert.Equal(t, "2024-05-01T00:00:00", util.FormatISO(ts))
}
