package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"09:00", 540, false},
		{"9:30", 570, false},
		{" 15:00 ", 900, false},
		{"15:00:00", 900, false},
		{"15:00:30", 0, true},
		{"24:00", 0, true},
		{"15:7", 0, true},
		{"15", 0, true},
		{"aa:00", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNormalizeClock(t *testing.T) {
	got, err := NormalizeClock("9:05")
	require.NoError(t, err)
	assert.Equal(t, "09:05", got)
	assert.Equal(t, "24:00", FormatClock(24*60))
}

func TestParseDate(t *testing.T) {
	loc := time.FixedZone("COT", -5*3600)
	d, err := ParseDate("2025-11-18", loc)
	require.NoError(t, err)
	assert.Equal(t, loc, d.Location())
	assert.Equal(t, 18, d.Day())

	_, err = ParseDate("18/11/2025", loc)
	assert.Error(t, err)
}
