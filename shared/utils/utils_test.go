package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIDStaysInRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		id := GenerateID(1000, 10000)
		assert.GreaterOrEqual(t, id, 1000)
		assert.Less(t, id, 11000)
	}
}

func TestISOTimestampMatchesJavaScriptLayout(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-01T00:00:00.000Z", ISOTimestamp(ts))

	local := time.Date(2024, 1, 1, 2, 30, 0, 123456789, time.FixedZone("EET", 2*3600))
	assert.Equal(t, "2024-01-01T00:30:00.123Z", ISOTimestamp(local))
}

func TestParseISOTimestamp(t *testing.T) {
	parsed, err := ParseISOTimestamp("2024-01-01T00:00:00.000Z")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	parsed, err = ParseISOTimestamp("2024-01-01T01:00:00+01:00")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	_, err = ParseISOTimestamp("yesterday")
	assert.Error(t, err)
}
