package ids

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsParseableAndMonotonic(t *testing.T) {
	first := New()
	second := New()

	require.Len(t, first, 26)
	_, err := ulid.ParseStrict(first)
	require.NoError(t, err)
	assert.Less(t, first, second)
}
