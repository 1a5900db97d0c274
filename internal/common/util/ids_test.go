package util

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULIDAt(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	ids := make([]string, 100)
	for i := range ids {
		ids[i] = NewULIDAt(now)
	}

	assert.True(t, sort.StringsAreSorted(ids))
	for _, id := range ids {
		assert.Len(t, id, 26)
		ts, err := ULIDTime(id)
		require.NoError(t, err)
		assert.True(t, now.Equal(ts), "expected %s, got %s", now, ts)
	}
}

func TestNewULID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewULID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestULIDTime_Invalid(t *testing.T) {
	_, err := ULIDTime("not-a-ulid")
	assert.Error(t, err)
}
