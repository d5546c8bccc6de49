package annotate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/scene-tracker/pkg/types"
)

func region(i int) types.Box {
	off := float64(i) * 200
	return types.Box{X1: off, Y1: 0, X2: off + 100, Y2: 100}
}

func TestAddEvictsOldestPastCapacity(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxOnscreen = 6
	c := NewCache(cfg)
	now := time.Now()

	var first Annotation
	for i := 0; i < 7; i++ {
		a, ok := c.Add(region(i), fmt.Sprintf("text %d", i), now.Add(time.Duration(i)*time.Second))
		require.True(t, ok)
		if i == 0 {
			first = a
		}
	}

	active := c.Active(now.Add(7 * time.Second))
	require.Len(t, active, 6)
	for _, a := range active {
		assert.NotEqual(t, first.ID, a.ID, "oldest entry must be evicted")
	}
}

func TestActiveDropsExpired(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.TTL = 10 * time.Second
	c := NewCache(cfg)
	now := time.Now()

	c.Add(region(0), "old", now)
	c.Add(region(1), "new", now.Add(8*time.Second))

	active := c.Active(now.Add(12 * time.Second))
	require.Len(t, active, 1)
	assert.Equal(t, "new", active[0].Text)

	assert.Zero(t, c.Len(now.Add(30*time.Second)))
}

func TestAddRejectsDuplicateRegion(t *testing.T) {
	t.Parallel()

	c := NewCache(DefaultConfig())
	now := time.Now()

	_, ok := c.Add(region(0), "first", now)
	require.True(t, ok)

	_, ok = c.Add(region(0), "second", now.Add(time.Second))
	assert.False(t, ok)

	// Different region is fine.
	_, ok = c.Add(region(1), "third", now.Add(time.Second))
	assert.True(t, ok)
}

func TestDedupeSetClearedAtLimit(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.DedupeLimit = 5
	c := NewCache(cfg)
	now := time.Now()

	for i := 0; i < 5; i++ {
		_, ok := c.Add(region(i), "text", now)
		require.True(t, ok)
	}
	require.Equal(t, 5, c.SeenCount())

	// The set is at the limit: the next insert clears it wholesale first.
	_, ok := c.Add(region(5), "text", now)
	require.True(t, ok)
	assert.Equal(t, 1, c.SeenCount())

	// A previously-delivered region is accepted again after the clear.
	_, ok = c.Add(region(0), "again", now)
	assert.True(t, ok)
}

func TestTakeUndeliveredReturnsEachEntryOnce(t *testing.T) {
	t.Parallel()

	c := NewCache(DefaultConfig())
	now := time.Now()

	c.Add(region(0), "a", now)
	c.Add(region(1), "b", now)

	fresh := c.TakeUndelivered(now)
	require.Len(t, fresh, 2)

	// Already delivered: nothing comes back, even though both are live.
	assert.Empty(t, c.TakeUndelivered(now))
	assert.Equal(t, 2, c.Len(now))

	// A later insert is the only undelivered entry.
	c.Add(region(2), "c", now.Add(time.Second))
	fresh = c.TakeUndelivered(now.Add(time.Second))
	require.Len(t, fresh, 1)
	assert.Equal(t, "c", fresh[0].Text)
}

func TestAnnotationIDsUnique(t *testing.T) {
	t.Parallel()

	c := NewCache(DefaultConfig())
	now := time.Now()

	a, ok := c.Add(region(0), "a", now)
	require.True(t, ok)
	b, ok := c.Add(region(1), "b", now)
	require.True(t, ok)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}
