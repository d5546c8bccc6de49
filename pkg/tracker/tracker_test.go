package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/scene-tracker/pkg/types"
)

func box(x1, y1, x2, y2 float64) types.Box {
	return types.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func TestUpdateContinuity(t *testing.T) {
	t.Parallel()

	tr := New(Config{IoUThreshold: 0.3, MaxMissedFrames: 5})
	now := time.Now()

	first := tr.Update([]types.Detection{types.Plain(box(100, 100, 200, 200))}, now)
	require.Len(t, first, 1)
	assert.True(t, first[0].New)

	// Shift the box by a small delta so IoU stays above threshold.
	second := tr.Update([]types.Detection{types.Plain(box(110, 105, 210, 205))}, now.Add(33*time.Millisecond))
	require.Len(t, second, 1)
	assert.False(t, second[0].New)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[0].FirstSeen, second[0].FirstSeen)
}

func TestUpdateEviction(t *testing.T) {
	t.Parallel()

	maxMissed := 3
	tr := New(Config{IoUThreshold: 0.3, MaxMissedFrames: maxMissed})
	now := time.Now()

	res := tr.Update([]types.Detection{types.Plain(box(0, 0, 50, 50))}, now)
	require.Len(t, res, 1)
	id := res[0].ID

	// maxMissed empty frames: track survives with an incrementing count.
	for i := 1; i <= maxMissed; i++ {
		now = now.Add(33 * time.Millisecond)
		assert.Empty(t, tr.Update(nil, now))
		require.NotNil(t, tr.Get(id), "track should survive miss %d", i)
		assert.Equal(t, i, tr.Get(id).Missed)
	}

	// One more empty frame pushes it past the limit.
	now = now.Add(33 * time.Millisecond)
	tr.Update(nil, now)
	assert.Nil(t, tr.Get(id))
	assert.Zero(t, tr.Len())
}

func TestUpdateNoIDReuse(t *testing.T) {
	t.Parallel()

	tr := New(Config{IoUThreshold: 0.3, MaxMissedFrames: 0})
	now := time.Now()

	seen := map[uint64]bool{}
	for i := 0; i < 10; i++ {
		res := tr.Update([]types.Detection{types.Plain(box(0, 0, 10, 10))}, now)
		require.Len(t, res, 1)
		now = now.Add(time.Second)

		// One empty frame evicts the track (MaxMissedFrames=0).
		tr.Update(nil, now)
		require.Zero(t, tr.Len())

		assert.False(t, seen[res[0].ID], "id %d reused", res[0].ID)
		seen[res[0].ID] = true
	}
}

func TestUpdateDistinctLiveIDs(t *testing.T) {
	t.Parallel()

	tr := New(DefaultConfig())
	now := time.Now()

	dets := []types.Detection{
		types.Plain(box(0, 0, 50, 50)),
		types.Plain(box(200, 0, 250, 50)),
		types.Plain(box(400, 0, 450, 50)),
	}
	res := tr.Update(dets, now)
	require.Len(t, res, 3)

	ids := tr.LiveIDs()
	require.Len(t, ids, 3)
	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])
}

func TestUpdateDuplicateDetectionsClaimOneTrackEach(t *testing.T) {
	t.Parallel()

	tr := New(Config{IoUThreshold: 0.3, MaxMissedFrames: 5})
	now := time.Now()

	tr.Update([]types.Detection{types.Plain(box(100, 100, 200, 200))}, now)
	require.Equal(t, 1, tr.Len())

	// Two near-identical detections: only one may match the existing track,
	// the other must spawn a new one.
	res := tr.Update([]types.Detection{
		types.Plain(box(100, 100, 200, 200)),
		types.Plain(box(102, 102, 202, 202)),
	}, now.Add(33*time.Millisecond))
	require.Len(t, res, 2)

	matched := 0
	for _, r := range res {
		if !r.New {
			matched++
		}
	}
	assert.Equal(t, 1, matched)
	assert.Equal(t, 2, tr.Len())
}

func TestUpdateGreedyBestPairWins(t *testing.T) {
	t.Parallel()

	tr := New(Config{IoUThreshold: 0.1, MaxMissedFrames: 5})
	now := time.Now()

	// Two tracks side by side.
	seed := tr.Update([]types.Detection{
		types.Plain(box(0, 0, 100, 100)),
		types.Plain(box(80, 0, 180, 100)),
	}, now)
	require.Len(t, seed, 2)

	// One detection overlapping both: it must take the track with the
	// higher IoU (the first), and the second track must age.
	res := tr.Update([]types.Detection{types.Plain(box(5, 0, 105, 100))}, now.Add(33*time.Millisecond))
	require.Len(t, res, 1)
	assert.Equal(t, seed[0].ID, res[0].ID)
	assert.Equal(t, 1, tr.Get(seed[1].ID).Missed)
}

func TestUpdateTieBreaksByLowestTrackID(t *testing.T) {
	t.Parallel()

	tr := New(Config{IoUThreshold: 0.1, MaxMissedFrames: 5})
	now := time.Now()

	// Two identical tracks (possible after occlusion overlap).
	seed := tr.Update([]types.Detection{
		types.Plain(box(0, 0, 100, 100)),
		types.Plain(box(300, 0, 400, 100)),
	}, now)
	require.Len(t, seed, 2)

	// Move the second track's box exactly onto the first's.
	tr.Get(seed[1].ID).Box = box(0, 0, 100, 100)

	res := tr.Update([]types.Detection{types.Plain(box(0, 0, 100, 100))}, now.Add(33*time.Millisecond))
	require.Len(t, res, 1)
	assert.Equal(t, seed[0].ID, res[0].ID, "equal IoU must resolve to the lower track id")
}

func TestUpdateResultsFollowDetectionOrder(t *testing.T) {
	t.Parallel()

	tr := New(DefaultConfig())
	now := time.Now()

	dets := []types.Detection{
		types.Classified(box(0, 0, 50, 50), 2, 0.9),
		types.Classified(box(200, 0, 250, 50), 0, 0.8),
	}
	res := tr.Update(dets, now)
	require.Len(t, res, 2)
	assert.Equal(t, 2, res[0].Class())
	assert.Equal(t, 0, res[1].Class())
}

func TestHistoryCapped(t *testing.T) {
	t.Parallel()

	tr := New(Config{IoUThreshold: 0.3, MaxMissedFrames: 100, KeepHistory: true, HistoryLimit: 5})
	now := time.Now()

	var id uint64
	for i := 0; i < 12; i++ {
		res := tr.Update([]types.Detection{types.Plain(box(0, 0, 50, 50))}, now)
		require.Len(t, res, 1)
		id = res[0].ID
		now = now.Add(33 * time.Millisecond)
	}

	hist := tr.Get(id).History()
	assert.Len(t, hist, 5)
	// Oldest entries dropped: the newest observation is last.
	assert.True(t, hist[4].Time.After(hist[0].Time))
}

func TestActiveTracksExcludesMissed(t *testing.T) {
	t.Parallel()

	tr := New(Config{IoUThreshold: 0.3, MaxMissedFrames: 10})
	now := time.Now()

	a := tr.Update([]types.Detection{types.Plain(box(0, 0, 50, 50))}, now)
	require.Len(t, a, 1)

	// Second frame: a fresh detection elsewhere, first track goes unmatched.
	tr.Update([]types.Detection{types.Plain(box(500, 500, 600, 600))}, now.Add(33*time.Millisecond))

	active := tr.ActiveTracks()
	require.Len(t, active, 1)
	_, ok := active[a[0].ID]
	assert.False(t, ok)
}
