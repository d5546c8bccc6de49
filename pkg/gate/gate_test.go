package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/scene-tracker/pkg/tracker"
	"github.com/menta2k/scene-tracker/pkg/types"
)

const (
	frameW = 1280
	frameH = 720
)

func resolved(id uint64, b types.Box, class int, conf float64, firstSeen time.Time) tracker.Resolved {
	return tracker.Resolved{
		ID:         id,
		Box:        b,
		ClassID:    &class,
		Confidence: &conf,
		FirstSeen:  firstSeen,
	}
}

func TestDecideFirstSend(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SendOnlyStable = false
	g := New(cfg)

	now := time.Now()
	r := resolved(1, types.Box{X1: 100, Y1: 100, X2: 300, Y2: 300}, 2, 0.9, now)

	rep, ok := g.Decide(r, frameW, frameH, now)
	require.True(t, ok)
	assert.Equal(t, uint64(1), rep.TrackID)
	assert.Equal(t, 2, rep.Class)
	assert.InDelta(t, 200.0/frameW, rep.Rect.CX, 1e-9)
	// FlipY: 200px from the top maps near the top of a bottom-left frame.
	assert.InDelta(t, 1.0-200.0/frameH, rep.Rect.CY, 1e-9)
}

func TestDecideDebounce(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SendOnlyStable = false
	cfg.ResendCooldown = 5 * time.Second
	g := New(cfg)

	start := time.Now()
	r := resolved(1, types.Box{X1: 100, Y1: 100, X2: 300, Y2: 300}, 2, 0.9, start)

	_, ok := g.Decide(r, frameW, frameH, start)
	require.True(t, ok)

	// Unchanged state at t=3s: inside the cooldown, must not emit.
	_, ok = g.Decide(r, frameW, frameH, start.Add(3*time.Second))
	assert.False(t, ok)
}

func TestDecideChangeOverride(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SendOnlyStable = false
	cfg.ResendCooldown = time.Second
	g := New(cfg)

	start := time.Now()
	r := resolved(1, types.Box{X1: 100, Y1: 100, X2: 300, Y2: 300}, 2, 0.9, start)
	_, ok := g.Decide(r, frameW, frameH, start)
	require.True(t, ok)

	// Move the box well past epsilon after the cooldown elapses.
	moved := resolved(1, types.Box{X1: 200, Y1: 100, X2: 400, Y2: 300}, 2, 0.9, start)
	rep, ok := g.Decide(moved, frameW, frameH, start.Add(2*time.Second))
	require.True(t, ok)
	assert.InDelta(t, 300.0/frameW, rep.Rect.CX, 1e-9)
}

func TestDecideUnchangedAfterCooldownSuppressed(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SendOnlyStable = false
	cfg.ResendCooldown = time.Second
	cfg.SendOnlyChanges = true
	g := New(cfg)

	start := time.Now()
	r := resolved(1, types.Box{X1: 100, Y1: 100, X2: 300, Y2: 300}, 2, 0.9, start)
	_, ok := g.Decide(r, frameW, frameH, start)
	require.True(t, ok)

	// Sub-epsilon jitter after cooldown: still suppressed.
	jitter := resolved(1, types.Box{X1: 101, Y1: 100, X2: 301, Y2: 300}, 2, 0.9, start)
	_, ok = g.Decide(jitter, frameW, frameH, start.Add(2*time.Second))
	assert.False(t, ok)
}

func TestDecideClassChangeAlwaysCounts(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SendOnlyStable = false
	cfg.ResendCooldown = time.Second
	g := New(cfg)

	start := time.Now()
	r := resolved(1, types.Box{X1: 100, Y1: 100, X2: 300, Y2: 300}, 2, 0.9, start)
	_, ok := g.Decide(r, frameW, frameH, start)
	require.True(t, ok)

	reclassified := resolved(1, types.Box{X1: 100, Y1: 100, X2: 300, Y2: 300}, 0, 0.9, start)
	rep, ok := g.Decide(reclassified, frameW, frameH, start.Add(2*time.Second))
	require.True(t, ok)
	assert.Equal(t, 0, rep.Class)
}

func TestDecideStabilitySuppression(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SendOnlyStable = true
	cfg.StableTime = 500 * time.Millisecond
	cfg.StableConfidence = 0.35
	g := New(cfg)

	start := time.Now()
	b := types.Box{X1: 100, Y1: 100, X2: 300, Y2: 300}

	// Fresh track: not stable yet, suppressed even for the first send.
	_, ok := g.Decide(resolved(1, b, 2, 0.9, start), frameW, frameH, start)
	assert.False(t, ok)

	// Old enough but below the confidence floor: still suppressed.
	_, ok = g.Decide(resolved(1, b, 2, 0.2, start), frameW, frameH, start.Add(time.Second))
	assert.False(t, ok)

	// Old enough and confident: emits.
	_, ok = g.Decide(resolved(1, b, 2, 0.9, start), frameW, frameH, start.Add(time.Second))
	assert.True(t, ok)
}

func TestStableUsesGateFirstSight(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SendOnlyStable = false
	cfg.StableTime = 500 * time.Millisecond
	g := New(cfg)

	start := time.Now()
	b := types.Box{X1: 100, Y1: 100, X2: 300, Y2: 300}
	_, ok := g.Decide(resolved(1, b, 2, 0.9, start), frameW, frameH, start)
	require.True(t, ok)

	// The gate's own record dates the track, not the resolved snapshot.
	fresh := resolved(1, b, 2, 0.9, start.Add(time.Second))
	assert.True(t, g.Stable(fresh, start.Add(time.Second)))
}

func TestForgetResetsTrackState(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SendOnlyStable = false
	g := New(cfg)

	start := time.Now()
	r := resolved(1, types.Box{X1: 100, Y1: 100, X2: 300, Y2: 300}, 2, 0.9, start)
	_, ok := g.Decide(r, frameW, frameH, start)
	require.True(t, ok)
	require.Equal(t, 1, g.Len())

	g.Forget(1)
	assert.Zero(t, g.Len())

	// The same id decides fresh again (first-send path).
	_, ok = g.Decide(r, frameW, frameH, start.Add(time.Second))
	assert.True(t, ok)
}

func TestGCDropsStaleStates(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SendOnlyStable = false
	cfg.MaxStateAge = 10 * time.Second
	g := New(cfg)

	start := time.Now()
	g.Decide(resolved(1, types.Box{X1: 0, Y1: 0, X2: 50, Y2: 50}, 0, 0.9, start), frameW, frameH, start)
	g.Decide(resolved(2, types.Box{X1: 100, Y1: 0, X2: 150, Y2: 50}, 0, 0.9, start), frameW, frameH, start.Add(8*time.Second))
	require.Equal(t, 2, g.Len())

	dropped := g.GC(start.Add(15 * time.Second))
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, g.Len())
}
