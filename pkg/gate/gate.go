// Package gate decides when a tracked object's state is worth reporting
// downstream, combining stability, cooldown and change detection so a noisy
// per-frame track stream becomes a rate-limited event stream.
package gate

import (
	"time"

	"github.com/menta2k/scene-tracker/pkg/tracker"
	"github.com/menta2k/scene-tracker/pkg/types"
)

// Config holds the gate's decision thresholds.
type Config struct {
	StableTime       time.Duration // how long a track must persist before it counts as stable
	StableConfidence float64       // minimum confidence for stability
	ResendCooldown   time.Duration // minimum interval between repeated sends per track
	SendOnlyStable   bool          // suppress reports for unstable tracks
	SendOnlyChanges  bool          // after the first send, only report state changes
	FlipY            bool          // invert the normalized Y axis for bottom-left-origin consumers
	Epsilon          float64       // normalized-unit threshold below which position is unchanged
	MaxStateAge      time.Duration // dispatch state older than this is dropped by GC
}

// DefaultConfig mirrors the deployment defaults: half-second stability
// window, five-second cooldown, change-triggered resends.
func DefaultConfig() Config {
	return Config{
		StableTime:       500 * time.Millisecond,
		StableConfidence: 0.35,
		ResendCooldown:   5 * time.Second,
		SendOnlyStable:   true,
		SendOnlyChanges:  true,
		FlipY:            true,
		Epsilon:          0.01,
		MaxStateAge:      60 * time.Second,
	}
}

// Report is the normalized state emitted for a track.
type Report struct {
	TrackID uint64
	Rect    types.NormRect
	Class   int
}

// snapshot is the last state sent for a track, compared component-wise
// against the current state for change detection.
type snapshot struct {
	class int
	rect  types.NormRect
}

// dispatchState is the per-track bookkeeping record, created on first sight
// of a track id and destroyed with the track (or by GC).
type dispatchState struct {
	firstSeen    time.Time
	lastSent     time.Time // zero until the first send
	lastSnapshot *snapshot
	lastTouched  time.Time
}

// Gate owns the per-track dispatch state. Not safe for concurrent use; it is
// driven from the frame loop only.
type Gate struct {
	cfg    Config
	states map[uint64]*dispatchState
}

// New creates a gate with the given configuration.
func New(cfg Config) *Gate {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 0.01
	}
	return &Gate{cfg: cfg, states: make(map[uint64]*dispatchState)}
}

// Stable reports whether the track has persisted long enough at sufficient
// confidence to count as a settled observation. Persistence is measured
// from the gate's own first sight of the track id, so a Forget restarts it.
func (g *Gate) Stable(r tracker.Resolved, now time.Time) bool {
	first := r.FirstSeen
	if st, ok := g.states[r.ID]; ok {
		first = st.firstSeen
	}
	return now.Sub(first) >= g.cfg.StableTime && r.Conf() >= g.cfg.StableConfidence
}

// Decide evaluates one resolved track for this frame and returns the report
// to emit, if any. On an affirmative decision the per-track send record is
// updated so subsequent frames debounce against it.
func (g *Gate) Decide(r tracker.Resolved, frameW, frameH int, now time.Time) (Report, bool) {
	st, ok := g.states[r.ID]
	if !ok {
		st = &dispatchState{firstSeen: r.FirstSeen}
		g.states[r.ID] = st
	}
	st.lastTouched = now

	if g.cfg.SendOnlyStable && !g.Stable(r, now) {
		return Report{}, false
	}

	rect := r.Box.Normalize(frameW, frameH, g.cfg.FlipY)
	class := r.Class()

	isFirst := st.lastSent.IsZero()
	cooldownPassed := isFirst || now.Sub(st.lastSent) >= g.cfg.ResendCooldown
	changed := st.lastSnapshot == nil ||
		st.lastSnapshot.class != class ||
		abs(st.lastSnapshot.rect.CX-rect.CX) > g.cfg.Epsilon ||
		abs(st.lastSnapshot.rect.CY-rect.CY) > g.cfg.Epsilon ||
		abs(st.lastSnapshot.rect.W-rect.W) > g.cfg.Epsilon ||
		abs(st.lastSnapshot.rect.H-rect.H) > g.cfg.Epsilon

	if !isFirst && (!cooldownPassed || (g.cfg.SendOnlyChanges && !changed)) {
		return Report{}, false
	}

	st.lastSent = now
	st.lastSnapshot = &snapshot{class: class, rect: rect}
	return Report{TrackID: r.ID, Rect: rect, Class: class}, true
}

// Forget drops the dispatch state for a track, called when the tracker
// evicts it.
func (g *Gate) Forget(id uint64) {
	delete(g.states, id)
}

// GC removes dispatch states that have not been touched within MaxStateAge
// and returns the number dropped. Covers tracks evicted without a Forget
// call reaching the gate.
func (g *Gate) GC(now time.Time) int {
	if g.cfg.MaxStateAge <= 0 {
		return 0
	}
	dropped := 0
	for id, st := range g.states {
		if now.Sub(st.lastTouched) > g.cfg.MaxStateAge {
			delete(g.states, id)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of tracked dispatch states.
func (g *Gate) Len() int { return len(g.states) }

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
