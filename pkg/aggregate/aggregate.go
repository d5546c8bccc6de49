// Package aggregate summarizes categorical track state over a rolling
// sampling window with a majority vote.
package aggregate

import (
	"math/rand"
	"time"
)

// Config holds the sampling window parameters.
type Config struct {
	Interval          time.Duration     // wall-clock sampling tick, independent of frame rate
	SamplesPerSummary int               // ticks accumulated before a summary is produced
	Categories        []string          // closed category set, in index order
	LabelMap          map[string]string // raw detector label → category; unmapped labels are dropped
}

// DefaultConfig returns the four-category emotion window used by the
// deployment: raw facial expressions folded into active, calm, hesitant and
// anxious, sampled every three seconds, summarized every twelve samples.
func DefaultConfig() Config {
	return Config{
		Interval:          3 * time.Second,
		SamplesPerSummary: 12,
		Categories:        []string{"active", "calm", "hesitant", "anxious"},
		LabelMap: map[string]string{
			"neutral":  "calm",
			"happy":    "active",
			"surprise": "active",
			"fear":     "anxious",
			"sad":      "hesitant",
			"angry":    "anxious",
			"disgust":  "anxious",
		},
	}
}

// Summary is one aggregation window's result: the majority category, its
// index in the configured category order, and the full per-category counts.
type Summary struct {
	Category string
	Index    int
	Counts   map[string]int
}

// Aggregator accumulates category counts over sampling ticks. Driven from
// the frame loop only; not safe for concurrent use.
type Aggregator struct {
	cfg     Config
	index   map[string]int
	counts  map[string]int
	samples int
	pending []string
	last    time.Time

	// rng picks among tied maxima; replaceable in tests.
	rng func(n int) int
}

// New creates an aggregator with the given configuration.
func New(cfg Config) *Aggregator {
	idx := make(map[string]int, len(cfg.Categories))
	counts := make(map[string]int, len(cfg.Categories))
	for i, c := range cfg.Categories {
		idx[c] = i
		counts[c] = 0
	}
	return &Aggregator{
		cfg:    cfg,
		index:  idx,
		counts: counts,
		rng:    rand.Intn,
	}
}

// Observe records the labels visible in the current frame. The next
// sampling tick counts them; frames between ticks simply overwrite each
// other, so the tick sees the most recent view.
func (a *Aggregator) Observe(labels []string) {
	a.pending = a.pending[:0]
	for _, l := range labels {
		if cat, ok := a.cfg.LabelMap[l]; ok {
			a.pending = append(a.pending, cat)
		}
	}
}

// Tick advances the sampling clock. When a sampling interval has elapsed the
// pending categories are counted; when the window is full the majority
// summary is returned and all counters reset. Counters reset regardless of
// whether the caller manages to deliver the summary, so a failed emission
// never double-counts into the next window.
func (a *Aggregator) Tick(now time.Time) (Summary, bool) {
	if a.last.IsZero() {
		a.last = now
		return Summary{}, false
	}
	if now.Sub(a.last) < a.cfg.Interval {
		return Summary{}, false
	}

	for _, cat := range a.pending {
		a.counts[cat]++
	}
	a.samples++
	a.last = now

	if a.samples < a.cfg.SamplesPerSummary {
		return Summary{}, false
	}

	s := a.summarize()
	a.reset()
	return s, true
}

// Counts returns a copy of the current window's counters.
func (a *Aggregator) Counts() map[string]int {
	out := make(map[string]int, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out
}

// summarize picks the category with the maximum count, choosing uniformly
// at random among ties.
func (a *Aggregator) summarize() Summary {
	maxCount := -1
	for _, c := range a.cfg.Categories {
		if a.counts[c] > maxCount {
			maxCount = a.counts[c]
		}
	}
	var tied []string
	for _, c := range a.cfg.Categories {
		if a.counts[c] == maxCount {
			tied = append(tied, c)
		}
	}
	chosen := tied[0]
	if len(tied) > 1 {
		chosen = tied[a.rng(len(tied))]
	}
	return Summary{
		Category: chosen,
		Index:    a.index[chosen],
		Counts:   a.Counts(),
	}
}

// reset zeroes every counter and the sample count for the next window.
func (a *Aggregator) reset() {
	for _, c := range a.cfg.Categories {
		a.counts[c] = 0
	}
	a.samples = 0
}
