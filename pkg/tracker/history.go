package tracker

import (
	"time"

	"github.com/menta2k/scene-tracker/pkg/types"
)

// Observation is one entry in a track's capped history ring.
type Observation struct {
	Box        types.Box
	Time       time.Time
	ClassID    *int
	Confidence *float64
}

// record appends the observation to the track's history, dropping the
// oldest entries once the configured limit is reached. History is owned by
// the track and discarded with it on eviction.
func (t *Tracker) record(tr *Track, det types.Detection, now time.Time) {
	if !t.cfg.KeepHistory {
		return
	}
	tr.history = append(tr.history, Observation{
		Box:        det.Box,
		Time:       now,
		ClassID:    det.ClassID,
		Confidence: det.Confidence,
	})
	if len(tr.history) > t.cfg.HistoryLimit {
		tr.history = tr.history[len(tr.history)-t.cfg.HistoryLimit:]
	}
}
