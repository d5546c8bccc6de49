// Package tracker associates per-frame bounding-box detections with
// persistent track identities using intersection-over-union matching.
package tracker

import (
	"sort"
	"time"

	"github.com/menta2k/scene-tracker/pkg/types"
)

// Config holds tracker parameters.
type Config struct {
	IoUThreshold    float64 // minimum IoU for a detection/track match
	MaxMissedFrames int     // consecutive missed frames before a track is evicted
	KeepHistory     bool    // record per-track observation history
	HistoryLimit    int     // maximum history entries per track (default 100)
}

// DefaultConfig returns tracker parameters suitable for face-sized objects
// at typical camera frame rates.
func DefaultConfig() Config {
	return Config{
		IoUThreshold:    0.3,
		MaxMissedFrames: 30,
		KeepHistory:     true,
		HistoryLimit:    100,
	}
}

// Track is a persistent identity linking detections of the same physical
// object across frames. The ID is assigned once at creation and never reused.
type Track struct {
	ID         uint64
	Box        types.Box
	ClassID    *int
	Confidence *float64
	Missed     int
	FirstSeen  time.Time
	CreatedAt  time.Time

	history []Observation
}

// History returns the track's recorded observations, oldest first.
// The returned slice is a copy.
func (t *Track) History() []Observation {
	out := make([]Observation, len(t.history))
	copy(out, t.history)
	return out
}

// Resolved is the per-frame result for one detection: the track it was
// assigned to, with the detection's fields already applied.
type Resolved struct {
	ID         uint64
	Box        types.Box
	ClassID    *int
	Confidence *float64
	FirstSeen  time.Time
	New        bool // track was created this frame
}

// Class returns the resolved class id or -1 when none is attached.
func (r Resolved) Class() int {
	if r.ClassID == nil {
		return -1
	}
	return *r.ClassID
}

// Conf returns the resolved confidence or 1.0 when none is attached.
func (r Resolved) Conf() float64 {
	if r.Confidence == nil {
		return 1.0
	}
	return *r.Confidence
}

// Tracker maintains the set of live tracks. It is driven by one Update call
// per frame and is not safe for concurrent use.
type Tracker struct {
	cfg    Config
	nextID uint64
	tracks map[uint64]*Track
}

// New creates a tracker with the given configuration.
func New(cfg Config) *Tracker {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	return &Tracker{
		cfg:    cfg,
		nextID: 1,
		tracks: make(map[uint64]*Track),
	}
}

// candidate is one (detection, track) pair above the IoU threshold.
type candidate struct {
	iou     float64
	detIdx  int
	trackID uint64
}

// Update associates the frame's detections with live tracks and advances
// track lifecycles. Matched tracks take the detection's box, class and
// confidence and reset their missed count; unmatched detections spawn new
// tracks; unmatched tracks age and are evicted once their missed count
// exceeds MaxMissedFrames. The result contains one entry per detection, in
// input order. Degenerate boxes must be filtered by the caller.
func (t *Tracker) Update(detections []types.Detection, now time.Time) []Resolved {
	if len(detections) == 0 {
		t.ageAll()
		return nil
	}

	// Sorted track ids give a deterministic candidate ordering.
	trackIDs := make([]uint64, 0, len(t.tracks))
	for id := range t.tracks {
		trackIDs = append(trackIDs, id)
	}
	sort.Slice(trackIDs, func(i, j int) bool { return trackIDs[i] < trackIDs[j] })

	// All qualifying pairs, best IoU first. Ties break by lowest track id,
	// then by detection input order.
	var candidates []candidate
	for di, det := range detections {
		for _, id := range trackIDs {
			iou := det.Box.IoU(t.tracks[id].Box)
			if iou >= t.cfg.IoUThreshold {
				candidates = append(candidates, candidate{iou: iou, detIdx: di, trackID: id})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.iou != b.iou {
			return a.iou > b.iou
		}
		if a.trackID != b.trackID {
			return a.trackID < b.trackID
		}
		return a.detIdx < b.detIdx
	})

	// Greedy one-to-one assignment over the sorted pairs.
	matchedDet := make(map[int]uint64, len(detections))
	claimedTrack := make(map[uint64]bool, len(t.tracks))
	for _, c := range candidates {
		if _, done := matchedDet[c.detIdx]; done {
			continue
		}
		if claimedTrack[c.trackID] {
			continue
		}
		matchedDet[c.detIdx] = c.trackID
		claimedTrack[c.trackID] = true
	}

	results := make([]Resolved, 0, len(detections))
	for di, det := range detections {
		if id, ok := matchedDet[di]; ok {
			tr := t.tracks[id]
			tr.Box = det.Box
			tr.ClassID = det.ClassID
			tr.Confidence = det.Confidence
			tr.Missed = 0
			t.record(tr, det, now)
			results = append(results, Resolved{
				ID:         tr.ID,
				Box:        tr.Box,
				ClassID:    tr.ClassID,
				Confidence: tr.Confidence,
				FirstSeen:  tr.FirstSeen,
			})
			continue
		}
		tr := t.spawn(det, now)
		results = append(results, Resolved{
			ID:         tr.ID,
			Box:        tr.Box,
			ClassID:    tr.ClassID,
			Confidence: tr.Confidence,
			FirstSeen:  tr.FirstSeen,
			New:        true,
		})
	}

	// Age tracks that saw no detection this frame.
	for _, id := range trackIDs {
		if claimedTrack[id] {
			continue
		}
		tr := t.tracks[id]
		tr.Missed++
		if tr.Missed > t.cfg.MaxMissedFrames {
			delete(t.tracks, id)
		}
	}

	return results
}

// ageAll advances the missed count of every live track by one frame and
// evicts tracks past the limit. Used on frames with zero detections.
func (t *Tracker) ageAll() {
	for id, tr := range t.tracks {
		tr.Missed++
		if tr.Missed > t.cfg.MaxMissedFrames {
			delete(t.tracks, id)
		}
	}
}

// spawn creates a new track from an unmatched detection.
func (t *Tracker) spawn(det types.Detection, now time.Time) *Track {
	tr := &Track{
		ID:         t.nextID,
		Box:        det.Box,
		ClassID:    det.ClassID,
		Confidence: det.Confidence,
		FirstSeen:  now,
		CreatedAt:  now,
	}
	t.nextID++
	t.tracks[tr.ID] = tr
	t.record(tr, det, now)
	return tr
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int { return len(t.tracks) }

// LiveIDs returns the ids of all live tracks in ascending order.
func (t *Tracker) LiveIDs() []uint64 {
	ids := make([]uint64, 0, len(t.tracks))
	for id := range t.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Get returns the live track with the given id, or nil.
func (t *Tracker) Get(id uint64) *Track {
	return t.tracks[id]
}

// ActiveTracks returns a snapshot of tracks matched in the most recent
// update (missed count zero), keyed by track id.
func (t *Tracker) ActiveTracks() map[uint64]Resolved {
	out := make(map[uint64]Resolved)
	for id, tr := range t.tracks {
		if tr.Missed != 0 {
			continue
		}
		out[id] = Resolved{
			ID:         tr.ID,
			Box:        tr.Box,
			ClassID:    tr.ClassID,
			Confidence: tr.Confidence,
			FirstSeen:  tr.FirstSeen,
		}
	}
	return out
}
