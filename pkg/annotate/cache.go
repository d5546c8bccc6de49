// Package annotate generates and caches model descriptions for scene
// regions, independently of the tracking loop.
package annotate

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/menta2k/scene-tracker/pkg/types"
)

// Config bounds the annotation cache.
type Config struct {
	TTL         time.Duration // annotation lifetime on screen
	MaxOnscreen int           // hard cap on simultaneously active annotations
	DedupeLimit int           // delivered-fingerprint set size before a wholesale clear
}

// DefaultConfig matches the installation defaults: six annotations at once,
// twenty seconds each, dedupe memory for the last thousand regions.
func DefaultConfig() Config {
	return Config{
		TTL:         20 * time.Second,
		MaxOnscreen: 6,
		DedupeLimit: 1000,
	}
}

// Annotation is one active region description.
type Annotation struct {
	ID        string
	Box       types.Box
	Text      string
	CreatedAt time.Time

	delivered bool
}

// Cache holds the active annotations, oldest first. Safe for concurrent use:
// the worker inserts while the frame loop reads active regions for overlap
// checks and overlays.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	entries []Annotation
	seen    map[string]struct{}
}

// NewCache creates an empty cache.
func NewCache(cfg Config) *Cache {
	return &Cache{cfg: cfg, seen: make(map[string]struct{})}
}

// Add inserts a new annotation unless the region was already delivered.
// Expired and over-capacity entries are evicted first, oldest first, so the
// new entry always fits.
func (c *Cache) Add(box types.Box, text string, now time.Time) (Annotation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fp := box.Fingerprint()
	if _, dup := c.seen[fp]; dup {
		return Annotation{}, false
	}
	// The dedupe set grows without bound otherwise; clearing it wholesale
	// lets old regions eventually be described again.
	if len(c.seen) >= c.cfg.DedupeLimit {
		c.seen = make(map[string]struct{})
	}
	c.seen[fp] = struct{}{}

	c.prune(now)
	for len(c.entries) >= c.cfg.MaxOnscreen && len(c.entries) > 0 {
		c.entries = c.entries[1:]
	}

	a := Annotation{
		ID:        uuid.NewString(),
		Box:       box,
		Text:      text,
		CreatedAt: now,
	}
	c.entries = append(c.entries, a)
	return a, true
}

// Active returns the live annotations after evicting expired ones.
func (c *Cache) Active(now time.Time) []Annotation {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prune(now)
	out := make([]Annotation, len(c.entries))
	copy(out, c.entries)
	return out
}

// TakeUndelivered returns the live annotations not yet sent downstream and
// marks them delivered, so each region goes out exactly once.
func (c *Cache) TakeUndelivered(now time.Time) []Annotation {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prune(now)
	var out []Annotation
	for i := range c.entries {
		if c.entries[i].delivered {
			continue
		}
		c.entries[i].delivered = true
		out = append(out, c.entries[i])
	}
	return out
}

// Len returns the number of live annotations.
func (c *Cache) Len(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prune(now)
	return len(c.entries)
}

// SeenCount returns the size of the dedupe set.
func (c *Cache) SeenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// prune drops expired entries, then the oldest until the capacity holds.
// Callers must hold the lock.
func (c *Cache) prune(now time.Time) {
	if c.cfg.TTL > 0 {
		kept := c.entries[:0]
		for _, a := range c.entries {
			if now.Sub(a.CreatedAt) < c.cfg.TTL {
				kept = append(kept, a)
			}
		}
		c.entries = kept
	}
	for len(c.entries) > c.cfg.MaxOnscreen {
		c.entries = c.entries[1:]
	}
}
