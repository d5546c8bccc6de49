package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIoU(t *testing.T) {
	t.Parallel()

	a := Box{X1: 0, Y1: 0, X2: 100, Y2: 100}

	tests := []struct {
		name string
		b    Box
		want float64
	}{
		{"identical", Box{X1: 0, Y1: 0, X2: 100, Y2: 100}, 1.0},
		{"disjoint", Box{X1: 200, Y1: 200, X2: 300, Y2: 300}, 0.0},
		{"touching edge", Box{X1: 100, Y1: 0, X2: 200, Y2: 100}, 0.0},
		{"half overlap", Box{X1: 50, Y1: 0, X2: 150, Y2: 100}, 1.0 / 3.0},
		{"degenerate other", Box{X1: 50, Y1: 50, X2: 50, Y2: 80}, 0.0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, a.IoU(tt.b), 1e-9)
			assert.InDelta(t, tt.want, tt.b.IoU(a), 1e-9, "IoU must be symmetric")
		})
	}
}

func TestNormalizeFlipY(t *testing.T) {
	t.Parallel()

	b := Box{X1: 100, Y1: 100, X2: 300, Y2: 200}

	plain := b.Normalize(1000, 500, false)
	assert.InDelta(t, 0.2, plain.CX, 1e-9)
	assert.InDelta(t, 0.3, plain.CY, 1e-9)
	assert.InDelta(t, 0.2, plain.W, 1e-9)
	assert.InDelta(t, 0.2, plain.H, 1e-9)

	flipped := b.Normalize(1000, 500, true)
	assert.InDelta(t, 0.7, flipped.CY, 1e-9)
	assert.Equal(t, plain.CX, flipped.CX)
	assert.Equal(t, plain.W, flipped.W)
	assert.Equal(t, plain.H, flipped.H)
}

func TestFingerprintStable(t *testing.T) {
	t.Parallel()

	a := Box{X1: 10.04, Y1: 20, X2: 110, Y2: 120}
	b := Box{X1: 10.01, Y1: 20, X2: 110, Y2: 120}
	c := Box{X1: 15, Y1: 20, X2: 110, Y2: 120}

	// Sub-decimal jitter rounds to the same key, real moves do not.
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestDetectionDefaults(t *testing.T) {
	t.Parallel()

	p := Plain(Box{X1: 0, Y1: 0, X2: 10, Y2: 10})
	assert.Equal(t, -1, p.Class())
	assert.Equal(t, 1.0, p.Conf())

	c := Classified(Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, 3, 0.42)
	assert.Equal(t, 3, c.Class())
	assert.Equal(t, 0.42, c.Conf())
}

func TestModelObjectToBox(t *testing.T) {
	t.Parallel()

	m := ModelObject{X: 0.25, Y: 0.5, W: 0.5, H: 0.25}
	b := m.ToBox(400, 200)

	assert.Equal(t, Box{X1: 100, Y1: 100, X2: 300, Y2: 150}, b)
	assert.True(t, b.Valid())
}
