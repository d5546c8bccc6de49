package pipeline

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/scene-tracker/pkg/aggregate"
	"github.com/menta2k/scene-tracker/pkg/annotate"
	"github.com/menta2k/scene-tracker/pkg/events"
	"github.com/menta2k/scene-tracker/pkg/gate"
	"github.com/menta2k/scene-tracker/pkg/tracker"
	"github.com/menta2k/scene-tracker/pkg/types"
)

// scriptedDetector replays one detection slice per frame.
type scriptedDetector struct {
	frames [][]types.Detection
	i      int
}

func (d *scriptedDetector) Detect(ctx context.Context, img image.Image) ([]types.Detection, error) {
	if d.i >= len(d.frames) {
		return nil, nil
	}
	dets := d.frames[d.i]
	d.i++
	return dets, nil
}

type capture struct {
	mu  sync.Mutex
	evs []events.Event
}

func (c *capture) dispatcher() events.Dispatcher {
	return events.Func(func(ev events.Event) error {
		c.mu.Lock()
		c.evs = append(c.evs, ev)
		c.mu.Unlock()
		return nil
	})
}

func (c *capture) byTopic(topic events.Topic) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, ev := range c.evs {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}

func testConfig() Config {
	gcfg := gate.DefaultConfig()
	gcfg.SendOnlyStable = false

	tcfg := tracker.DefaultConfig()
	tcfg.MaxMissedFrames = 0

	return Config{
		Tracker:   tcfg,
		Gate:      gcfg,
		Aggregate: aggregate.DefaultConfig(),
		Labels:    []string{"neutral", "happy", "surprise", "fear", "sad", "angry", "disgust"},
		SessionID: "test-session",
	}
}

func frame() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 640, 480))
}

func det(x float64, class int) types.Detection {
	return types.Classified(types.Box{X1: x, Y1: 100, X2: x + 100, Y2: 200}, class, 0.9)
}

func TestProcessFramePublishesPosition(t *testing.T) {
	t.Parallel()

	cap := &capture{}
	d := &scriptedDetector{frames: [][]types.Detection{{det(100, 1)}}}
	p := New(testConfig(), d, nil, nil, nil, cap.dispatcher(), nil)

	require.NoError(t, p.ProcessFrame(context.Background(), frame(), time.Now()))

	positions := cap.byTopic(events.TopicPosition)
	require.Len(t, positions, 1)
	require.Len(t, positions[0].Args, 6)
	assert.Equal(t, int32(1), positions[0].Args[0], "first track id")
	assert.IsType(t, float32(0), positions[0].Args[1], "coordinates follow the id")
	assert.Equal(t, int32(1), positions[0].Args[5], "class index comes last")
}

func TestAbsentEmittedPerEmptyFrame(t *testing.T) {
	t.Parallel()

	cap := &capture{}
	d := &scriptedDetector{frames: [][]types.Detection{
		{det(100, 1)},
		nil, // track evicted (max missed frames is zero)
		nil,
		nil,
	}}
	p := New(testConfig(), d, nil, nil, nil, cap.dispatcher(), nil)

	now := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, p.ProcessFrame(context.Background(), frame(), now.Add(time.Duration(i)*33*time.Millisecond)))
	}

	// Every faceless frame signals absence, not just the first.
	assert.Len(t, cap.byTopic(events.TopicAbsent), 3)
}

func TestAbsentOnEmptyFirstFrame(t *testing.T) {
	t.Parallel()

	cap := &capture{}
	d := &scriptedDetector{}
	p := New(testConfig(), d, nil, nil, nil, cap.dispatcher(), nil)

	require.NoError(t, p.ProcessFrame(context.Background(), frame(), time.Now()))
	assert.Len(t, cap.byTopic(events.TopicAbsent), 1)
}

func TestWindowSummaryEmitted(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Aggregate.Interval = time.Second
	cfg.Aggregate.SamplesPerSummary = 1

	cap := &capture{}
	d := &scriptedDetector{frames: [][]types.Detection{
		{det(100, 1)}, // happy → active
		{det(105, 1)},
	}}
	p := New(cfg, d, nil, nil, nil, cap.dispatcher(), nil)

	now := time.Now()
	require.NoError(t, p.ProcessFrame(context.Background(), frame(), now))
	require.NoError(t, p.ProcessFrame(context.Background(), frame(), now.Add(time.Second)))

	summaries := cap.byTopic(events.TopicSummary)
	require.Len(t, summaries, 1)
	assert.Equal(t, "active", summaries[0].Args[0])
	assert.Equal(t, int32(0), summaries[0].Args[1])
	// One count per category follows, in index order.
	require.Len(t, summaries[0].Args, 6)
	assert.Equal(t, int32(1), summaries[0].Args[2], "active count")
	assert.Equal(t, int32(0), summaries[0].Args[3], "calm count")
}

func TestRunAnnouncesSession(t *testing.T) {
	t.Parallel()

	cap := &capture{}
	p := New(testConfig(), &scriptedDetector{}, nil, nil, nil, cap.dispatcher(), nil)

	frames := make(chan Frame)
	close(frames)
	require.NoError(t, p.Run(context.Background(), frames))

	announces := cap.byTopic(events.TopicAnnounce)
	require.Len(t, announces, 1)
	require.Len(t, announces[0].Args, 3)
	assert.Equal(t, "agent_interval", announces[0].Args[0])
	assert.Equal(t, "test-session", announces[0].Args[2])
}

func TestAnnotationsDeliveredOncePerRegion(t *testing.T) {
	t.Parallel()

	cap := &capture{}
	cache := annotate.NewCache(annotate.DefaultConfig())
	d := &scriptedDetector{}
	p := New(testConfig(), d, cache, nil, nil, cap.dispatcher(), nil)

	now := time.Now()
	cache.Add(types.Box{X1: 100, Y1: 100, X2: 200, Y2: 200}, "a quiet corner", now)

	require.NoError(t, p.ProcessFrame(context.Background(), frame(), now))
	require.NoError(t, p.ProcessFrame(context.Background(), frame(), now.Add(33*time.Millisecond)))

	anns := cap.byTopic(events.TopicAnnotation)
	require.Len(t, anns, 1, "a delivered region is never resent")
	require.Len(t, anns[0].Args, 5)
	assert.Equal(t, "a quiet corner", anns[0].Args[4], "text follows the coordinates")
}

func TestStatusCounters(t *testing.T) {
	t.Parallel()

	cap := &capture{}
	d := &scriptedDetector{frames: [][]types.Detection{{det(100, 1), det(400, 0)}}}
	p := New(testConfig(), d, nil, nil, nil, cap.dispatcher(), nil)

	require.NoError(t, p.ProcessFrame(context.Background(), frame(), time.Now()))

	status := p.Status()
	assert.Equal(t, uint64(1), status["frames"])
	assert.Equal(t, int64(2), status["live_tracks"])
}
