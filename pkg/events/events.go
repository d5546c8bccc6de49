// Package events defines the outbound event model: the topics the pipeline
// publishes and the dispatcher interface sinks implement.
package events

import (
	"errors"
	"time"
)

// Topic identifies an outbound event address. The values double as OSC
// address patterns.
type Topic string

const (
	// TopicPosition carries a stable track's normalized position.
	TopicPosition Topic = "/object/position"
	// TopicAbsent signals that no live tracks remain in the scene.
	TopicAbsent Topic = "/object/absent"
	// TopicSummary carries one aggregation window's majority result.
	TopicSummary Topic = "/window/summary"
	// TopicComment carries the generated commentary for a window.
	TopicComment Topic = "/window/comment"
	// TopicAnnotation carries an enriched region description.
	TopicAnnotation Topic = "/annotation/region"
	// TopicAnnounce carries the session handshake sent at startup.
	TopicAnnounce Topic = "/config/announce"
)

// Event is one outbound message. Args hold the wire payload in order; the
// concrete types are limited to what every sink can carry (int32, float32,
// float64, string, bool).
type Event struct {
	Topic Topic
	Args  []any
	Time  time.Time
}

// Dispatcher delivers events to a downstream consumer. Implementations must
// be safe for concurrent use: the frame loop and the annotation worker
// publish independently.
type Dispatcher interface {
	Publish(ev Event) error
	Close() error
}

// Func adapts a plain function into a Dispatcher with a no-op Close.
type Func func(ev Event) error

func (f Func) Publish(ev Event) error { return f(ev) }
func (f Func) Close() error           { return nil }

// Multi fans every event out to all dispatchers, joining any errors. A
// failing sink never blocks delivery to the others.
type Multi []Dispatcher

func (m Multi) Publish(ev Event) error {
	var errs []error
	for _, d := range m {
		if err := d.Publish(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, d := range m {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Position builds a track position event: id, the normalized center/size as
// float32 for wire compactness, and the class index last.
func Position(trackID uint64, class int, cx, cy, w, h float64, now time.Time) Event {
	return Event{
		Topic: TopicPosition,
		Args:  []any{int32(trackID), float32(cx), float32(cy), float32(w), float32(h), int32(class)},
		Time:  now,
	}
}

// Absent builds the empty-scene event. It carries no payload.
func Absent(now time.Time) Event {
	return Event{Topic: TopicAbsent, Time: now}
}

// Summary builds a window summary event: the majority category name, its
// configured index and the per-category counts in index order.
func Summary(category string, index int, counts []int, now time.Time) Event {
	args := make([]any, 0, 2+len(counts))
	args = append(args, category, int32(index))
	for _, c := range counts {
		args = append(args, int32(c))
	}
	return Event{Topic: TopicSummary, Args: args, Time: now}
}

// Comment builds a window commentary event.
func Comment(text string, now time.Time) Event {
	return Event{Topic: TopicComment, Args: []any{text}, Time: now}
}

// Annotation builds a region annotation event: the normalized region
// followed by its description.
func Annotation(text string, cx, cy, w, h float64, now time.Time) Event {
	return Event{
		Topic: TopicAnnotation,
		Args:  []any{float32(cx), float32(cy), float32(w), float32(h), text},
		Time:  now,
	}
}

// Announce builds the startup handshake: the aggregation interval keyed as
// agent_interval so consumers can phase-align their windows, plus the
// session id for log correlation.
func Announce(sessionID string, aggregationInterval time.Duration, now time.Time) Event {
	return Event{
		Topic: TopicAnnounce,
		Args:  []any{"agent_interval", float32(aggregationInterval.Seconds()), sessionID},
		Time:  now,
	}
}
