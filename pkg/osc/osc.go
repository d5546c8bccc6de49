// Package osc delivers pipeline events as OSC messages over UDP,
// fire-and-forget, with per-topic port routing.
package osc

import (
	"fmt"
	"log/slog"

	gosc "github.com/hypebeast/go-osc/osc"

	"github.com/menta2k/scene-tracker/pkg/events"
)

// Config maps event topics to UDP ports on a single host. Topics without a
// route fall back to DefaultPort.
type Config struct {
	Host        string
	DefaultPort int
	Routes      map[events.Topic]int
}

// DefaultConfig routes the object stream, the window stream and the
// annotation stream to separate consumers on localhost.
func DefaultConfig() Config {
	return Config{
		Host:        "127.0.0.1",
		DefaultPort: 9000,
		Routes: map[events.Topic]int{
			events.TopicPosition:   9000,
			events.TopicAbsent:     9000,
			events.TopicSummary:    9001,
			events.TopicComment:    9001,
			events.TopicAnnotation: 9002,
			events.TopicAnnounce:   9003,
		},
	}
}

// Dispatcher sends each event to the client routed for its topic. Safe for
// concurrent use; the underlying clients dial per send.
type Dispatcher struct {
	cfg      Config
	clients  map[events.Topic]*gosc.Client
	fallback *gosc.Client
	log      *slog.Logger
}

// New builds the per-topic clients. Topics sharing a port share a client.
func New(cfg Config, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	byPort := make(map[int]*gosc.Client)
	clientFor := func(port int) *gosc.Client {
		if c, ok := byPort[port]; ok {
			return c
		}
		c := gosc.NewClient(cfg.Host, port)
		byPort[port] = c
		return c
	}

	clients := make(map[events.Topic]*gosc.Client, len(cfg.Routes))
	for topic, port := range cfg.Routes {
		clients[topic] = clientFor(port)
	}

	return &Dispatcher{
		cfg:      cfg,
		clients:  clients,
		fallback: clientFor(cfg.DefaultPort),
		log:      log.With("component", "osc"),
	}
}

// Publish converts the event to an OSC message and sends it.
func (d *Dispatcher) Publish(ev events.Event) error {
	msg := gosc.NewMessage(string(ev.Topic))
	for _, arg := range ev.Args {
		msg.Append(arg)
	}

	if err := d.client(ev.Topic).Send(msg); err != nil {
		return fmt.Errorf("osc send %s: %w", ev.Topic, err)
	}
	return nil
}

// PublishBundle sends several events of one topic as a single OSC bundle so
// consumers apply them atomically.
func (d *Dispatcher) PublishBundle(evs []events.Event) error {
	if len(evs) == 0 {
		return nil
	}

	bundle := gosc.NewBundle(evs[0].Time)
	for _, ev := range evs {
		msg := gosc.NewMessage(string(ev.Topic))
		for _, arg := range ev.Args {
			msg.Append(arg)
		}
		bundle.Append(msg)
	}

	if err := d.client(evs[0].Topic).Send(bundle); err != nil {
		return fmt.Errorf("osc bundle send %s: %w", evs[0].Topic, err)
	}
	return nil
}

// Close is a no-op: the clients hold no persistent sockets.
func (d *Dispatcher) Close() error { return nil }

func (d *Dispatcher) client(topic events.Topic) *gosc.Client {
	if c, ok := d.clients[topic]; ok {
		return c
	}
	return d.fallback
}
