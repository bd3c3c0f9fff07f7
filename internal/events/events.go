// Package events publishes identification outcomes so other systems (door
// displays, attendance loggers) can react to them.
//
// Publishing is best-effort: a failed publish is logged by the caller and
// never fails the request that produced the event.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/RyderBlack/Ekho/internal/config"
)

// DefaultSubject is used when the configuration names none.
const DefaultSubject = "ekho.identifications"

const (
	defaultClientName = "ekho"
	connectTimeout    = 5 * time.Second
)

// Event describes one completed identification.
type Event struct {
	Status     string    `json:"status"`
	FirstName  string    `json:"first_name,omitempty"`
	LastName   string    `json:"last_name,omitempty"`
	SpokenName string    `json:"spoken_name,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Task       string    `json:"task,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Time       time.Time `json:"time"`
}

// Publisher sends events somewhere.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// Nop discards every event. It is used when publishing is disabled.
type Nop struct{}

// Publish implements [Publisher].
func (Nop) Publish(context.Context, Event) error { return nil }

// Close implements [Publisher].
func (Nop) Close() {}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
	Status() nats.Status
}

// NATS publishes events as JSON messages on a NATS subject.
type NATS struct {
	conn    conn
	subject string
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*NATS)(nil)
)

// New returns a [NATS] publisher when cfg.NATSURL is set and [Nop] otherwise.
func New(cfg config.EventsConfig) (Publisher, error) {
	if cfg.NATSURL == "" {
		return Nop{}, nil
	}
	return Connect(cfg)
}

// Connect dials the NATS servers in cfg.NATSURL (comma separated).
func Connect(cfg config.EventsConfig) (*NATS, error) {
	if cfg.NATSURL == "" {
		return nil, errors.New("events: no NATS url configured")
	}
	name := cfg.ClientName
	if name == "" {
		name = defaultClientName
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("events: disconnected from NATS", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("events: reconnected to NATS", "url", c.ConnectedUrlRedacted())
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: connect to nats: %w", err)
	}
	slog.Info("connected to NATS", "url", nc.ConnectedUrlRedacted(), "subject", subjectOr(cfg.Subject))
	return newNATS(nc, cfg.Subject), nil
}

func newNATS(c conn, subject string) *NATS {
	return &NATS{conn: c, subject: subjectOr(subject)}
}

func subjectOr(s string) string {
	if s == "" {
		return DefaultSubject
	}
	return s
}

// Subject returns the subject events are published on.
func (n *NATS) Subject() string { return n.subject }

// Publish encodes ev as JSON and publishes it. A zero Time is set to now.
func (n *NATS) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encode event: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("events: publish to %s: %w", n.subject, err)
	}
	return nil
}

// Healthy reports whether the connection is up.
func (n *NATS) Healthy() bool {
	return n != nil && n.conn != nil && n.conn.Status() == nats.CONNECTED
}

// Available implements health.Availability.
func (n *NATS) Available() bool { return n.Healthy() }

// Close flushes pending messages and closes the connection.
func (n *NATS) Close() {
	if n == nil || n.conn == nil {
		return
	}
	if err := n.conn.Drain(); err != nil {
		slog.Warn("events: drain NATS connection", "err", err)
	}
	n.conn.Close()
}
