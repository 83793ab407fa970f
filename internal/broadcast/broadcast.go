// Package broadcast publishes index events to NATS.
//
// Each event is JSON-encoded and published to "<prefix>.<kind>", for example
// chatindex.events.segment_updated. Subscribers can filter by kind with the
// usual NATS wildcards.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatindex/internal/config"
	"github.com/fyrsmithlabs/chatindex/internal/events"
)

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Source is what a Broadcaster attaches to; *engine.Engine satisfies it.
type Source interface {
	OnAll(fn events.Listener) []events.Subscription
	Off(sub events.Subscription) bool
}

// Connect dials the NATS server described by cfg.
func Connect(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("chatindex"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.Token.IsSet() {
		opts = append(opts, nats.Token(cfg.Token.Value()))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Broadcaster) {
		if l != nil {
			b.log = l.Named("broadcast")
		}
	}
}

// Broadcaster forwards events to a Publisher.
type Broadcaster struct {
	pub    Publisher
	prefix string
	log    *zap.Logger

	mu   sync.Mutex
	src  Source
	subs []events.Subscription
}

// New creates a Broadcaster publishing under prefix.
func New(pub Publisher, prefix string, opts ...Option) *Broadcaster {
	b := &Broadcaster{pub: pub, prefix: prefix, log: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subject returns the subject events of kind are published to.
func (b *Broadcaster) Subject(kind events.Kind) string {
	return b.prefix + "." + kind.String()
}

// Publish sends one event. A publish error is returned to the emitter,
// which reports it alongside the committed mutation.
func (b *Broadcaster) Publish(_ context.Context, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}
	if err := b.pub.Publish(b.Subject(ev.Kind), data); err != nil {
		b.log.Warn("publish failed", zap.Stringer("kind", ev.Kind), zap.String("sequence_id", ev.SequenceID), zap.Error(err))
		return fmt.Errorf("publish %s event: %w", ev.Kind, err)
	}
	return nil
}

// Attach subscribes the broadcaster to every event kind of src. Attaching
// again moves it to the new source.
func (b *Broadcaster) Attach(src Source) {
	b.Detach()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.src = src
	b.subs = src.OnAll(b.Publish)
}

// Detach removes the subscriptions made by Attach.
func (b *Broadcaster) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.src == nil {
		return
	}
	for _, s := range b.subs {
		b.src.Off(s)
	}
	b.src, b.subs = nil, nil
}
