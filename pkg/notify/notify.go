package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"smsform/pkg/bus"
	"smsform/pkg/config"
	"smsform/pkg/logger"
)

const subscriberBuffer = 256

// Publisher is the part of a NATS connection the forwarder needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Connect dials NATS with reconnect handling. The connection retries in the
// background when the server is not reachable yet.
func Connect(cfg config.NATSConfig, log *slog.Logger) (*nats.Conn, error) {
	if !cfg.Enabled() {
		return nil, errors.New("nats url is required")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "notify.nats")

	opts := []nats.Option{
		nats.Name("smsform"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return conn, nil
}

// Forwarder publishes lifecycle events to NATS subjects named
// <prefix>.<event type>.
type Forwarder struct {
	pub    Publisher
	prefix string
	types  []bus.EventType
	log    *slog.Logger
}

func NewForwarder(pub Publisher, prefix string, log *slog.Logger) (*Forwarder, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = config.DefaultNATSSubjectPrefix
	}
	if log == nil {
		log = slog.Default()
	}

	return &Forwarder{
		pub:    pub,
		prefix: prefix,
		log:    log.With("component", "notify.forwarder"),
	}, nil
}

// Only restricts forwarding to the named event types. Blank names are
// skipped; an empty list forwards everything.
func (f *Forwarder) Only(names ...string) *Forwarder {
	f.types = f.types[:0]
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			f.types = append(f.types, bus.EventType(name))
		}
	}
	return f
}

// Subject returns the subject an event of type t is published on.
func (f *Forwarder) Subject(t bus.EventType) string {
	return f.prefix + "." + string(t)
}

// Run forwards events from messageBus until ctx ends or the bus closes.
// Publish failures are logged and the event is dropped.
func (f *Forwarder) Run(ctx context.Context, messageBus *bus.MessageBus) {
	events, unsubscribe := messageBus.SubscribeEvents(ctx, subscriberBuffer, f.types...)
	defer unsubscribe()

	f.log.Info("Forwarding lifecycle events", "subject_prefix", f.prefix, "event_types", len(f.types))
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := f.Forward(evt); err != nil {
				f.log.Warn("Failed to forward lifecycle event",
					"event_type", evt.Type,
					"event_id", evt.EventID,
					"phone", logger.MaskPhone(evt.Phone),
					"error", err,
				)
			}
		}
	}
}

// Forward publishes one event.
func (f *Forwarder) Forward(evt bus.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := f.Subject(evt.Type)
	if err := f.pub.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
