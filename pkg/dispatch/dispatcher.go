package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"smsform/pkg/bus"
	"smsform/pkg/channel"
	"smsform/pkg/config"
	"smsform/pkg/conversation"
	"smsform/pkg/dialogue"
	"smsform/pkg/event"
	"smsform/pkg/logger"
)

// ErrQueueUnavailable is returned by Submit when events cannot be enqueued in
// time. The webhook answers 503 so the provider redelivers.
var ErrQueueUnavailable = errors.New("event queue unavailable")

// Stepper advances one conversation by one inbound message.
type Stepper interface {
	Step(ctx context.Context, st *conversation.State, text string) dialogue.Outcome
}

// Options size the dispatcher. Zero values fall back to the configured defaults.
type Options struct {
	EnqueueTimeout time.Duration
	MaxInFlight    int
	DedupCapacity  int
	Logger         *slog.Logger
}

// OptionsFromConfig maps runtime config onto dispatcher options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		EnqueueTimeout: time.Duration(cfg.Dispatch.EnqueueTimeoutMS) * time.Millisecond,
		MaxInFlight:    cfg.Dispatch.MaxInFlight,
		DedupCapacity:  cfg.Dispatch.DedupCapacity,
	}
}

// Dispatcher moves normalized events from the webhook onto background workers
// and applies each one to the conversation store.
type Dispatcher struct {
	bus    *bus.MessageBus
	store  *conversation.Store
	engine Stepper
	sender channel.Sender
	seen   *seenSet
	log    *slog.Logger

	enqueueTimeout time.Duration
	maxInFlight    int

	running atomic.Bool
}

func New(messageBus *bus.MessageBus, store *conversation.Store, engine Stepper, sender channel.Sender, opts Options) (*Dispatcher, error) {
	if messageBus == nil {
		return nil, errors.New("message bus is required")
	}
	if store == nil {
		return nil, errors.New("conversation store is required")
	}
	if engine == nil {
		return nil, errors.New("dialogue engine is required")
	}
	if sender == nil {
		return nil, errors.New("sender is required")
	}

	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = config.DefaultEnqueueTimeoutMS * time.Millisecond
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = config.DefaultMaxInFlight
	}
	if opts.DedupCapacity <= 0 {
		opts.DedupCapacity = config.DefaultDedupCapacity
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Dispatcher{
		bus:            messageBus,
		store:          store,
		engine:         engine,
		sender:         sender,
		seen:           newSeenSet(opts.DedupCapacity),
		log:            opts.Logger.With("component", "dispatch.dispatcher"),
		enqueueTimeout: opts.EnqueueTimeout,
		maxInFlight:    opts.MaxInFlight,
	}, nil
}

// Running reports whether Run is consuming the queue.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// Submit enqueues events for background handling. Subscription validation
// events are answered synchronously by the webhook and are not queued.
//
// Events enqueued before a failure stay queued; redelivered duplicates are
// dropped by the event id check in Handle.
func (d *Dispatcher) Submit(ctx context.Context, events []event.Event) error {
	requestID := uuid.NewString()
	receivedAt := time.Now().UTC()

	ctx, cancel := context.WithTimeout(ctx, d.enqueueTimeout)
	defer cancel()

	queued := 0
	for _, ev := range events {
		if _, ok := ev.(event.SubscriptionValidation); ok {
			continue
		}

		msg := bus.InboundMessage{RequestID: requestID, Event: ev, ReceivedAt: receivedAt}
		if !d.bus.PublishInbound(ctx, msg) {
			d.log.Warn("Event queue unavailable", "request_id", requestID, "event_id", ev.EventID(), "queued", queued)
			return fmt.Errorf("%w: enqueue %s", ErrQueueUnavailable, ev.EventID())
		}
		queued++
	}

	d.log.Debug("Events queued", "request_id", requestID, "count", queued, "pending", d.bus.Pending())
	return nil
}

// Run consumes queued events until ctx ends or the bus closes, handling up to
// MaxInFlight events concurrently. SMS from one phone are handled one at a
// time in arrival order. In-flight and backlogged events finish before Run
// returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	d.running.Store(true)
	defer d.running.Store(false)

	d.log.Info("Dispatcher started", "max_in_flight", d.maxInFlight)

	// Tasks outlive shutdown of the consume loop so accepted turns complete.
	taskCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(d.maxInFlight)
	ordered := newLanes()

	for {
		msg, ok := d.bus.ConsumeInbound(ctx)
		if !ok {
			break
		}

		key := laneKey(msg.Event)
		if key == "" {
			g.Go(func() error {
				d.process(taskCtx, msg)
				return nil
			})
			continue
		}

		if ordered.enqueue(key, msg) {
			continue
		}
		g.Go(func() error {
			for next, more := msg, true; more; next, more = ordered.next(key) {
				d.process(taskCtx, next)
			}
			return nil
		})
	}

	_ = g.Wait()
	d.log.Info("Dispatcher stopped")
	return nil
}

// process handles one message and isolates its failure from siblings.
func (d *Dispatcher) process(ctx context.Context, msg bus.InboundMessage) {
	eventID := msg.Event.EventID()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			d.log.Error("Event handler panicked", "request_id", msg.RequestID, "event_id", eventID, "error", err)
			d.publish(ctx, bus.Event{Type: bus.EventTaskFailed, EventID: eventID, RequestID: msg.RequestID, Error: err.Error()})
		}
	}()

	if err := d.Handle(ctx, msg.Event); err != nil {
		d.log.Error("Event handling failed", "request_id", msg.RequestID, "event_id", eventID, "error", err)
		d.publish(ctx, bus.Event{Type: bus.EventTaskFailed, EventID: eventID, RequestID: msg.RequestID, Error: err.Error()})
	}
}

// Handle applies one event.
func (d *Dispatcher) Handle(ctx context.Context, ev event.Event) error {
	switch e := ev.(type) {
	case event.SMSReceived:
		return d.handleSMS(ctx, e)
	case event.DeliveryReport:
		d.handleDeliveryReport(ctx, e)
		return nil
	case event.SubscriptionValidation:
		d.log.Debug("Skipping subscription validation event")
		return nil
	case event.Ignored:
		d.log.Info("Ignoring unsupported event type", "event_id", e.ID, "event_type", e.Type)
		return nil
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
}

func (d *Dispatcher) handleSMS(ctx context.Context, sms event.SMSReceived) error {
	phone := sms.From

	if !d.seen.add(sms.ID) {
		d.log.Info("Duplicate SMS skipped", "event_id", sms.ID, "phone", logger.MaskPhone(phone))
		d.publish(ctx, bus.Event{Type: bus.EventDuplicateSkipped, EventID: sms.ID, Phone: phone})
		return nil
	}

	d.log.Info("SMS received",
		"event_id", sms.ID,
		"phone", logger.MaskPhone(phone),
		"text", logger.PreviewText(sms.Message),
	)
	d.publish(ctx, bus.Event{Type: bus.EventMessageReceived, EventID: sms.ID, Phone: phone})

	var outcome dialogue.Outcome
	_, err := d.store.Mutate(ctx, phone, func(st *conversation.State) error {
		outcome = d.engine.Step(ctx, st, sms.Message)
		if errors.Is(outcome.Err, dialogue.ErrEmptyMessage) {
			return outcome.Err
		}
		return nil
	})
	if err != nil {
		// Let a redelivery retry the turn.
		d.seen.remove(sms.ID)
		return fmt.Errorf("apply turn for %s: %w", sms.ID, err)
	}

	if outcome.Fallback {
		d.publish(ctx, bus.Event{Type: bus.EventReplyFallback, EventID: sms.ID, Phone: phone, Error: errorString(outcome.Err)})
	}
	if outcome.Confirmed != conversation.FieldNone {
		d.publish(ctx, bus.Event{
			Type:    bus.EventFieldConfirmed,
			EventID: sms.ID,
			Phone:   phone,
			Payload: map[string]string{"field": string(outcome.Confirmed)},
		})
	}
	if outcome.Completed {
		d.log.Info("Form completed", "event_id", sms.ID, "phone", logger.MaskPhone(phone))
		d.publish(ctx, bus.Event{Type: bus.EventFormCompleted, EventID: sms.ID, Phone: phone})
	}

	result, err := d.sender.Send(ctx, phone, outcome.Reply)
	if err != nil {
		d.log.Error("Failed to send SMS reply", "event_id", sms.ID, "phone", logger.MaskPhone(phone), "sender", d.sender.Name(), "error", err)
		d.publish(ctx, bus.Event{Type: bus.EventReplyFailed, EventID: sms.ID, Phone: phone, Error: err.Error()})
		return nil
	}

	payload := outcome.Metadata.Fields()
	if payload == nil {
		payload = map[string]string{}
	}
	payload["transport"] = result.Transport
	payload["message_id"] = result.MessageID
	if outcome.Intent != "" {
		payload["intent"] = string(outcome.Intent)
	}

	d.log.Info("SMS reply sent",
		"event_id", sms.ID,
		"phone", logger.MaskPhone(phone),
		"message_id", result.MessageID,
		"text", logger.PreviewText(outcome.Reply),
	)
	d.publish(ctx, bus.Event{Type: bus.EventReplySent, EventID: sms.ID, Phone: phone, Payload: payload})
	return nil
}

func (d *Dispatcher) handleDeliveryReport(ctx context.Context, report event.DeliveryReport) {
	d.log.Info("Delivery report received",
		"event_id", report.ID,
		"message_id", report.MessageID,
		"phone", logger.MaskPhone(report.To),
		"status", report.Status,
		"details", report.StatusDetails,
	)

	payload := map[string]string{"status": report.Status}
	if report.MessageID != "" {
		payload["message_id"] = report.MessageID
	}
	if report.StatusDetails != "" {
		payload["details"] = report.StatusDetails
	}
	d.publish(ctx, bus.Event{Type: bus.EventDeliveryReport, EventID: report.ID, Phone: report.To, Payload: payload})
}

func (d *Dispatcher) publish(ctx context.Context, evt bus.Event) {
	d.bus.PublishEvent(ctx, evt)
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
