package dispatch

import (
	"context"
	"log/slog"
	"time"

	"smsform/pkg/bus"
	"smsform/pkg/logger"
)

// ObserveEvents logs lifecycle events until ctx ends or the bus closes.
func ObserveEvents(ctx context.Context, messageBus *bus.MessageBus, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bus.events")

	events, unsubscribe := messageBus.SubscribeEvents(ctx, 64)
	defer unsubscribe()
	defer func() {
		if dropped := messageBus.Dropped(); dropped > 0 {
			log.Warn("Lifecycle events dropped by slow observers", "dropped", dropped)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, evt)
		}
	}
}

func logEvent(log *slog.Logger, evt bus.Event) {
	attrs := []any{
		"event_type", evt.Type,
		"event_id", evt.EventID,
		"request_id", evt.RequestID,
		"phone", logger.MaskPhone(evt.Phone),
		"timestamp", evt.At.UTC().Format(time.RFC3339Nano),
	}
	if len(evt.Payload) > 0 {
		attrs = append(attrs, "payload", evt.Payload)
	}

	switch evt.Type {
	case bus.EventTaskFailed, bus.EventReplyFailed:
		log.Error("Lifecycle event", append(attrs, "error", evt.Error)...)
	case bus.EventReplyFallback:
		log.Warn("Lifecycle event", append(attrs, "error", evt.Error)...)
	case bus.EventFormCompleted, bus.EventFieldConfirmed, bus.EventDeliveryReport:
		log.Info("Lifecycle event", attrs...)
	default:
		log.Debug("Lifecycle event", attrs...)
	}
}
