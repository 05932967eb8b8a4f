package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrMalformedPayload reports a body that is neither a JSON object nor an array.
	ErrMalformedPayload = errors.New("malformed event payload")
	// ErrNoEvents reports a payload in which no element could be parsed.
	ErrNoEvents = errors.New("payload contains no usable events")
)

// MalformedEventError describes one element that was dropped during normalization.
type MalformedEventError struct {
	Index  int
	ID     string
	Reason string
}

func (e *MalformedEventError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("event %d (%s): %s", e.Index, e.ID, e.Reason)
	}
	return fmt.Sprintf("event %d: %s", e.Index, e.Reason)
}

// Batch is the normalized result of one webhook payload.
type Batch struct {
	Events  []Event
	Dropped []*MalformedEventError
}

// Normalize parses a webhook body into typed events.
//
// Array elements are parsed independently: a bad element is dropped and logged
// while its siblings survive. Unknown event types become Ignored events.
func Normalize(raw []byte, log *slog.Logger) (Batch, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "event.normalize")

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Batch{}, fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}

	var elements []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &elements); err != nil {
			return Batch{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	case '{':
		if !json.Valid(trimmed) {
			return Batch{}, fmt.Errorf("%w: invalid JSON object", ErrMalformedPayload)
		}
		elements = []json.RawMessage{trimmed}
	default:
		return Batch{}, fmt.Errorf("%w: expected object or array", ErrMalformedPayload)
	}

	var batch Batch
	for index, element := range elements {
		ev, err := parseElement(index, element)
		if err != nil {
			var malformed *MalformedEventError
			if !errors.As(err, &malformed) {
				malformed = &MalformedEventError{Index: index, Reason: err.Error()}
			}
			log.Warn("Dropping malformed event", "index", malformed.Index, "event_id", malformed.ID, "reason", malformed.Reason)
			batch.Dropped = append(batch.Dropped, malformed)
			continue
		}

		if ignored, ok := ev.(Ignored); ok {
			log.Info("Ignoring unsupported event type", "index", index, "event_id", ignored.ID, "event_type", ignored.Type)
		}
		batch.Events = append(batch.Events, ev)
	}

	if len(batch.Events) == 0 {
		return batch, ErrNoEvents
	}

	return batch, nil
}

func parseElement(index int, raw json.RawMessage) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &MalformedEventError{Index: index, Reason: "invalid envelope: " + err.Error()}
	}

	id := strings.TrimSpace(env.ID)
	fail := func(reason string) error {
		return &MalformedEventError{Index: index, ID: id, Reason: reason}
	}

	eventType := strings.TrimSpace(env.EventType)
	switch eventType {
	case "":
		return nil, fail("missing eventType")

	case TypeSubscriptionValidation:
		var data validationData
		if err := decodeData(env.Data, &data); err != nil {
			return nil, fail(err.Error())
		}
		// An empty code still yields the variant so the handshake can be rejected.
		return SubscriptionValidation{ValidationCode: strings.TrimSpace(data.ValidationCode)}, nil

	case TypeSMSReceived:
		var data smsReceivedData
		if err := decodeData(env.Data, &data); err != nil {
			return nil, fail(err.Error())
		}
		if id == "" {
			id = strings.TrimSpace(data.MessageID)
		}
		from := strings.TrimSpace(data.From)
		message := strings.TrimSpace(data.Message)
		switch {
		case id == "":
			return nil, fail("missing id")
		case from == "":
			return nil, fail("missing data.from")
		case message == "":
			return nil, fail("missing data.message")
		}
		return SMSReceived{
			ID:         id,
			From:       from,
			To:         strings.TrimSpace(data.To),
			Message:    message,
			ReceivedAt: parseTimestamp(data.ReceivedTimestamp, env.EventTime),
		}, nil

	case TypeDeliveryReport:
		var data deliveryReportData
		if err := decodeData(env.Data, &data); err != nil {
			return nil, fail(err.Error())
		}
		if id == "" {
			id = strings.TrimSpace(data.MessageID)
		}
		to := strings.TrimSpace(data.To)
		status := strings.TrimSpace(data.DeliveryStatus)
		switch {
		case id == "":
			return nil, fail("missing id")
		case to == "":
			return nil, fail("missing data.to")
		case status == "":
			return nil, fail("missing data.deliveryStatus")
		}
		return DeliveryReport{
			ID:            id,
			MessageID:     strings.TrimSpace(data.MessageID),
			From:          strings.TrimSpace(data.From),
			To:            to,
			Status:        status,
			StatusDetails: strings.TrimSpace(data.DeliveryStatusDetails),
			ReceivedAt:    parseTimestamp(data.ReceivedTimestamp, env.EventTime),
		}, nil

	default:
		return Ignored{ID: id, Type: eventType}, nil
	}
}

func decodeData(raw json.RawMessage, target any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return errors.New("missing data")
	}
	if err := json.Unmarshal(trimmed, target); err != nil {
		return fmt.Errorf("invalid data: %v", err)
	}
	return nil
}

// parseTimestamp returns the first value that parses as RFC 3339, or the zero time.
func parseTimestamp(values ...string) time.Time {
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if parsed, err := time.Parse(time.RFC3339Nano, value); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}
