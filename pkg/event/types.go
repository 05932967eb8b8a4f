package event

import (
	"encoding/json"
	"time"
)

// Provider event type strings as delivered by Event Grid.
const (
	TypeSMSReceived            = "Microsoft.Communication.SMSReceived"
	TypeDeliveryReport         = "Microsoft.Communication.SMSDeliveryReportReceived"
	TypeSubscriptionValidation = "Microsoft.EventGrid.SubscriptionValidationEvent"
)

// Event is the closed set of normalized webhook events.
//
// Only the types in this package implement it: SMSReceived, DeliveryReport,
// SubscriptionValidation and Ignored.
type Event interface {
	// EventID returns the provider's stable event id, empty for handshakes.
	EventID() string
	isEvent()
}

// SMSReceived is one inbound text message.
type SMSReceived struct {
	ID         string
	From       string
	To         string
	Message    string
	ReceivedAt time.Time
}

// DeliveryReport describes the delivery outcome of a message we sent.
type DeliveryReport struct {
	ID            string
	MessageID     string
	From          string
	To            string
	Status        string
	StatusDetails string
	ReceivedAt    time.Time
}

// SubscriptionValidation is the one-time handshake that activates delivery.
type SubscriptionValidation struct {
	ValidationCode string
}

// Ignored carries an event whose type this service does not handle.
type Ignored struct {
	ID   string
	Type string
}

func (e SMSReceived) EventID() string            { return e.ID }
func (e DeliveryReport) EventID() string         { return e.ID }
func (e SubscriptionValidation) EventID() string { return "" }
func (e Ignored) EventID() string                { return e.ID }

func (SMSReceived) isEvent()            {}
func (DeliveryReport) isEvent()         {}
func (SubscriptionValidation) isEvent() {}
func (Ignored) isEvent()                {}

// envelope is the Event Grid schema for one event.
type envelope struct {
	ID          string          `json:"id"`
	EventType   string          `json:"eventType"`
	Subject     string          `json:"subject,omitempty"`
	Data        json.RawMessage `json:"data"`
	EventTime   string          `json:"eventTime"`
	Topic       string          `json:"topic,omitempty"`
	DataVersion string          `json:"dataVersion,omitempty"`
}

type smsReceivedData struct {
	MessageID         string `json:"messageId"`
	From              string `json:"from"`
	To                string `json:"to"`
	Message           string `json:"message"`
	ReceivedTimestamp string `json:"receivedTimestamp"`
}

type deliveryReportData struct {
	MessageID             string `json:"messageId"`
	From                  string `json:"from"`
	To                    string `json:"to"`
	DeliveryStatus        string `json:"deliveryStatus"`
	DeliveryStatusDetails string `json:"deliveryStatusDetails"`
	ReceivedTimestamp     string `json:"receivedTimestamp"`
}

type validationData struct {
	ValidationCode string `json:"validationCode"`
	ValidationURL  string `json:"validationUrl"`
}
