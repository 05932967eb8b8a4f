package conversation

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry.
type Message struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"timestamp"`
}

// Field is one piece of form information collected from the sender.
type Field string

const (
	FieldNone      Field = ""
	FieldFirstName Field = "first_name"
	FieldLastName  Field = "last_name"
	FieldPhone     Field = "phone"
	FieldAddress   Field = "address"
	FieldIncome    Field = "income"
)

// FieldOrder is the fixed order in which fields are requested.
var FieldOrder = []Field{FieldFirstName, FieldLastName, FieldPhone, FieldAddress, FieldIncome}

// Label returns a human-readable name for prompts.
func (f Field) Label() string {
	switch f {
	case FieldFirstName:
		return "first name"
	case FieldLastName:
		return "last name"
	case FieldPhone:
		return "phone number"
	case FieldAddress:
		return "address"
	case FieldIncome:
		return "annual income"
	default:
		return ""
	}
}

// State is the per-phone conversation record.
type State struct {
	Phone      string           `json:"phone_number"`
	Transcript []Message        `json:"transcript"`
	Collected  map[Field]string `json:"collected"`
	Pending    Field            `json:"pending_field,omitempty"`
	Proposed   *string          `json:"pending_confirmation,omitempty"`
	Started    bool             `json:"started"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func newState(phone string, now time.Time) State {
	return State{
		Phone:     phone,
		Collected: make(map[Field]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NextField returns the first field in FieldOrder that has not been collected.
func (s *State) NextField() (Field, bool) {
	for _, field := range FieldOrder {
		if _, ok := s.Collected[field]; !ok {
			return field, true
		}
	}
	return FieldNone, false
}

// Complete reports whether every field has been confirmed.
func (s *State) Complete() bool {
	_, remaining := s.NextField()
	return s.Started && !remaining
}

// AwaitingConfirmation reports whether a proposed value is waiting for yes/no.
func (s *State) AwaitingConfirmation() bool {
	return s.Pending != FieldNone && s.Proposed != nil
}

// Append records one transcript entry. Blank text is ignored.
func (s *State) Append(role Role, text string, at time.Time) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.Transcript = append(s.Transcript, Message{Role: role, Text: text, At: at.UTC()})
	s.UpdatedAt = at.UTC()
}

// Clone returns a deep copy that shares no mutable memory with s.
func (s State) Clone() State {
	out := s
	if s.Transcript != nil {
		out.Transcript = make([]Message, len(s.Transcript))
		copy(out.Transcript, s.Transcript)
	}
	out.Collected = make(map[Field]string, len(s.Collected))
	for field, value := range s.Collected {
		out.Collected[field] = value
	}
	if s.Proposed != nil {
		proposed := *s.Proposed
		out.Proposed = &proposed
	}
	return out
}
