package channel

import (
	"context"
	"errors"
	"fmt"
)

// ErrSend wraps every outbound transport failure.
var ErrSend = errors.New("sms send failed")

// SendResult identifies one accepted outbound message.
type SendResult struct {
	Transport string
	MessageID string
	To        string
}

// Sender delivers one SMS reply over an external transport.
type Sender interface {
	Name() string
	Send(ctx context.Context, to string, text string) (SendResult, error)
}

// SendError wraps a transport failure with ErrSend so callers can match it
// with errors.Is.
func SendError(transport string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSend, transport, err)
}
