package channel

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"smsform/pkg/logger"
)

const logSenderName = "log"

// LogSender is a dry-run sender that only logs replies. It is used when no
// SMS transport is configured and by local tooling.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	if log == nil {
		log = slog.Default()
	}
	return &LogSender{log: log.With("component", "channel.log")}
}

func (s *LogSender) Name() string {
	return logSenderName
}

func (s *LogSender) Send(ctx context.Context, to string, text string) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, SendError(logSenderName, err)
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return SendResult{}, SendError(logSenderName, errors.New("recipient is required"))
	}

	result := SendResult{Transport: logSenderName, MessageID: uuid.NewString(), To: to}
	s.log.Info("SMS reply (dry run)",
		"to", logger.MaskPhone(to),
		"message_id", result.MessageID,
		"text", logger.PreviewText(text),
	)
	return result, nil
}
