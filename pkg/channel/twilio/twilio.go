// Package twilio sends SMS through the Twilio Messages API.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"smsform/pkg/channel"
	"smsform/pkg/config"
	"smsform/pkg/logger"
)

const channelName = "twilio"

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

type Sender struct {
	api            messageCreator
	from           string
	statusCallback string
	log            *slog.Logger
}

func NewSender(cfg config.TwilioConfig, from string, log *slog.Logger) (*Sender, error) {
	if !cfg.Configured() {
		return nil, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required")
	}
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("PHONE_NUMBER is required to send through Twilio")
	}
	if log == nil {
		log = slog.Default()
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: strings.TrimSpace(cfg.AccountSID),
		Password: strings.TrimSpace(cfg.AuthToken),
	})

	return &Sender{
		api:            client.Api,
		from:           from,
		statusCallback: strings.TrimSpace(cfg.StatusCallback),
		log:            log.With("component", "channel.twilio"),
	}, nil
}

func (s *Sender) Name() string {
	return channelName
}

// Send creates one outbound message. The Twilio client has no context
// support, so ctx is only checked before the call.
func (s *Sender) Send(ctx context.Context, to string, text string) (channel.SendResult, error) {
	if err := ctx.Err(); err != nil {
		return channel.SendResult{}, channel.SendError(channelName, err)
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return channel.SendResult{}, channel.SendError(channelName, errors.New("recipient is required"))
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(s.from)
	params.SetTo(to)
	params.SetBody(text)
	if s.statusCallback != "" {
		params.SetStatusCallback(s.statusCallback)
	}

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		return channel.SendResult{}, channel.SendError(channelName, err)
	}
	if resp.ErrorCode != nil {
		message := ""
		if resp.ErrorMessage != nil {
			message = *resp.ErrorMessage
		}
		return channel.SendResult{}, channel.SendError(channelName, fmt.Errorf("twilio error %d: %s", *resp.ErrorCode, message))
	}

	messageID := ""
	if resp.Sid != nil {
		messageID = *resp.Sid
	}
	s.log.Debug("SMS accepted", "to", logger.MaskPhone(to), "message_id", messageID)

	return channel.SendResult{Transport: channelName, MessageID: messageID, To: to}, nil
}
