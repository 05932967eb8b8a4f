package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"smsform/pkg/channel"
	"smsform/pkg/channel/acs"
	"smsform/pkg/channel/twilio"
	"smsform/pkg/config"
)

const (
	senderACS    = "acs"
	senderTwilio = "twilio"
	senderLog    = "log"
)

// newSender builds the outbound transport named by channels.sender. An empty
// name picks ACS, then Twilio, then the logging dry-run sender.
func newSender(cfg *config.Config, log *slog.Logger) (channel.Sender, error) {
	name := resolveSenderName(cfg.Channels)

	switch name {
	case senderACS:
		sender, err := acs.NewSender(cfg.Channels.ACS, cfg.Channels.FromNumber, log)
		if err != nil {
			return nil, err
		}
		return sender, nil
	case senderTwilio:
		sender, err := twilio.NewSender(cfg.Channels.Twilio, cfg.Channels.FromNumber, log)
		if err != nil {
			return nil, err
		}
		return sender, nil
	case senderLog:
		return channel.NewLogSender(log), nil
	default:
		return nil, fmt.Errorf("unsupported sender: %s", name)
	}
}

func resolveSenderName(cfg config.ChannelsConfig) string {
	if name := strings.ToLower(strings.TrimSpace(cfg.Sender)); name != "" {
		return name
	}

	switch {
	case cfg.ACS.Configured():
		return senderACS
	case cfg.Twilio.Configured():
		return senderTwilio
	default:
		return senderLog
	}
}
