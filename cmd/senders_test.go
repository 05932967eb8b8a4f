package cmd

import (
	"bytes"
	"encoding/base64"
	"testing"

	"smsform/pkg/config"
)

func TestResolveSenderName(t *testing.T) {
	acsCfg := config.ACSConfig{ConnectionString: "endpoint=https://acs.example.invalid/;accesskey=a2V5"}
	twilioCfg := config.TwilioConfig{AccountSID: "AC123", AuthToken: "secret"}

	tests := []struct {
		name string
		cfg  config.ChannelsConfig
		want string
	}{
		{name: "nothing configured", cfg: config.ChannelsConfig{}, want: senderLog},
		{name: "acs preferred", cfg: config.ChannelsConfig{ACS: acsCfg, Twilio: twilioCfg}, want: senderACS},
		{name: "twilio only", cfg: config.ChannelsConfig{Twilio: twilioCfg}, want: senderTwilio},
		{name: "explicit overrides", cfg: config.ChannelsConfig{Sender: " LOG ", ACS: acsCfg}, want: senderLog},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveSenderName(tt.cfg); got != tt.want {
				t.Fatalf("resolveSenderName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewSender(t *testing.T) {
	sender, err := newSender(&config.Config{}, nil)
	if err != nil {
		t.Fatalf("newSender error: %v", err)
	}
	if sender.Name() != senderLog {
		t.Fatalf("sender = %q, want %q", sender.Name(), senderLog)
	}

	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("k"), 16))
	cfg := &config.Config{Channels: config.ChannelsConfig{
		FromNumber: "+18005550100",
		ACS:        config.ACSConfig{Endpoint: "https://acs.example.invalid", AccessKey: key},
	}}
	sender, err = newSender(cfg, nil)
	if err != nil {
		t.Fatalf("newSender error: %v", err)
	}
	if sender.Name() != senderACS {
		t.Fatalf("sender = %q, want %q", sender.Name(), senderACS)
	}

	cfg = &config.Config{Channels: config.ChannelsConfig{Twilio: config.TwilioConfig{AccountSID: "AC1", AuthToken: "t"}}}
	if _, err := newSender(cfg, nil); err == nil {
		t.Fatal("expected error without a from number")
	}

	cfg = &config.Config{Channels: config.ChannelsConfig{Sender: "carrier-pigeon"}}
	if _, err := newSender(cfg, nil); err == nil {
		t.Fatal("expected error for unsupported sender")
	}
}
