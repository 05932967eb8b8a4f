// Package acs sends SMS through the Azure Communication Services REST API.
package acs

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"smsform/pkg/channel"
	"smsform/pkg/config"
	"smsform/pkg/logger"
)

const (
	channelName    = "acs"
	apiVersion     = "2021-03-07"
	defaultTimeout = 10 * time.Second
)

// Sender posts messages to {endpoint}/sms with HMAC-SHA256 request signing.
type Sender struct {
	endpoint *url.URL
	key      []byte
	from     string
	http     *http.Client
	now      func() time.Time
	log      *slog.Logger
}

// NewSender validates ACS credentials. Either a connection string or an
// endpoint plus access key is required, along with the sending number.
func NewSender(cfg config.ACSConfig, from string, log *slog.Logger) (*Sender, error) {
	endpoint, accessKey, err := resolveCredentials(cfg)
	if err != nil {
		return nil, err
	}

	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("PHONE_NUMBER is required to send through ACS")
	}

	parsed, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid ACS endpoint %q", endpoint)
	}

	key, err := base64.StdEncoding.DecodeString(accessKey)
	if err != nil {
		return nil, fmt.Errorf("decode ACS access key: %w", err)
	}

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	return &Sender{
		endpoint: parsed,
		key:      key,
		from:     from,
		http:     &http.Client{Timeout: timeout},
		now:      time.Now,
		log:      log.With("component", "channel.acs"),
	}, nil
}

func (s *Sender) Name() string {
	return channelName
}

type sendRequest struct {
	From          string         `json:"from"`
	SMSRecipients []smsRecipient `json:"smsRecipients"`
	Message       string         `json:"message"`
	SMSSendOption sendOptions    `json:"smsSendOptions"`
}

type smsRecipient struct {
	To string `json:"to"`
}

type sendOptions struct {
	EnableDeliveryReport bool `json:"enableDeliveryReport"`
}

type sendResponse struct {
	Value []sendResponseItem `json:"value"`
}

type sendResponseItem struct {
	To             string `json:"to"`
	MessageID      string `json:"messageId"`
	HTTPStatusCode int    `json:"httpStatusCode"`
	Successful     bool   `json:"successful"`
	ErrorMessage   string `json:"errorMessage"`
}

// Send delivers text to one recipient with delivery reports enabled.
func (s *Sender) Send(ctx context.Context, to string, text string) (channel.SendResult, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return channel.SendResult{}, channel.SendError(channelName, errors.New("recipient is required"))
	}

	body, err := json.Marshal(sendRequest{
		From:          s.from,
		SMSRecipients: []smsRecipient{{To: to}},
		Message:       text,
		SMSSendOption: sendOptions{EnableDeliveryReport: true},
	})
	if err != nil {
		return channel.SendResult{}, channel.SendError(channelName, err)
	}

	target := *s.endpoint
	target.Path = strings.TrimRight(target.Path, "/") + "/sms"
	target.RawQuery = url.Values{"api-version": []string{apiVersion}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return channel.SendResult{}, channel.SendError(channelName, err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.sign(req, body)

	startedAt := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		return channel.SendResult{}, channel.SendError(channelName, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return channel.SendResult{}, channel.SendError(channelName, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return channel.SendResult{}, channel.SendError(channelName,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}

	var decoded sendResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return channel.SendResult{}, channel.SendError(channelName, fmt.Errorf("decode response: %w", err))
	}
	if len(decoded.Value) == 0 {
		return channel.SendResult{}, channel.SendError(channelName, errors.New("response listed no recipients"))
	}

	item := decoded.Value[0]
	if !item.Successful {
		return channel.SendResult{}, channel.SendError(channelName,
			fmt.Errorf("recipient rejected (status %d): %s", item.HTTPStatusCode, item.ErrorMessage))
	}

	s.log.Debug("SMS accepted",
		"to", logger.MaskPhone(to),
		"message_id", item.MessageID,
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)

	return channel.SendResult{Transport: channelName, MessageID: item.MessageID, To: to}, nil
}

// sign applies the ACS HMAC-SHA256 authorization headers.
func (s *Sender) sign(req *http.Request, body []byte) {
	date := s.now().UTC().Format(http.TimeFormat)
	sum := sha256.Sum256(body)
	contentHash := base64.StdEncoding.EncodeToString(sum[:])

	stringToSign := strings.Join([]string{
		req.Method,
		req.URL.RequestURI(),
		date + ";" + req.URL.Host + ";" + contentHash,
	}, "\n")

	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("x-ms-date", date)
	req.Header.Set("x-ms-content-sha256", contentHash)
	req.Header.Set("Authorization", "HMAC-SHA256 SignedHeaders=x-ms-date;host;x-ms-content-sha256&Signature="+signature)
}

// resolveCredentials prefers the connection string over endpoint + key.
func resolveCredentials(cfg config.ACSConfig) (string, string, error) {
	if raw := strings.TrimSpace(cfg.ConnectionString); raw != "" {
		return parseConnectionString(raw)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	accessKey := strings.TrimSpace(cfg.AccessKey)
	if endpoint == "" || accessKey == "" {
		return "", "", errors.New("AZURE_COMMUNICATION_SERVICE_CONNECTION_STRING or endpoint and access key are required")
	}
	return endpoint, accessKey, nil
}

// parseConnectionString reads "endpoint=https://...;accesskey=...".
func parseConnectionString(raw string) (string, string, error) {
	var endpoint, accessKey string
	for _, part := range strings.Split(raw, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "endpoint":
			endpoint = strings.TrimSpace(value)
		case "accesskey":
			accessKey = strings.TrimSpace(value)
		}
	}

	if endpoint == "" || accessKey == "" {
		return "", "", errors.New("ACS connection string must contain endpoint and accesskey")
	}
	return endpoint, accessKey, nil
}
