package acs

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"smsform/pkg/channel"
	"smsform/pkg/config"
)

var testKey = base64.StdEncoding.EncodeToString([]byte("test-access-key"))

func TestParseConnectionString(t *testing.T) {
	endpoint, key, err := parseConnectionString("endpoint=https://acs.example.invalid/;accesskey=" + testKey)
	if err != nil {
		t.Fatalf("parseConnectionString error: %v", err)
	}
	if endpoint != "https://acs.example.invalid/" {
		t.Fatalf("endpoint = %q", endpoint)
	}
	if key != testKey {
		t.Fatalf("key = %q, want %q", key, testKey)
	}

	if _, _, err := parseConnectionString("endpoint=https://acs.example.invalid/"); err == nil {
		t.Fatal("expected error without accesskey")
	}
}

func TestNewSenderRequiresCredentialsAndNumber(t *testing.T) {
	if _, err := NewSender(config.ACSConfig{}, "+18005550100", nil); err == nil {
		t.Fatal("expected error without credentials")
	}

	cfg := config.ACSConfig{Endpoint: "https://acs.example.invalid", AccessKey: testKey}
	if _, err := NewSender(cfg, "", nil); err == nil {
		t.Fatal("expected error without from number")
	}
	if _, err := NewSender(config.ACSConfig{Endpoint: "https://acs.example.invalid", AccessKey: "%%%"}, "+1", nil); err == nil {
		t.Fatal("expected error for non-base64 access key")
	}
}

func TestSendSignsRequestAndParsesResult(t *testing.T) {
	var (
		mu      sync.Mutex
		gotReq  sendRequest
		headers http.Header
		uri     string
		host    string
		rawBody []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		rawBody = body
		_ = json.Unmarshal(body, &gotReq)
		headers = r.Header.Clone()
		uri = r.URL.RequestURI()
		host = r.Host
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"value":[{"to":"+15550001","messageId":"msg-1","httpStatusCode":202,"successful":true}]}`)
	}))
	defer server.Close()

	sender, err := NewSender(config.ACSConfig{ConnectionString: "endpoint=" + server.URL + "/;accesskey=" + testKey}, "+18005550100", nil)
	if err != nil {
		t.Fatalf("NewSender error: %v", err)
	}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sender.now = func() time.Time { return fixed }

	result, err := sender.Send(context.Background(), "+15550001", "What is your first name?")
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if result.MessageID != "msg-1" || result.Transport != "acs" {
		t.Fatalf("result = %+v", result)
	}

	mu.Lock()
	defer mu.Unlock()

	if uri != "/sms?api-version="+apiVersion {
		t.Fatalf("uri = %q", uri)
	}
	if gotReq.From != "+18005550100" || len(gotReq.SMSRecipients) != 1 || gotReq.SMSRecipients[0].To != "+15550001" {
		t.Fatalf("request = %+v", gotReq)
	}
	if !gotReq.SMSSendOption.EnableDeliveryReport {
		t.Fatal("expected delivery reports enabled")
	}

	sum := sha256.Sum256(rawBody)
	wantHash := base64.StdEncoding.EncodeToString(sum[:])
	if headers.Get("x-ms-content-sha256") != wantHash {
		t.Fatalf("content hash = %q, want %q", headers.Get("x-ms-content-sha256"), wantHash)
	}
	date := fixed.Format(http.TimeFormat)
	if headers.Get("x-ms-date") != date {
		t.Fatalf("x-ms-date = %q", headers.Get("x-ms-date"))
	}

	key, _ := base64.StdEncoding.DecodeString(testKey)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("POST\n" + uri + "\n" + date + ";" + host + ";" + wantHash))
	wantAuth := "HMAC-SHA256 SignedHeaders=x-ms-date;host;x-ms-content-sha256&Signature=" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if headers.Get("Authorization") != wantAuth {
		t.Fatalf("authorization = %q, want %q", headers.Get("Authorization"), wantAuth)
	}
}

func TestSendReportsRejectedRecipient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"value":[{"to":"+1","httpStatusCode":400,"successful":false,"errorMessage":"invalid number"}]}`)
	}))
	defer server.Close()

	sender, err := NewSender(config.ACSConfig{Endpoint: server.URL, AccessKey: testKey}, "+18005550100", nil)
	if err != nil {
		t.Fatalf("NewSender error: %v", err)
	}

	_, err = sender.Send(context.Background(), "+1", "hi")
	if !errors.Is(err, channel.ErrSend) {
		t.Fatalf("error = %v, want ErrSend", err)
	}
	if !strings.Contains(err.Error(), "invalid number") {
		t.Fatalf("error = %v, want recipient message", err)
	}
}

func TestSendReportsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"Unauthorized"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	sender, err := NewSender(config.ACSConfig{Endpoint: server.URL, AccessKey: testKey}, "+18005550100", nil)
	if err != nil {
		t.Fatalf("NewSender error: %v", err)
	}

	if _, err := sender.Send(context.Background(), "+15550001", "hi"); !errors.Is(err, channel.ErrSend) {
		t.Fatalf("error = %v, want ErrSend", err)
	}
}

func TestSendReportsTruncatedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		defer conn.Close()
		_, _ = buf.WriteString("HTTP/1.1 202 Accepted\r\nContent-Type: application/json\r\nContent-Length: 200\r\n\r\n{\"value\":[")
		_ = buf.Flush()
	}))
	defer server.Close()

	sender, err := NewSender(config.ACSConfig{Endpoint: server.URL, AccessKey: testKey}, "+18005550100", nil)
	if err != nil {
		t.Fatalf("NewSender error: %v", err)
	}

	_, err = sender.Send(context.Background(), "+15550001", "hi")
	if !errors.Is(err, channel.ErrSend) {
		t.Fatalf("error = %v, want ErrSend", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("error = %v, want unexpected EOF from the truncated body", err)
	}
}
