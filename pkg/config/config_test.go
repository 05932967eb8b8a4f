package config

import (
	"os"
	"path/filepath"
	"testing"
)

// isolate clears every variable LoadConfig reads so host settings do not leak in.
func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, key := range []string{
		envConfigPath, envDotEnvPath, envHost, envPort, envPhoneNumber,
		envACSConnectionString, envACSEndpoint, envACSAccessKey,
		envAzureOpenAIEndpoint, envAzureOpenAIKey, envAzureOpenAIModel, envOpenAIAPIKey,
		envTwilioAccountSID, envTwilioAuthToken, envNATSURL, envNATSToken,
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	isolate(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
	  "server": {"host": "127.0.0.1", "port": 9000},
	  "provider": {"model": "openai/gpt-4.1-mini", "max_tokens": 64},
	  "dialogue": {"max_reply_chars": 160},
	  "channels": {"sender": "log"},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv(envConfigPath, path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q, want %q", cfg.Logging.Format, "json")
	}
	if !cfg.Logging.AddSource {
		t.Fatal("logging.add_source = false, want true")
	}
	if got := cfg.Server.Addr(); got != "127.0.0.1:9000" {
		t.Fatalf("server addr = %q, want %q", got, "127.0.0.1:9000")
	}
	if cfg.Provider.MaxTokens != 64 {
		t.Fatalf("provider.max_tokens = %d, want 64", cfg.Provider.MaxTokens)
	}
	if cfg.Dialogue.MaxReplyChars != 160 {
		t.Fatalf("dialogue.max_reply_chars = %d, want 160", cfg.Dialogue.MaxReplyChars)
	}
	if cfg.Dialogue.ReplyTimeoutSeconds != DefaultReplyTimeoutSeconds {
		t.Fatalf("dialogue.reply_timeout_seconds = %d, want default", cfg.Dialogue.ReplyTimeoutSeconds)
	}
}

func TestDefaultTokenBudgetFitsReplyContract(t *testing.T) {
	// Worst case a full-length reply plus an echoed value and the JSON
	// wrapper, at a pessimistic three characters per token.
	const wrapperChars = 64
	needed := (2*DefaultMaxReplyChars + wrapperChars + 2) / 3
	if DefaultMaxTokens < needed {
		t.Fatalf("DefaultMaxTokens = %d, need at least %d for a %d-char reply", DefaultMaxTokens, needed, DefaultMaxReplyChars)
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	isolate(t)
	t.Setenv(envConfigPath, filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestLoadConfigWithoutFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Server.Port != DefaultPort {
		t.Fatalf("server.port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Server.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Fatalf("server.max_body_bytes = %d, want %d", cfg.Server.MaxBodyBytes, DefaultMaxBodyBytes)
	}
	if cfg.Provider.Type != "openai" {
		t.Fatalf("provider.type = %q, want openai", cfg.Provider.Type)
	}
	if cfg.Provider.MaxTokens != DefaultMaxTokens {
		t.Fatalf("provider.max_tokens = %d, want %d", cfg.Provider.MaxTokens, DefaultMaxTokens)
	}
	if cfg.Provider.RequestTimeoutSeconds != DefaultRequestTimeoutSeconds {
		t.Fatalf("provider.request_timeout_seconds = %d, want %d", cfg.Provider.RequestTimeoutSeconds, DefaultRequestTimeoutSeconds)
	}
	if cfg.Dispatch.DedupCapacity != DefaultDedupCapacity {
		t.Fatalf("dispatch.dedup_capacity = %d, want %d", cfg.Dispatch.DedupCapacity, DefaultDedupCapacity)
	}
	if cfg.NATS.Enabled() {
		t.Fatal("expected nats disabled without NATS_URL")
	}
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv(envPort, "8123")
	t.Setenv(envPhoneNumber, "+18005550100")
	t.Setenv(envACSConnectionString, "endpoint=https://acs.example.invalid/;accesskey=c2VjcmV0")
	t.Setenv(envAzureOpenAIEndpoint, "https://aoai.example.invalid")
	t.Setenv(envAzureOpenAIKey, "azure-key")
	t.Setenv(envAzureOpenAIModel, "gpt-4o")
	t.Setenv(envNATSURL, "nats://127.0.0.1:4222")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Server.Port != 8123 {
		t.Fatalf("server.port = %d, want 8123", cfg.Server.Port)
	}
	if cfg.Channels.FromNumber != "+18005550100" {
		t.Fatalf("channels.from_number = %q", cfg.Channels.FromNumber)
	}
	if !cfg.Channels.ACS.Configured() {
		t.Fatal("expected ACS configured from connection string")
	}
	if cfg.Provider.Type != "azure" {
		t.Fatalf("provider.type = %q, want azure", cfg.Provider.Type)
	}
	if cfg.Provider.Model != "gpt-4o" {
		t.Fatalf("provider.model = %q, want gpt-4o", cfg.Provider.Model)
	}
	if !cfg.NATS.Enabled() {
		t.Fatal("expected nats enabled")
	}
}

func TestEnvOverridesRejectsBadPort(t *testing.T) {
	isolate(t)
	t.Setenv(envPort, "not-a-port")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for invalid PORT")
	}
}

func TestLoadConfigReadsDotEnv(t *testing.T) {
	isolate(t)

	envFile := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(envFile, []byte("TWILIO_ACCOUNT_SID=AC123\nTWILIO_AUTH_TOKEN=tok\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv(envDotEnvPath, envFile)
	// godotenv does not override variables that are already set, even when empty.
	os.Unsetenv(envTwilioAccountSID)
	os.Unsetenv(envTwilioAuthToken)
	t.Cleanup(func() {
		os.Unsetenv(envTwilioAccountSID)
		os.Unsetenv(envTwilioAuthToken)
	})

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if !cfg.Channels.Twilio.Configured() {
		t.Fatalf("expected twilio configured from env file, got %+v", cfg.Channels.Twilio)
	}
}

func TestOpenAIKeyPrefersConfiguredEnv(t *testing.T) {
	t.Setenv(envOpenAIAPIKey, "sk-default")
	t.Setenv("TEST_OPENAI_API_KEY", "sk-test")

	got := resolveOpenAIKey(OpenAIProviderConfig{APIKeyEnv: "TEST_OPENAI_API_KEY"})
	if got != "sk-test" {
		t.Fatalf("resolveOpenAIKey = %q, want sk-test", got)
	}

	t.Setenv("TEST_OPENAI_API_KEY", "")
	if got := resolveOpenAIKey(OpenAIProviderConfig{APIKeyEnv: "TEST_OPENAI_API_KEY"}); got != "sk-default" {
		t.Fatalf("resolveOpenAIKey fallback = %q, want sk-default", got)
	}
}

func TestSummaryOmitsSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Channels.Twilio.AuthToken = "super-secret"
	cfg.Provider.Azure.APIKey = "azure-secret"

	for _, v := range cfg.Summary() {
		if s, ok := v.(string); ok && (s == "super-secret" || s == "azure-secret") {
			t.Fatalf("summary leaked secret %q", s)
		}
	}
}
