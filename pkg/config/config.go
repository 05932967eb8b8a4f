package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	envConfigPath = "SMSFORM_CONFIG"
	envDotEnvPath = "SMSFORM_ENV_FILE"

	envHost        = "HOST"
	envPort        = "PORT"
	envPhoneNumber = "PHONE_NUMBER"

	envACSConnectionString = "AZURE_COMMUNICATION_SERVICE_CONNECTION_STRING"
	envACSEndpoint         = "AZURE_COMMUNICATION_SERVICE_ENDPOINT"
	envACSAccessKey        = "AZURE_COMMUNICATION_SERVICE_ACCESS_KEY"

	envAzureOpenAIEndpoint = "AZURE_OPENAI_ENDPOINT"
	envAzureOpenAIKey      = "AZURE_OPENAI_KEY"
	envAzureOpenAIModel    = "AZURE_OPENAI_MODEL"
	envOpenAIAPIKey        = "OPENAI_API_KEY"

	envTwilioAccountSID = "TWILIO_ACCOUNT_SID"
	envTwilioAuthToken  = "TWILIO_AUTH_TOKEN"

	envNATSURL   = "NATS_URL"
	envNATSToken = "NATS_TOKEN"
)

const (
	DefaultHost                  = "0.0.0.0"
	DefaultPort                  = 8000
	DefaultMaxBodyBytes          = 1 << 20
	DefaultModel                 = "gpt-4o-mini"
	DefaultMaxTokens             = 256
	DefaultRequestTimeoutSeconds = 30
	DefaultHealthIntervalSeconds = 30
	DefaultMaxReplyChars         = 320
	DefaultReplyTimeoutSeconds   = 20
	DefaultQueueSize             = 256
	DefaultMaxInFlight           = 16
	DefaultEnqueueTimeoutMS      = 2000
	DefaultDedupCapacity         = 4096
	DefaultNATSSubjectPrefix     = "smsform.events"
)

// Config is the root runtime configuration.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Provider ProviderConfig `json:"provider"`
	Dialogue DialogueConfig `json:"dialogue"`
	Dispatch DispatchConfig `json:"dispatch"`
	Channels ChannelsConfig `json:"channels"`
	NATS     NATSConfig     `json:"nats"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	MaxBodyBytes int64  `json:"max_body_bytes"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ProviderConfig configures the reply generator.
type ProviderConfig struct {
	// Type is "openai" or "azure". Empty selects azure when an Azure endpoint is set.
	Type                  string               `json:"type"`
	Model                 string               `json:"model"`
	MaxTokens             int                  `json:"max_tokens"`
	Temperature           float64              `json:"temperature"`
	RequestTimeoutSeconds int                  `json:"request_timeout_seconds"`
	HealthIntervalSeconds int                  `json:"health_interval_seconds"`
	OpenAI                OpenAIProviderConfig `json:"openai"`
	Azure                 AzureOpenAIConfig    `json:"azure"`
}

// OpenAIProviderConfig configures the OpenAI provider client.
type OpenAIProviderConfig struct {
	BaseURL      string `json:"base_url"`
	Organization string `json:"organization"`
	Project      string `json:"project"`
	APIKeyEnv    string `json:"api_key_env"`
	APIKey       string `json:"-"`
}

// AzureOpenAIConfig configures an Azure OpenAI deployment.
type AzureOpenAIConfig struct {
	Endpoint   string `json:"endpoint"`
	APIVersion string `json:"api_version"`
	APIKey     string `json:"-"`
}

// DialogueConfig bounds reply generation per turn.
type DialogueConfig struct {
	MaxReplyChars       int `json:"max_reply_chars"`
	ReplyTimeoutSeconds int `json:"reply_timeout_seconds"`
}

// DispatchConfig sizes the background event queue.
type DispatchConfig struct {
	QueueSize        int `json:"queue_size"`
	MaxInFlight      int `json:"max_in_flight"`
	EnqueueTimeoutMS int `json:"enqueue_timeout_ms"`
	DedupCapacity    int `json:"dedup_capacity"`
}

// ChannelsConfig stores outbound SMS transport settings.
type ChannelsConfig struct {
	// Sender is "acs", "twilio" or "log". Empty picks the first configured transport.
	Sender     string       `json:"sender"`
	FromNumber string       `json:"from_number"`
	ACS        ACSConfig    `json:"acs"`
	Twilio     TwilioConfig `json:"twilio"`
}

// ACSConfig configures Azure Communication Services SMS.
type ACSConfig struct {
	ConnectionString      string `json:"-"`
	Endpoint              string `json:"endpoint"`
	AccessKey             string `json:"-"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// Configured reports whether enough credentials are present to send.
func (c ACSConfig) Configured() bool {
	if strings.TrimSpace(c.ConnectionString) != "" {
		return true
	}
	return strings.TrimSpace(c.Endpoint) != "" && strings.TrimSpace(c.AccessKey) != ""
}

// TwilioConfig configures Twilio SMS.
type TwilioConfig struct {
	AccountSID     string `json:"-"`
	AuthToken      string `json:"-"`
	StatusCallback string `json:"status_callback"`
}

// Configured reports whether enough credentials are present to send.
func (c TwilioConfig) Configured() bool {
	return strings.TrimSpace(c.AccountSID) != "" && strings.TrimSpace(c.AuthToken) != ""
}

// NATSConfig configures lifecycle event export.
type NATSConfig struct {
	URL           string   `json:"url"`
	Token         string   `json:"-"`
	SubjectPrefix string   `json:"subject_prefix"`
	EventTypes    []string `json:"event_types,omitempty"`
}

// Enabled reports whether a NATS server was configured.
func (c NATSConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

// LoadConfig loads .env, an optional config.json, defaults, and environment overrides.
func LoadConfig() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	var cfg Config

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	return &cfg, nil
}

// loadDotEnv populates unset environment variables from .env, if present.
func loadDotEnv() error {
	path := strings.TrimSpace(os.Getenv(envDotEnvPath))
	if path == "" {
		path = ".env"
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil
		}
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Host) == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if strings.TrimSpace(cfg.Provider.Type) == "" {
		if strings.TrimSpace(cfg.Provider.Azure.Endpoint) != "" {
			cfg.Provider.Type = "azure"
		} else {
			cfg.Provider.Type = "openai"
		}
	}
	if strings.TrimSpace(cfg.Provider.Model) == "" {
		cfg.Provider.Model = DefaultModel
	}
	if cfg.Provider.MaxTokens <= 0 {
		cfg.Provider.MaxTokens = DefaultMaxTokens
	}
	if cfg.Provider.RequestTimeoutSeconds <= 0 {
		cfg.Provider.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
	if cfg.Provider.HealthIntervalSeconds <= 0 {
		cfg.Provider.HealthIntervalSeconds = DefaultHealthIntervalSeconds
	}

	if cfg.Dialogue.MaxReplyChars <= 0 {
		cfg.Dialogue.MaxReplyChars = DefaultMaxReplyChars
	}
	if cfg.Dialogue.ReplyTimeoutSeconds <= 0 {
		cfg.Dialogue.ReplyTimeoutSeconds = DefaultReplyTimeoutSeconds
	}

	if cfg.Dispatch.QueueSize <= 0 {
		cfg.Dispatch.QueueSize = DefaultQueueSize
	}
	if cfg.Dispatch.MaxInFlight <= 0 {
		cfg.Dispatch.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.Dispatch.EnqueueTimeoutMS <= 0 {
		cfg.Dispatch.EnqueueTimeoutMS = DefaultEnqueueTimeoutMS
	}
	if cfg.Dispatch.DedupCapacity <= 0 {
		cfg.Dispatch.DedupCapacity = DefaultDedupCapacity
	}

	if strings.TrimSpace(cfg.NATS.SubjectPrefix) == "" {
		cfg.NATS.SubjectPrefix = DefaultNATSSubjectPrefix
	}
}

// applyEnvOverrides injects env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	setString(&cfg.Server.Host, envHost)
	if raw := strings.TrimSpace(os.Getenv(envPort)); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("%s must be a valid port, got %q", envPort, raw)
		}
		cfg.Server.Port = port
	}

	setString(&cfg.Channels.FromNumber, envPhoneNumber)
	setString(&cfg.Channels.ACS.ConnectionString, envACSConnectionString)
	setString(&cfg.Channels.ACS.Endpoint, envACSEndpoint)
	setString(&cfg.Channels.ACS.AccessKey, envACSAccessKey)
	setString(&cfg.Channels.Twilio.AccountSID, envTwilioAccountSID)
	setString(&cfg.Channels.Twilio.AuthToken, envTwilioAuthToken)

	setString(&cfg.Provider.Azure.Endpoint, envAzureOpenAIEndpoint)
	setString(&cfg.Provider.Azure.APIKey, envAzureOpenAIKey)
	setString(&cfg.Provider.Model, envAzureOpenAIModel)

	cfg.Provider.OpenAI.APIKey = resolveOpenAIKey(cfg.Provider.OpenAI)

	setString(&cfg.NATS.URL, envNATSURL)
	setString(&cfg.NATS.Token, envNATSToken)

	return nil
}

func resolveOpenAIKey(cfg OpenAIProviderConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv(envOpenAIAPIKey))
}

func setString(dst *string, key string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*dst = value
	}
}

// findConfigPath resolves the active config file location.
//
// Precedence is SMSFORM_CONFIG first, then cwd-local fallback paths. A missing
// fallback file is not an error; the service runs on defaults and env.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}

// Summary lists which integrations are configured without exposing secrets.
func (c *Config) Summary() []any {
	return []any{
		"addr", c.Server.Addr(),
		"provider", c.Provider.Type,
		"model", c.Provider.Model,
		"azure_openai_configured", strings.TrimSpace(c.Provider.Azure.APIKey) != "",
		"openai_configured", strings.TrimSpace(c.Provider.OpenAI.APIKey) != "",
		"acs_configured", c.Channels.ACS.Configured(),
		"twilio_configured", c.Channels.Twilio.Configured(),
		"from_number_configured", strings.TrimSpace(c.Channels.FromNumber) != "",
		"nats_enabled", c.NATS.Enabled(),
	}
}
