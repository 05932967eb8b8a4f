package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"smsform/pkg/config"
	providertypes "smsform/pkg/provider/types"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const defaultAzureAPIVersion = "2024-10-21"

// ErrEmptyReply is returned when the model answers without usable text.
var ErrEmptyReply = errors.New("generator returned no reply text")

type Client struct {
	client         osdk.Client
	providerID     string
	model          string
	maxTokens      int
	temperature    float64
	requestTimeout time.Duration
}

// New builds a Chat Completions client for OpenAI or, when cfg.Provider.Type is
// "azure", an Azure OpenAI deployment.
func New(cfg *config.Config) (*Client, error) {
	providerCfg := cfg.Provider
	providerID := strings.TrimSpace(providerCfg.Type)
	if providerID == "" {
		providerID = "openai"
	}

	var opts []option.RequestOption
	switch providerID {
	case "azure":
		endpoint := strings.TrimSpace(providerCfg.Azure.Endpoint)
		if endpoint == "" {
			return nil, errors.New("AZURE_OPENAI_ENDPOINT is required for the azure provider")
		}
		apiKey := strings.TrimSpace(providerCfg.Azure.APIKey)
		if apiKey == "" {
			return nil, errors.New("AZURE_OPENAI_KEY is required for the azure provider")
		}
		apiVersion := strings.TrimSpace(providerCfg.Azure.APIVersion)
		if apiVersion == "" {
			apiVersion = defaultAzureAPIVersion
		}
		opts = append(opts, azure.WithEndpoint(endpoint, apiVersion), azure.WithAPIKey(apiKey))
	case "openai":
		apiKey := strings.TrimSpace(providerCfg.OpenAI.APIKey)
		if apiKey == "" {
			return nil, errors.New("provider.openai.api_key_env is required or OPENAI_API_KEY must be set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
		if baseURL := strings.TrimSpace(providerCfg.OpenAI.BaseURL); baseURL != "" {
			opts = append(opts, option.WithBaseURL(baseURL))
		}
		if organization := strings.TrimSpace(providerCfg.OpenAI.Organization); organization != "" {
			opts = append(opts, option.WithOrganization(organization))
		}
		if project := strings.TrimSpace(providerCfg.OpenAI.Project); project != "" {
			opts = append(opts, option.WithProject(project))
		}
	default:
		return nil, fmt.Errorf("unsupported provider type for openai client: %s", providerID)
	}

	model, err := normalizeModel(providerCfg.Model)
	if err != nil {
		return nil, err
	}

	requestTimeout := time.Duration(providerCfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}
	// Retries would outlive the per-turn reply deadline.
	opts = append(opts, option.WithMaxRetries(0))

	maxTokens := providerCfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = config.DefaultMaxTokens
	}

	return &Client{
		client:         osdk.NewClient(opts...),
		providerID:     providerID,
		model:          model,
		maxTokens:      maxTokens,
		temperature:    providerCfg.Temperature,
		requestTimeout: requestTimeout,
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "health")
	startedAt := time.Now()
	log.Debug("provider request started")

	if _, err := c.client.Models.List(ctx); err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds())

	return nil
}

// Generate asks the model for the next reply and its reading of the sender's
// intent. The model is instructed to answer with a JSON object
// {"intent", "value", "reply"}.
func (c *Client) Generate(ctx context.Context, req providertypes.Request) (providertypes.Reply, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "generate")
	startedAt := time.Now()

	instructions := strings.TrimSpace(req.Instructions)
	if instructions == "" {
		return providertypes.Reply{}, errors.New("instructions are required")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	messages := make([]osdk.ChatCompletionMessageParamUnion, 0, len(req.Transcript)+1)
	messages = append(messages, osdk.SystemMessage(instructions))
	for _, turn := range req.Transcript {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		if turn.Role == "assistant" {
			messages = append(messages, osdk.AssistantMessage(text))
		} else {
			messages = append(messages, osdk.UserMessage(text))
		}
	}

	params := osdk.ChatCompletionNewParams{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: osdk.Int(int64(maxTokens)),
		ResponseFormat: osdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if c.temperature > 0 {
		params.Temperature = osdk.Float(c.temperature)
	}

	log.Debug("provider request started",
		"model", c.model,
		"messages", len(messages),
		"max_tokens", maxTokens,
	)

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.Reply{}, fmt.Errorf("generate failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no choices")
		return providertypes.Reply{}, ErrEmptyReply
	}

	reply, err := parseReply(completion.Choices[0].Message.Content)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.Reply{}, err
	}

	reply.Metadata = providertypes.Metadata{
		Provider: c.providerID,
		Model:    c.model,
		Usage:    usageFromCompletion(completion.Usage),
	}
	log.Debug("provider request completed",
		"duration_ms", time.Since(startedAt).Milliseconds(),
		"intent", string(reply.Intent),
		"response_length", len(reply.Text),
	)

	return reply, nil
}

type replyPayload struct {
	Intent string `json:"intent"`
	Value  string `json:"value"`
	Reply  string `json:"reply"`
}

// parseReply decodes the model's JSON answer. A plain-text answer is accepted
// as reply text with an unclear intent.
func parseReply(content string) (providertypes.Reply, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)
	if content == "" {
		return providertypes.Reply{}, ErrEmptyReply
	}

	var payload replyPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		if strings.HasPrefix(content, "{") {
			return providertypes.Reply{}, fmt.Errorf("decode generator reply: %w", err)
		}
		return providertypes.Reply{Text: content}, nil
	}

	text := strings.TrimSpace(payload.Reply)
	if text == "" {
		return providertypes.Reply{}, ErrEmptyReply
	}

	reply := providertypes.Reply{
		Intent: providertypes.ParseIntent(payload.Intent),
		Text:   text,
	}
	if reply.Intent == providertypes.IntentCorrection {
		reply.Value = strings.TrimSpace(payload.Value)
		if reply.Value == "" {
			// A correction without a value is a plain rejection.
			reply.Intent = providertypes.IntentReject
		}
	}

	return reply, nil
}

func usageFromCompletion(usage osdk.CompletionUsage) *providertypes.TokenUsage {
	out := &providertypes.TokenUsage{
		InputTokens:     usage.PromptTokens,
		OutputTokens:    usage.CompletionTokens,
		TotalTokens:     usage.TotalTokens,
		ReasoningTokens: usage.CompletionTokensDetails.ReasoningTokens,
		CacheReadTokens: usage.PromptTokensDetails.CachedTokens,
	}
	if out.IsZero() {
		return nil
	}
	return out
}

func providerLogger() *slog.Logger {
	return slog.Default().With("component", "provider.openai")
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func normalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return model, nil
	}

	providerID := strings.TrimSpace(parts[0])
	modelID := strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != "openai" && providerID != "azure" {
		return "", fmt.Errorf("model provider %q is not supported by openai provider", providerID)
	}

	return modelID, nil
}
