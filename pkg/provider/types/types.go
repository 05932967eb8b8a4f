package types

import (
	"strconv"
	"strings"
)

// Intent is the generator's reading of the sender's latest message.
type Intent string

const (
	IntentUnclear    Intent = ""
	IntentAffirm     Intent = "affirm"
	IntentReject     Intent = "reject"
	IntentCorrection Intent = "correction"
)

// ParseIntent maps free-form model output onto a known intent. Anything
// unrecognized is unclear.
func ParseIntent(raw string) Intent {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "affirm", "yes", "confirm":
		return IntentAffirm
	case "reject", "no", "deny":
		return IntentReject
	case "correction", "correct", "value":
		return IntentCorrection
	default:
		return IntentUnclear
	}
}

// Turn is one prior transcript message passed as context.
type Turn struct {
	Role string
	Text string
}

// Request is one reply-generation call.
type Request struct {
	Instructions string
	Transcript   []Turn
	MaxTokens    int
}

// Reply is the normalized generator response.
//
// Value is only meaningful for IntentCorrection.
type Reply struct {
	Intent   Intent
	Value    string
	Text     string
	Metadata Metadata
}

// Metadata carries provider/model identity and optional usage accounting.
type Metadata struct {
	Provider string
	Model    string
	Usage    *TokenUsage
}

// TokenUsage captures token accounting across providers.
type TokenUsage struct {
	InputTokens     int64
	OutputTokens    int64
	TotalTokens     int64
	ReasoningTokens int64
	CacheReadTokens int64
}

// IsZero reports whether all token counters are unset/zero.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 &&
		u.OutputTokens == 0 &&
		u.TotalTokens == 0 &&
		u.ReasoningTokens == 0 &&
		u.CacheReadTokens == 0
}

const (
	UsageInputTokensKey     = "usage_input_tokens"
	UsageOutputTokensKey    = "usage_output_tokens"
	UsageTotalTokensKey     = "usage_total_tokens"
	UsageReasoningTokensKey = "usage_reasoning_tokens"
	UsageCacheReadTokensKey = "usage_cache_read_tokens"
)

// Fields flattens metadata into string fields for lifecycle events.
func (m Metadata) Fields() map[string]string {
	fields := map[string]string{}
	if m.Provider != "" {
		fields["provider"] = m.Provider
	}
	if m.Model != "" {
		fields["model"] = m.Model
	}
	if m.Usage != nil && !m.Usage.IsZero() {
		fields[UsageInputTokensKey] = strconv.FormatInt(m.Usage.InputTokens, 10)
		fields[UsageOutputTokensKey] = strconv.FormatInt(m.Usage.OutputTokens, 10)
		fields[UsageTotalTokensKey] = strconv.FormatInt(m.Usage.TotalTokens, 10)
		fields[UsageReasoningTokensKey] = strconv.FormatInt(m.Usage.ReasoningTokens, 10)
		fields[UsageCacheReadTokensKey] = strconv.FormatInt(m.Usage.CacheReadTokens, 10)
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}
