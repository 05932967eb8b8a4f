package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"smsform/pkg/config"
	"smsform/pkg/conversation"
	"smsform/pkg/logger"
	providertypes "smsform/pkg/provider/types"
)

const (
	// historyLimit bounds how many transcript messages are sent as context.
	historyLimit = 20

	greetingReply = "Hi! I'll help you fill out a short form. What is your first name?"
	fallbackReply = "Sorry, I'm having trouble responding right now. Please try again in a moment."
	closingReply  = "Thanks! Your form is complete and we have everything we need."
)

var (
	// ErrReplyGeneration wraps any failure to obtain a reply from the generator.
	ErrReplyGeneration = errors.New("reply generation failed")
	// ErrEmptyMessage is reported for blank inbound text; the state is left as is.
	ErrEmptyMessage = errors.New("inbound message is empty")
)

// Generator produces the reply for one turn.
type Generator interface {
	Generate(ctx context.Context, req providertypes.Request) (providertypes.Reply, error)
}

// Outcome describes what one Step did.
type Outcome struct {
	Reply string
	// Fallback is set when Reply is fixed text because generation failed.
	Fallback bool
	Err      error
	Intent   providertypes.Intent
	// Confirmed is the field committed to Collected during this step.
	Confirmed conversation.Field
	// Completed is set on the step that confirmed the final field.
	Completed bool
	Metadata  providertypes.Metadata
}

// Options tune an Engine. Zero values fall back to the configured defaults.
type Options struct {
	MaxReplyChars int
	ReplyTimeout  time.Duration
	MaxTokens     int
	Logger        *slog.Logger
	Now           func() time.Time
}

// OptionsFromConfig maps runtime config onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxReplyChars: cfg.Dialogue.MaxReplyChars,
		ReplyTimeout:  time.Duration(cfg.Dialogue.ReplyTimeoutSeconds) * time.Second,
		MaxTokens:     cfg.Provider.MaxTokens,
	}
}

// Engine walks one conversation through the form fields.
//
// Engine is stateless between calls; all per-phone state lives in the
// conversation.State passed to Step, which callers serialize per phone.
type Engine struct {
	generator     Generator
	prompts       *prompts
	maxReplyChars int
	replyTimeout  time.Duration
	maxTokens     int
	log           *slog.Logger
	now           func() time.Time
}

func New(generator Generator, opts Options) (*Engine, error) {
	if generator == nil {
		return nil, errors.New("generator is required")
	}

	p, err := loadPrompts()
	if err != nil {
		return nil, err
	}

	if opts.MaxReplyChars <= 0 {
		opts.MaxReplyChars = config.DefaultMaxReplyChars
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = config.DefaultReplyTimeoutSeconds * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = config.DefaultMaxTokens
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Engine{
		generator:     generator,
		prompts:       p,
		maxReplyChars: opts.MaxReplyChars,
		replyTimeout:  opts.ReplyTimeout,
		maxTokens:     opts.MaxTokens,
		log:           opts.Logger.With("component", "dialogue.engine"),
		now:           opts.Now,
	}, nil
}

// Step applies one inbound message to st and returns the reply to send.
//
// Step appends exactly one user message and one assistant message to the
// transcript. Collected only changes when a proposed value is affirmed.
// Blank text is refused with ErrEmptyMessage and no reply.
func (e *Engine) Step(ctx context.Context, st *conversation.State, text string) Outcome {
	text = strings.TrimSpace(text)
	if text == "" {
		return Outcome{Err: ErrEmptyMessage}
	}
	st.Append(conversation.RoleUser, text, e.now())

	var out Outcome
	switch {
	case st.Complete():
		out = Outcome{Reply: closingReply}
	case !st.Started:
		out = e.start(ctx, st)
	case st.AwaitingConfirmation():
		out = e.confirm(ctx, st)
	default:
		out = e.collect(ctx, st, text)
	}

	out.Reply = capReply(out.Reply, e.maxReplyChars)
	st.Append(conversation.RoleAssistant, out.Reply, e.now())

	return out
}

func (e *Engine) start(ctx context.Context, st *conversation.State) Outcome {
	st.Started = true
	st.Pending = conversation.FieldFirstName
	st.Proposed = nil

	reply, err := e.generate(ctx, phaseStart, st)
	if err != nil {
		e.log.Warn("Greeting generation failed, using fixed greeting", "phone", logger.MaskPhone(st.Phone), "error", err)
		return Outcome{Reply: greetingReply, Fallback: true, Err: err}
	}

	e.log.Debug("Conversation started", "phone", logger.MaskPhone(st.Phone))
	return Outcome{Reply: reply.Text, Intent: reply.Intent, Metadata: reply.Metadata}
}

func (e *Engine) collect(ctx context.Context, st *conversation.State, text string) Outcome {
	if st.Pending == conversation.FieldNone {
		next, _ := st.NextField()
		st.Pending = next
	}

	reply, err := e.generate(ctx, phaseCollect, st)
	if err != nil {
		return e.fallback(st, err)
	}

	out := Outcome{Reply: reply.Text, Intent: reply.Intent, Metadata: reply.Metadata}

	// An unclear reply asks again, so nothing is put up for confirmation.
	if reply.Intent == providertypes.IntentUnclear {
		st.Proposed = nil
		e.log.Debug("No value found", "phone", logger.MaskPhone(st.Phone), "field", string(st.Pending))
		return out
	}

	value := text
	if cleaned := strings.TrimSpace(reply.Value); cleaned != "" {
		value = cleaned
	}
	st.Proposed = &value

	e.log.Debug("Value proposed", "phone", logger.MaskPhone(st.Phone), "field", string(st.Pending))
	return out
}

func (e *Engine) confirm(ctx context.Context, st *conversation.State) Outcome {
	reply, err := e.generate(ctx, phaseConfirm, st)
	if err != nil {
		return e.fallback(st, err)
	}

	out := Outcome{Reply: reply.Text, Intent: reply.Intent, Metadata: reply.Metadata}
	field := st.Pending

	switch reply.Intent {
	case providertypes.IntentAffirm:
		st.Collected[field] = *st.Proposed
		st.Proposed = nil
		next, ok := st.NextField()
		st.Pending = next
		out.Confirmed = field
		out.Completed = !ok
		e.log.Debug("Field confirmed", "phone", logger.MaskPhone(st.Phone), "field", string(field), "completed", out.Completed)
	case providertypes.IntentCorrection:
		if value := strings.TrimSpace(reply.Value); value != "" {
			st.Proposed = &value
			e.log.Debug("Value corrected", "phone", logger.MaskPhone(st.Phone), "field", string(field))
			break
		}
		out.Intent = providertypes.IntentReject
		st.Proposed = nil
		e.log.Debug("Value rejected", "phone", logger.MaskPhone(st.Phone), "field", string(field))
	case providertypes.IntentReject:
		st.Proposed = nil
		e.log.Debug("Value rejected", "phone", logger.MaskPhone(st.Phone), "field", string(field))
	default:
		e.log.Debug("Confirmation unclear", "phone", logger.MaskPhone(st.Phone), "field", string(field))
	}

	return out
}

func (e *Engine) fallback(st *conversation.State, err error) Outcome {
	e.log.Warn("Reply generation failed, sending fallback", "phone", logger.MaskPhone(st.Phone), "field", string(st.Pending), "error", err)
	return Outcome{Reply: fallbackReply, Fallback: true, Err: err}
}

func (e *Engine) generate(ctx context.Context, ph phase, st *conversation.State) (providertypes.Reply, error) {
	instructions, err := e.prompts.render(ph, st)
	if err != nil {
		return providertypes.Reply{}, fmt.Errorf("%w: %w", ErrReplyGeneration, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.replyTimeout)
	defer cancel()

	reply, err := e.generator.Generate(ctx, providertypes.Request{
		Instructions: instructions,
		Transcript:   recentTurns(st.Transcript, historyLimit),
		MaxTokens:    e.maxTokens,
	})
	if err != nil {
		return providertypes.Reply{}, fmt.Errorf("%w: %w", ErrReplyGeneration, err)
	}

	reply.Text = strings.TrimSpace(reply.Text)
	if reply.Text == "" {
		return providertypes.Reply{}, fmt.Errorf("%w: empty reply", ErrReplyGeneration)
	}

	return reply, nil
}

func recentTurns(transcript []conversation.Message, limit int) []providertypes.Turn {
	if len(transcript) > limit {
		transcript = transcript[len(transcript)-limit:]
	}

	turns := make([]providertypes.Turn, 0, len(transcript))
	for _, msg := range transcript {
		turns = append(turns, providertypes.Turn{Role: string(msg.Role), Text: msg.Text})
	}
	return turns
}

// capReply truncates text to at most limit runes.
func capReply(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}

	runes := []rune(text)
	return strings.TrimSpace(string(runes[:limit]))
}
