package dialogue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"smsform/pkg/conversation"
	providertypes "smsform/pkg/provider/types"
)

type scriptedGenerator struct {
	mu       sync.Mutex
	replies  []providertypes.Reply
	errs     []error
	requests []providertypes.Request
	block    bool
}

func (g *scriptedGenerator) Generate(ctx context.Context, req providertypes.Request) (providertypes.Reply, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	block := g.block
	var (
		reply providertypes.Reply
		err   error
	)
	if len(g.errs) > 0 {
		err, g.errs = g.errs[0], g.errs[1:]
	}
	if err == nil && len(g.replies) > 0 {
		reply, g.replies = g.replies[0], g.replies[1:]
	}
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return providertypes.Reply{}, ctx.Err()
	}
	return reply, err
}

func (g *scriptedGenerator) push(replies ...providertypes.Reply) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = append(g.replies, replies...)
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func (g *scriptedGenerator) lastRequest() providertypes.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

func newTestEngine(t *testing.T, gen Generator, opts Options) *Engine {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	engine, err := New(gen, opts)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return engine
}

func newConversation(phone string) conversation.State {
	store := conversation.NewStore()
	return store.CreateIfAbsent(phone)
}

func say(text string) providertypes.Reply {
	return providertypes.Reply{Text: text}
}

func affirm(text string) providertypes.Reply {
	return providertypes.Reply{Intent: providertypes.IntentAffirm, Text: text}
}

func correction(value, text string) providertypes.Reply {
	return providertypes.Reply{Intent: providertypes.IntentCorrection, Value: value, Text: text}
}

func reject(text string) providertypes.Reply {
	return providertypes.Reply{Intent: providertypes.IntentReject, Text: text}
}

func TestFirstMessageStartsForm(t *testing.T) {
	gen := &scriptedGenerator{}
	gen.push(say("Hi there! What's your first name?"))
	engine := newTestEngine(t, gen, Options{})
	st := newConversation("+15550001")

	out := engine.Step(context.Background(), &st, "hello")

	if out.Reply != "Hi there! What's your first name?" {
		t.Fatalf("reply = %q", out.Reply)
	}
	if !st.Started || st.Pending != conversation.FieldFirstName || st.Proposed != nil {
		t.Fatalf("state = started:%v pending:%q proposed:%v", st.Started, st.Pending, st.Proposed)
	}
	if len(st.Collected) != 0 {
		t.Fatalf("collected = %v, want empty", st.Collected)
	}
	assertTranscript(t, st, "hello", "Hi there! What's your first name?")
}

func TestFullFormWalkthrough(t *testing.T) {
	gen := &scriptedGenerator{}
	engine := newTestEngine(t, gen, Options{})
	st := newConversation("+15550001")
	ctx := context.Background()

	gen.push(say("Hi! First name?"))
	engine.Step(ctx, &st, "hi")

	values := map[conversation.Field]string{
		conversation.FieldFirstName: "Ada",
		conversation.FieldLastName:  "Lovelace",
		conversation.FieldPhone:     "+15550001",
		conversation.FieldAddress:   "12 St James Sq, London",
		conversation.FieldIncome:    "85000",
	}

	for i, field := range conversation.FieldOrder {
		if st.Pending != field {
			t.Fatalf("pending = %q, want %q", st.Pending, field)
		}

		gen.push(correction(values[field], "Is that "+values[field]+"?"))
		engine.Step(ctx, &st, strings.ToLower(values[field]))
		if !st.AwaitingConfirmation() || *st.Proposed != values[field] {
			t.Fatalf("after candidate for %q: proposed = %v", field, st.Proposed)
		}
		if _, ok := st.Collected[field]; ok {
			t.Fatalf("%q collected before confirmation", field)
		}

		gen.push(affirm("Thanks!"))
		out := engine.Step(ctx, &st, "yes")
		if out.Confirmed != field {
			t.Fatalf("confirmed = %q, want %q", out.Confirmed, field)
		}
		if got := st.Collected[field]; got != values[field] {
			t.Fatalf("collected[%q] = %q, want %q", field, got, values[field])
		}
		last := i == len(conversation.FieldOrder)-1
		if out.Completed != last {
			t.Fatalf("completed = %v at field %q", out.Completed, field)
		}
	}

	if !st.Complete() || st.Pending != conversation.FieldNone {
		t.Fatalf("expected complete state, pending=%q", st.Pending)
	}

	callsBefore := gen.calls()
	out := engine.Step(ctx, &st, "anything else?")
	if out.Reply != closingReply {
		t.Fatalf("reply = %q, want closing reply", out.Reply)
	}
	if gen.calls() != callsBefore {
		t.Fatal("complete conversation must not call the generator")
	}
	if len(st.Collected) != len(conversation.FieldOrder) {
		t.Fatalf("collected changed after completion: %v", st.Collected)
	}
	if len(st.Transcript) != 2*(1+2*len(conversation.FieldOrder)+1) {
		t.Fatalf("len(transcript) = %d", len(st.Transcript))
	}
}

func TestBareFieldUsesRawTextWithoutCleanedValue(t *testing.T) {
	gen := &scriptedGenerator{}
	engine := newTestEngine(t, gen, Options{})
	st := startedConversation(t, engine, gen)

	gen.push(correction("", "Did you say ada?"))
	engine.Step(context.Background(), &st, "  ada ")

	if st.Proposed == nil || *st.Proposed != "ada" {
		t.Fatalf("proposed = %v, want ada", st.Proposed)
	}
	if st.Pending != conversation.FieldFirstName {
		t.Fatalf("pending = %q", st.Pending)
	}
}

func TestUnclearCandidateIsNotProposed(t *testing.T) {
	gen := &scriptedGenerator{}
	engine := newTestEngine(t, gen, Options{})
	st := startedConversation(t, engine, gen)

	gen.push(say("Sorry, what is your first name?"))
	out := engine.Step(context.Background(), &st, "why do you need this")
	if out.Intent != providertypes.IntentUnclear || st.Proposed != nil {
		t.Fatalf("intent = %q proposed = %v, want unclear with no proposal", out.Intent, st.Proposed)
	}

	gen.push(correction("Ada", "Is your first name Ada?"))
	engine.Step(context.Background(), &st, "yes")
	if _, ok := st.Collected[conversation.FieldFirstName]; ok {
		t.Fatalf("collected = %v, value committed without confirmation", st.Collected)
	}
	if st.Proposed == nil || *st.Proposed != "Ada" {
		t.Fatalf("proposed = %v, want Ada awaiting confirmation", st.Proposed)
	}
}

func TestBlankMessageIsRefused(t *testing.T) {
	gen := &scriptedGenerator{}
	engine := newTestEngine(t, gen, Options{})
	st := startedConversation(t, engine, gen)
	before := st.Clone()
	calls := gen.calls()

	out := engine.Step(context.Background(), &st, "   ")

	if !errors.Is(out.Err, ErrEmptyMessage) || out.Reply != "" {
		t.Fatalf("outcome = %+v, want ErrEmptyMessage without reply", out)
	}
	if gen.calls() != calls {
		t.Fatal("blank message must not reach the generator")
	}
	if len(st.Transcript) != len(before.Transcript) || st.Pending != before.Pending {
		t.Fatal("blank message changed the conversation")
	}
}

func TestRejectClearsProposalAndStaysOnField(t *testing.T) {
	gen := &scriptedGenerator{}
	engine := newTestEngine(t, gen, Options{})
	st := startedConversation(t, engine, gen)

	gen.push(correction("Ada", "Is it Ada?"))
	engine.Step(context.Background(), &st, "ada")

	gen.push(reject("Sorry! What is your first name?"))
	out := engine.Step(context.Background(), &st, "no")

	if out.Intent != providertypes.IntentReject {
		t.Fatalf("intent = %q", out.Intent)
	}
	if st.Proposed != nil || st.Pending != conversation.FieldFirstName {
		t.Fatalf("state = pending:%q proposed:%v", st.Pending, st.Proposed)
	}
	if len(st.Collected) != 0 {
		t.Fatalf("collected = %v", st.Collected)
	}
}

func TestCorrectionReplacesProposal(t *testing.T) {
	gen := &scriptedGenerator{}
	engine := newTestEngine(t, gen, Options{})
	st := startedConversation(t, engine, gen)

	gen.push(correction("Ada", "Is it Ada?"))
	engine.Step(context.Background(), &st, "ada")

	gen.push(correction("Augusta", "Is it Augusta?"))
	engine.Step(context.Background(), &st, "no, it's Augusta")

	if st.Proposed == nil || *st.Proposed != "Augusta" {
		t.Fatalf("proposed = %v, want Augusta", st.Proposed)
	}
	if st.Pending != conversation.FieldFirstName || len(st.Collected) != 0 {
		t.Fatalf("state = pending:%q collected:%v", st.Pending, st.Collected)
	}
}

func TestCorrectionWithoutValueActsAsReject(t *testing.T) {
	gen := &scriptedGenerator{}
	engine := newTestEngine(t, gen, Options{})
	st := startedConversation(t, engine, gen)

	gen.push(correction("Ada", "Is it Ada?"))
	engine.Step(context.Background(), &st, "ada")

	gen.push(correction(" ", "What is it then?"))
	out := engine.Step(context.Background(), &st, "nope")

	if out.Intent != providertypes.IntentReject || st.Proposed != nil {
		t.Fatalf("intent = %q proposed = %v", out.Intent, st.Proposed)
	}
}

func TestUnclearLeavesStateUnchanged(t *testing.T) {
	gen := &scriptedGenerator{}
	engine := newTestEngine(t, gen, Options{})
	st := startedConversation(t, engine, gen)

	gen.push(correction("Ada", "Is it Ada?"))
	engine.Step(context.Background(), &st, "ada")
	before := st.Clone()

	gen.push(say("Please reply yes or no."))
	engine.Step(context.Background(), &st, "hmm")

	if st.Pending != before.Pending || *st.Proposed != *before.Proposed || len(st.Collected) != len(before.Collected) {
		t.Fatalf("state changed on unclear reply")
	}
	if len(st.Transcript) != len(before.Transcript)+2 {
		t.Fatalf("len(transcript) = %d, want %d", len(st.Transcript), len(before.Transcript)+2)
	}
}

func TestGenerationFailureUsesFallback(t *testing.T) {
	gen := &scriptedGenerator{}
	engine := newTestEngine(t, gen, Options{})
	st := startedConversation(t, engine, gen)

	gen.push(correction("Ada", "Is it Ada?"))
	engine.Step(context.Background(), &st, "ada")
	before := st.Clone()

	gen.mu.Lock()
	gen.errs = []error{errors.New("upstream 500")}
	gen.mu.Unlock()

	out := engine.Step(context.Background(), &st, "yes")

	if !out.Fallback || out.Reply != fallbackReply {
		t.Fatalf("outcome = %+v, want fallback", out)
	}
	if !errors.Is(out.Err, ErrReplyGeneration) {
		t.Fatalf("err = %v, want ErrReplyGeneration", out.Err)
	}
	if len(st.Collected) != 0 || st.Pending != before.Pending || *st.Proposed != *before.Proposed {
		t.Fatal("field state changed after generation failure")
	}
	assertLastTurn(t, st, "yes", fallbackReply)
}

func TestGenerationTimeoutUsesFallback(t *testing.T) {
	gen := &scriptedGenerator{}
	engine := newTestEngine(t, gen, Options{ReplyTimeout: 20 * time.Millisecond})
	st := startedConversation(t, engine, gen)

	gen.mu.Lock()
	gen.block = true
	gen.mu.Unlock()

	out := engine.Step(context.Background(), &st, "ada")

	if !out.Fallback {
		t.Fatalf("outcome = %+v, want fallback", out)
	}
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", out.Err)
	}
	if st.Proposed != nil {
		t.Fatalf("proposed = %v, want nil", st.Proposed)
	}
}

func TestGreetingFailureStillStarts(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{errors.New("down")}}
	engine := newTestEngine(t, gen, Options{})
	st := newConversation("+1")

	out := engine.Step(context.Background(), &st, "hello")

	if !out.Fallback || out.Reply != greetingReply {
		t.Fatalf("outcome = %+v", out)
	}
	if !st.Started || st.Pending != conversation.FieldFirstName {
		t.Fatalf("state = started:%v pending:%q", st.Started, st.Pending)
	}
}

func TestReplyIsCappedOnRuneBoundary(t *testing.T) {
	gen := &scriptedGenerator{}
	engine := newTestEngine(t, gen, Options{MaxReplyChars: 10})
	st := newConversation("+1")

	gen.push(say(strings.Repeat("ü", 25)))
	out := engine.Step(context.Background(), &st, "hi")

	if got := []rune(out.Reply); len(got) != 10 {
		t.Fatalf("reply runes = %d, want 10", len(got))
	}
	if st.Transcript[len(st.Transcript)-1].Text != out.Reply {
		t.Fatal("transcript must record the capped reply")
	}
}

func TestPhoneFieldPromptMentionsSenderNumber(t *testing.T) {
	gen := &scriptedGenerator{}
	engine := newTestEngine(t, gen, Options{})
	st := newConversation("+15557654321")
	st.Started = true
	st.Collected[conversation.FieldFirstName] = "Ada"
	st.Pending = conversation.FieldLastName
	proposed := "Lovelace"
	st.Proposed = &proposed

	gen.push(affirm("Great. Use the number you're texting from?"))
	engine.Step(context.Background(), &st, "yes")

	req := gen.lastRequest()
	if !strings.Contains(req.Instructions, "+15557654321") {
		t.Fatalf("instructions missing sender phone:\n%s", req.Instructions)
	}
	if !strings.Contains(req.Instructions, "phone number") {
		t.Fatalf("instructions missing next field:\n%s", req.Instructions)
	}
	if st.Pending != conversation.FieldPhone {
		t.Fatalf("pending = %q, want phone", st.Pending)
	}
}

func TestGeneratorSeesTranscriptIncludingLatestMessage(t *testing.T) {
	gen := &scriptedGenerator{}
	engine := newTestEngine(t, gen, Options{})
	st := startedConversation(t, engine, gen)

	gen.push(correction("Ada", "Is it Ada?"))
	engine.Step(context.Background(), &st, "it's ada")

	req := gen.lastRequest()
	last := req.Transcript[len(req.Transcript)-1]
	if last.Role != string(conversation.RoleUser) || last.Text != "it's ada" {
		t.Fatalf("last turn = %+v", last)
	}
	if req.MaxTokens <= 0 {
		t.Fatalf("max tokens = %d", req.MaxTokens)
	}
}

func TestNewRequiresGenerator(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Fatal("expected error without generator")
	}
}

func startedConversation(t *testing.T, engine *Engine, gen *scriptedGenerator) conversation.State {
	t.Helper()
	st := newConversation("+15550001")
	gen.push(say("Hi! What's your first name?"))
	engine.Step(context.Background(), &st, "hello")
	return st
}

func assertTranscript(t *testing.T, st conversation.State, texts ...string) {
	t.Helper()
	if len(st.Transcript) != len(texts) {
		t.Fatalf("len(transcript) = %d, want %d", len(st.Transcript), len(texts))
	}
	for i, want := range texts {
		wantRole := conversation.RoleUser
		if i%2 == 1 {
			wantRole = conversation.RoleAssistant
		}
		if st.Transcript[i].Role != wantRole || st.Transcript[i].Text != want {
			t.Fatalf("transcript[%d] = %+v, want %s %q", i, st.Transcript[i], wantRole, want)
		}
	}
}

func assertLastTurn(t *testing.T, st conversation.State, user, assistant string) {
	t.Helper()
	n := len(st.Transcript)
	if n < 2 {
		t.Fatalf("len(transcript) = %d", n)
	}
	if got := st.Transcript[n-2]; got.Role != conversation.RoleUser || got.Text != user {
		t.Fatalf("user turn = %+v", got)
	}
	if got := st.Transcript[n-1]; got.Role != conversation.RoleAssistant || got.Text != assistant {
		t.Fatalf("assistant turn = %+v", got)
	}
}
