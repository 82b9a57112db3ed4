package core

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/converse/config"
	"github.com/mohammad-safakhou/converse/internal/capability"
)

// scriptedProvider returns canned responses in order. Used across the
// phase tests so every LLM interaction is deterministic.
type scriptedProvider struct {
	responses []string
	prompts   []string
	err       error
}

func (p *scriptedProvider) Complete(ctx context.Context, prompt string) (string, error) {
	p.prompts = append(p.prompts, prompt)
	if p.err != nil {
		return "", p.err
	}
	if len(p.responses) == 0 {
		return "", fmt.Errorf("no scripted response left")
	}
	r := p.responses[0]
	p.responses = p.responses[1:]
	return r, nil
}

type fakeStore struct {
	appendErr error
	appended  [][2]string
	summary   string
	upTo      int
	tail      []StoredMessage
}

func (f *fakeStore) AppendTurn(ctx context.Context, conversationID, owner, userText, assistantText string) (int, int, error) {
	if f.appendErr != nil {
		return 0, 0, f.appendErr
	}
	f.appended = append(f.appended, [2]string{userText, assistantText})
	n := len(f.appended) * 2
	return n - 1, n, nil
}

func (f *fakeStore) ReadTail(ctx context.Context, conversationID string, afterNumber int) ([]StoredMessage, error) {
	return f.tail, nil
}

func (f *fakeStore) ReadCompact(ctx context.Context, conversationID string) (string, int, error) {
	return f.summary, f.upTo, nil
}

type fakeNotifier struct{ notified []string }

func (f *fakeNotifier) Notify(id string) { f.notified = append(f.notified, id) }

func testConfig() *config.Config {
	return &config.Config{
		General: config.GeneralConfig{MaxTurnTime: time.Minute},
		Persona: config.PersonaConfig{
			Name:          "Aria",
			ClosingPhrase: "Happy to help!",
			MaxSentences:  8,
		},
		Tools: config.ToolsConfig{InvokeTimeout: time.Second},
	}
}

func emptyRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	reg, err := capability.NewRegistry(nil, "")
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestProcessTurnDirectAnswer(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"outcome": "DIRECT", "guard_reason": "", "direct_answer": "The capital of France is Paris."}`,
		`The capital of France is Paris. Happy to help!`,
		`{"complete": true, "safe": true, "problem": ""}`,
	}}
	st := &fakeStore{}
	notifier := &fakeNotifier{}
	ctrl := NewController(testConfig(), provider, st, emptyRegistry(t), notifier, nil, nil)

	outcome, err := ctrl.ProcessTurn(context.Background(), TurnRequest{
		ConversationID: "conv-1",
		UserText:       "What is the capital of France?",
	})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if outcome.State != StateDone {
		t.Fatalf("expected DONE, got %s", outcome.State)
	}
	if !strings.Contains(outcome.FinalText, "Paris") {
		t.Fatalf("unexpected final text: %q", outcome.FinalText)
	}
	if outcome.UserMessageNum != 1 || outcome.AsstMessageNum != 2 {
		t.Fatalf("expected message numbers 1,2 got %d,%d", outcome.UserMessageNum, outcome.AsstMessageNum)
	}
	want := []PhaseState{StateAssessing, StateDirectDone, StateFormatting, StateQualityCheck}
	if len(outcome.Background.History) != len(want) {
		t.Fatalf("unexpected history: %v", outcome.Background.History)
	}
	for i, s := range want {
		if outcome.Background.History[i] != s {
			t.Fatalf("history[%d] = %s, want %s", i, outcome.Background.History[i], s)
		}
	}
	if len(notifier.notified) != 1 || notifier.notified[0] != "conv-1" {
		t.Fatalf("compactor not notified: %v", notifier.notified)
	}
	if len(st.appended) != 1 {
		t.Fatalf("expected one persisted pair, got %d", len(st.appended))
	}
}

func TestProcessTurnRetryIsBounded(t *testing.T) {
	// Quality rejects the formatting twice; the second rejection must end
	// in a fallback, never a third format.
	provider := &scriptedProvider{responses: []string{
		`{"outcome": "DIRECT", "direct_answer": "Something."}`,
		`First attempt. Happy to help!`,
		`{"complete": false, "safe": true, "problem": "misses half the question"}`,
		`Second attempt. Happy to help!`,
		`{"complete": false, "safe": true, "problem": "still misses it"}`,
	}}
	st := &fakeStore{}
	ctrl := NewController(testConfig(), provider, st, emptyRegistry(t), nil, nil, nil)

	outcome, err := ctrl.ProcessTurn(context.Background(), TurnRequest{ConversationID: "conv-2", UserText: "two part question"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if outcome.State != StateFallbackDone {
		t.Fatalf("expected FALLBACK_DONE, got %s", outcome.State)
	}
	if !strings.Contains(outcome.FinalText, "don't have that information") {
		t.Fatalf("expected unknown fallback text, got %q", outcome.FinalText)
	}
	formatCount := 0
	for _, s := range outcome.Background.History {
		if s == StateFormatting {
			formatCount++
		}
	}
	if formatCount != 2 {
		t.Fatalf("expected exactly 2 format passes, got %d", formatCount)
	}
}

func TestProcessTurnStoreFailureSurfaces(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"outcome": "DIRECT", "direct_answer": "Fine."}`,
		`Fine. Happy to help!`,
		`{"complete": true, "safe": true}`,
	}}
	st := &fakeStore{appendErr: fmt.Errorf("connection refused")}
	ctrl := NewController(testConfig(), provider, st, emptyRegistry(t), nil, nil, nil)

	_, err := ctrl.ProcessTurn(context.Background(), TurnRequest{ConversationID: "conv-3", UserText: "hello there"})
	if err == nil {
		t.Fatalf("expected error when the store write fails")
	}
	if !strings.Contains(err.Error(), "persist turn") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProcessTurnRejectsEmptyText(t *testing.T) {
	ctrl := NewController(testConfig(), &scriptedProvider{}, &fakeStore{}, emptyRegistry(t), nil, nil, nil)
	if _, err := ctrl.ProcessTurn(context.Background(), TurnRequest{ConversationID: "c", UserText: "   "}); err == nil {
		t.Fatalf("expected error for blank user text")
	}
}

func TestProcessTurnGuardRouteSkipsTools(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"outcome": "CAPABILITY_GUARD", "guard_reason": "IDENTITY"}`,
		`I'm Aria. Happy to help!`,
		`{"complete": true, "safe": true}`,
	}}
	st := &fakeStore{}
	ctrl := NewController(testConfig(), provider, st, emptyRegistry(t), nil, nil, nil)

	outcome, err := ctrl.ProcessTurn(context.Background(), TurnRequest{ConversationID: "conv-4", UserText: "What's your name?"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if outcome.State != StateDone {
		t.Fatalf("expected DONE, got %s", outcome.State)
	}
	for _, s := range outcome.Background.History {
		if s == StateToolSelecting || s == StateToolExecuting {
			t.Fatalf("guard route must not touch tools, history: %v", outcome.Background.History)
		}
	}
	if len(outcome.Background.ToolResults) != 0 {
		t.Fatalf("expected no tool results")
	}
}
