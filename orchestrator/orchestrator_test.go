package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/evrenesat/asky/adapters"
	"github.com/evrenesat/asky/corekit/errs"
	"github.com/evrenesat/asky/historystore"
	"github.com/evrenesat/asky/hookkernel"
	"github.com/evrenesat/asky/pkg/models"
	"github.com/evrenesat/asky/preload"
	"github.com/evrenesat/asky/sessionresolver"
	"github.com/evrenesat/asky/toolregistry"
)

func openTestStore(t *testing.T) *historystore.Store {
	t.Helper()
	s, err := historystore.Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeLLM returns a scripted sequence of replies, one per Complete call.
// Mutex-guarded because background summarization calls Complete off the
// turn's goroutine.
type fakeLLM struct {
	mu      sync.Mutex
	replies []adapters.LLMMessage
	errs    []error
	calls   int
}

func (f *fakeLLM) Complete(ctx context.Context, messages []adapters.LLMMessage, tools []models.ToolDefinition, params adapters.LLMParams) (adapters.LLMMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return adapters.LLMMessage{}, f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return adapters.LLMMessage{Role: models.RoleAssistant, Content: "done"}, nil
}

func newTestOrchestrator(t *testing.T, llm adapters.LLMAdapter) (*Orchestrator, *historystore.Store) {
	t.Helper()
	store := openTestStore(t)
	resolver := sessionresolver.New(store, t.TempDir())
	pipeline := preload.New(preload.DefaultConfig(), nil, nil, nil, nil, nil, nil)
	kernel := hookkernel.New(nil)
	kernel.Freeze()

	registryOf := func(ctx context.Context, session *models.Session) (*toolregistry.Registry, error) {
		r := toolregistry.New()
		if err := toolregistry.RegisterBuiltins(r, toolregistry.BuiltinDeps{}); err != nil {
			return nil, err
		}
		return r, nil
	}

	cfg := DefaultConfig()
	cfg.SummarizationTimeout = 2 * time.Second
	o := New(cfg, resolver, pipeline, kernel, llm, store, registryOf, nil)
	t.Cleanup(func() { o.Shutdown() })
	return o, store
}

func TestRunTurn_StatelessDirectAnswer(t *testing.T) {
	llm := &fakeLLM{replies: []adapters.LLMMessage{
		{Role: models.RoleAssistant, Content: "# Answer\nHello there."},
	}}
	o, _ := newTestOrchestrator(t, llm)

	req := models.TurnRequest{QueryText: "hello", SaveHistory: false}
	result, err := o.RunTurn(context.Background(), req)
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if result.Halted {
		t.Fatalf("unexpected halt: %s", result.HaltReason)
	}
	if result.FinalAnswer != "# Answer\nHello there." {
		t.Errorf("final answer = %q", result.FinalAnswer)
	}
	if result.AnswerTitle != "Answer" {
		t.Errorf("answer title = %q, want %q", result.AnswerTitle, "Answer")
	}
	if result.ContextResolution.Strategy != "stateless" {
		t.Errorf("context strategy = %q, want stateless", result.ContextResolution.Strategy)
	}
}

func TestRunTurn_StickySessionPersists(t *testing.T) {
	llm := &fakeLLM{replies: []adapters.LLMMessage{
		{Role: models.RoleAssistant, Content: "ok"},
	}}
	o, store := newTestOrchestrator(t, llm)

	req := models.TurnRequest{
		QueryText:   "remember this",
		SaveHistory: true,
		Lean:        true, // avoids the background-summarization race in this synchronous assertion
		Session:     models.SessionSelector{StickySessionName: "my-session"},
	}
	result, err := o.RunTurn(context.Background(), req)
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if result.SessionID == "" {
		t.Fatalf("expected a bound session id")
	}

	history, err := store.GetHistory(context.Background(), result.SessionID, 0)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 persisted messages (user+assistant), got %d", len(history))
	}
}

func TestRunTurn_AmbiguousResumeHalts(t *testing.T) {
	llm := &fakeLLM{}
	o, store := newTestOrchestrator(t, llm)
	ctx := context.Background()

	for _, name := range []string{"project-alpha", "project-alpha-2"} {
		s := &models.Session{ID: name + "-id", Name: name, CreatedAt: time.Now(), LastUsedAt: time.Now()}
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("seed session: %v", err)
		}
	}

	req := models.TurnRequest{QueryText: "hi", Session: models.SessionSelector{ResumeSessionTerm: "project"}}
	result, err := o.RunTurn(ctx, req)
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if !result.Halted {
		t.Fatalf("expected halted result")
	}
	if len(result.Notices.Candidates) != 2 {
		t.Fatalf("expected 2 ambiguous candidates, got %d", len(result.Notices.Candidates))
	}
}

func TestRunTurn_LocalOnlyMissingCorpusHalts(t *testing.T) {
	llm := &fakeLLM{}
	o, _ := newTestOrchestrator(t, llm)

	researchMode := true
	req := models.TurnRequest{
		QueryText:               "summarize",
		ResearchModeOverride:    &researchMode,
		ResearchSourceOverride:  models.ResearchSourceLocalOnly,
		AdditionalSourceContext: "/does/not/exist.md",
	}
	result, err := o.RunTurn(context.Background(), req)
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if !result.Halted {
		t.Fatalf("expected halted result")
	}
	if !strings.Contains(result.HaltReason, "zero local documents ingested") {
		t.Errorf("halt reason = %q, want it to mention zero local documents ingested", result.HaltReason)
	}
	if llm.calls != 0 {
		t.Errorf("expected no LLM call, got %d", llm.calls)
	}
}

func TestRunTurn_ToolLoopDispatchesAndExits(t *testing.T) {
	llm := &fakeLLM{replies: []adapters.LLMMessage{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "1", Name: "save-memory", Arguments: []byte(`{"text":"hi"}`)}}},
		{Role: models.RoleAssistant, Content: "final answer"},
	}}
	o, _ := newTestOrchestrator(t, llm)

	req := models.TurnRequest{QueryText: "save a memory"}
	result, err := o.RunTurn(context.Background(), req)
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if result.FinalAnswer != "final answer" {
		t.Errorf("final answer = %q", result.FinalAnswer)
	}
	if result.TurnsExecuted != 1 {
		t.Errorf("turns executed = %d, want 1", result.TurnsExecuted)
	}
}

func TestRunTurn_MaxTurnsGracefulExit(t *testing.T) {
	toolCall := adapters.LLMMessage{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "1", Name: "save-memory", Arguments: []byte(`{"text":"hi"}`)}}}
	replies := make([]adapters.LLMMessage, 0, 4)
	for i := 0; i < 3; i++ {
		replies = append(replies, toolCall)
	}
	replies = append(replies, adapters.LLMMessage{Role: models.RoleAssistant, Content: "forced final"})
	llm := &fakeLLM{replies: replies}
	o, _ := newTestOrchestrator(t, llm)
	o.cfg.DefaultMaxTurns = 3

	turnCompleted := 0
	o.SubscribeEvents(func(name string, payload map[string]any) {
		if name == EventTurnCompleted {
			turnCompleted++
		}
	})

	req := models.TurnRequest{QueryText: "loop forever"}
	result, err := o.RunTurn(context.Background(), req)
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if result.FinalAnswer != "forced final" {
		t.Errorf("final answer = %q, want forced final", result.FinalAnswer)
	}
	// 3 tool-looping calls plus exactly one tool-free graceful exit.
	if llm.calls != 4 {
		t.Errorf("llm calls = %d, want 4", llm.calls)
	}
	if result.TurnsExecuted > 3 {
		t.Errorf("turns executed = %d, want <= max turns (3)", result.TurnsExecuted)
	}
	if turnCompleted != 1 {
		t.Errorf("turn_completed fired %d times, want exactly once", turnCompleted)
	}
}

func TestRunTurn_CompactsSessionPastThreshold(t *testing.T) {
	llm := &fakeLLM{replies: []adapters.LLMMessage{
		{Role: models.RoleAssistant, Content: strings.Repeat("long answer ", 50)},
	}}
	o, store := newTestOrchestrator(t, llm)
	o.cfg.ModelContextWindow = 100
	o.cfg.CompactionThreshold = 0.5
	o.cfg.CompactionStrategy = sessionresolver.StrategySummaryConcat

	req := models.TurnRequest{
		QueryText:   strings.Repeat("big question ", 20),
		SaveHistory: true,
		Session:     models.SessionSelector{StickySessionName: "compact-me"},
	}
	result, err := o.RunTurn(context.Background(), req)
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}

	session, err := store.Get(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.CompactedSummary == "" {
		t.Fatal("expected a compacted summary once accumulated tokens cross the threshold")
	}
}

func TestRunTurn_ContextOverflowReturnsTypedError(t *testing.T) {
	llm := &fakeLLM{errs: []error{errs.ErrContextOverflow}}
	o, _ := newTestOrchestrator(t, llm)

	req := models.TurnRequest{QueryText: "huge input"}
	_, err := o.RunTurn(context.Background(), req)
	if err == nil {
		t.Fatalf("expected an error")
	}
	var overflow *ContextOverflowError
	if !errors.As(err, &overflow) {
		t.Fatalf("expected *ContextOverflowError, got %T: %v", err, err)
	}
}

func TestRunTurn_PermanentTransportErrorPropagates(t *testing.T) {
	llm := &fakeLLM{errs: []error{errs.ErrTransportPermanent}}
	o, _ := newTestOrchestrator(t, llm)

	_, err := o.RunTurn(context.Background(), models.TurnRequest{QueryText: "x"})
	if !errors.Is(err, errs.ErrTransportPermanent) {
		t.Fatalf("expected ErrTransportPermanent, got %v", err)
	}
}

func TestRedactLocalPaths(t *testing.T) {
	pointers := []string{"notes/todo.md"}
	handles := []models.CorpusHandle{"corpus://cache/notes-todo"}
	got := redactLocalPaths("summarize /home/user/notes/todo.md for me", pointers, handles)
	if got == "summarize /home/user/notes/todo.md for me" {
		t.Fatalf("expected local path to be redacted, got %q", got)
	}
}

func TestAnswerTitle_FallsBackToQuery(t *testing.T) {
	if got := answerTitle("no heading here", "what is Go?"); got != "what is Go?" {
		t.Errorf("answerTitle = %q, want query fallback", got)
	}
	if got := answerTitle("# Heading\nbody", "q"); got != "Heading" {
		t.Errorf("answerTitle = %q, want Heading", got)
	}
}
