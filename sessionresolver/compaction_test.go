package sessionresolver

import (
	"context"
	"errors"
	"testing"

	"github.com/evrenesat/asky/adapters"
	"github.com/evrenesat/asky/pkg/models"
)

func TestShouldCompact_DefaultsApplyWhenZero(t *testing.T) {
	if !ShouldCompact(90000, 0, 0) {
		t.Error("expected 90000 tokens to exceed the default 0.80*100000 threshold")
	}
	if ShouldCompact(1000, 0, 0) {
		t.Error("1000 tokens should not trigger compaction under default threshold")
	}
}

func TestCompact_SummaryConcatJoinsInOrder(t *testing.T) {
	got, err := Compact(context.Background(), StrategySummaryConcat, "earlier summary", []string{"turn 2 summary", "turn 3 summary"}, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "earlier summary\nturn 2 summary\nturn 3 summary"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCompact_SummaryConcatFallsBackWhenEmpty(t *testing.T) {
	got, err := Compact(context.Background(), StrategySummaryConcat, "", nil, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != summaryFallback {
		t.Errorf("got %q, want fallback %q", got, summaryFallback)
	}
}

type stubLLM struct {
	response adapters.LLMMessage
	err      error
}

func (s stubLLM) Complete(ctx context.Context, messages []adapters.LLMMessage, tools []models.ToolDefinition, params adapters.LLMParams) (adapters.LLMMessage, error) {
	return s.response, s.err
}

func TestCompact_LLMSummaryUsesAdapterOutput(t *testing.T) {
	llm := stubLLM{response: adapters.LLMMessage{Role: models.RoleAssistant, Content: "condensed summary"}}
	got, err := Compact(context.Background(), StrategyLLMSummary, "", []string{"turn 1 summary"}, llm, "gpt-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "condensed summary" {
		t.Errorf("got %q, want adapter output", got)
	}
}

func TestCompact_LLMSummaryFallsBackOnAdapterError(t *testing.T) {
	llm := stubLLM{err: errors.New("transient failure")}
	got, err := Compact(context.Background(), StrategyLLMSummary, "prior", []string{"turn 1 summary"}, llm, "gpt-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "prior\nturn 1 summary"
	if got != want {
		t.Errorf("got %q, want concat fallback %q", got, want)
	}
}

func TestEstimateTokens_CountsContentAndSummary(t *testing.T) {
	msg := models.Message{Content: "12345678", Summary: "1234"} // 12 chars
	if got := EstimateTokens(msg); got != 3 {
		t.Errorf("EstimateTokens = %d, want 3", got)
	}
}
