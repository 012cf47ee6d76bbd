package sessionresolver

import (
	"context"
	"strings"

	"github.com/evrenesat/asky/adapters"
	"github.com/evrenesat/asky/pkg/models"
)

// Token-estimation constants: a ~4-chars-per-token heuristic, good enough
// for threshold decisions.
const (
	charsPerToken        = 4
	defaultContextWindow = 100000
	summaryFallback      = "No prior history."
)

// EstimateTokens approximates a message's token count by character count.
func EstimateTokens(msg models.Message) int {
	chars := len(msg.Content) + len(msg.Summary)
	return (chars + charsPerToken - 1) / charsPerToken
}

// EstimateMessagesTokens sums EstimateTokens across messages.
func EstimateMessagesTokens(messages []models.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m)
	}
	return total
}

// CompactionStrategy selects how a session's history is compressed.
type CompactionStrategy string

const (
	StrategySummaryConcat CompactionStrategy = "summary_concat"
	StrategyLLMSummary    CompactionStrategy = "llm_summary"
)

// ShouldCompact reports whether accumulated tokens exceed
// threshold * contextWindow.
func ShouldCompact(accumulatedTokens int, threshold float64, contextWindow int) bool {
	if contextWindow <= 0 {
		contextWindow = defaultContextWindow
	}
	if threshold <= 0 {
		threshold = 0.80
	}
	return float64(accumulatedTokens) > threshold*float64(contextWindow)
}

// Compact applies strategy to a session's compacted summary plus pending
// per-turn summaries, returning the new compacted summary to persist.
func Compact(ctx context.Context, strategy CompactionStrategy, existingSummary string, pendingSummaries []string, llm adapters.LLMAdapter, summarizationModel string) (string, error) {
	switch strategy {
	case StrategyLLMSummary:
		return compactLLMSummary(ctx, existingSummary, pendingSummaries, llm, summarizationModel)
	default:
		return compactSummaryConcat(existingSummary, pendingSummaries), nil
	}
}

// compactSummaryConcat concatenates per-turn summaries onto the existing
// compacted summary.
func compactSummaryConcat(existingSummary string, pendingSummaries []string) string {
	parts := make([]string, 0, len(pendingSummaries)+1)
	if existingSummary != "" {
		parts = append(parts, existingSummary)
	}
	parts = append(parts, pendingSummaries...)
	if len(parts) == 0 {
		return summaryFallback
	}
	return strings.Join(parts, "\n")
}

// compactLLMSummary passes the existing compacted summary plus the pending
// per-turn summaries to the summarization model and replaces the compacted
// summary with its output. The session's raw message log is not read.
func compactLLMSummary(ctx context.Context, existingSummary string, pendingSummaries []string, llm adapters.LLMAdapter, summarizationModel string) (string, error) {
	if llm == nil {
		return compactSummaryConcat(existingSummary, pendingSummaries), nil
	}
	transcript := compactSummaryConcat(existingSummary, pendingSummaries)
	if transcript == summaryFallback {
		return summaryFallback, nil
	}

	response, err := llm.Complete(ctx, []adapters.LLMMessage{
		{Role: models.RoleSystem, Content: "Summarize the following conversation concisely, preserving key decisions, facts, and pending tasks."},
		{Role: models.RoleUser, Content: transcript},
	}, nil, adapters.LLMParams{Model: summarizationModel})
	if err != nil {
		// Falls back to the deterministic concat rather than losing the
		// turn's history entirely on a transient summarization failure.
		return compactSummaryConcat(existingSummary, pendingSummaries), nil
	}
	if response.Content == "" {
		return summaryFallback, nil
	}
	return response.Content, nil
}
