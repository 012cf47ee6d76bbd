package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/evrenesat/asky/adapters"
	"github.com/evrenesat/asky/corekit/errs"
	"github.com/evrenesat/asky/corekit/retry"
	"github.com/evrenesat/asky/corekit/tracing"
	"github.com/evrenesat/asky/hookkernel"
	"github.com/evrenesat/asky/pkg/models"
	"github.com/evrenesat/asky/toolregistry"
)

// runToolLoop drives the bounded LLM<->tool loop. excludeFetch removes the
// fetch-style tools from this turn's schema set; lean removes all of them.
func (o *Orchestrator) runToolLoop(ctx context.Context, registry *toolregistry.Registry, messages []models.Message, maxTurns int, excludeFetch, lean bool) (string, []models.Message, int, error) {
	var tools []models.ToolDefinition
	if !lean {
		tools = registry.AsToolDefinitions()
		if excludeFetch {
			tools = withoutFetchTools(tools)
		}
	}

	turn := 0
	for {
		select {
		case <-ctx.Done():
			return "", messages, turn, fmt.Errorf("turn cancelled: %w", errs.ErrCancelled)
		default:
		}

		llmMessages := toLLMMessages(messages)
		o.kernel.Fanout(ctx, hookkernel.PreLLMCall, &hookkernel.PreLLMCallPayload{Messages: messages, Tools: tools, Turn: turn})
		o.emit(EventLLMStart, map[string]any{"turn": turn})

		spanCtx, span := o.tracer.StartLLMCall(ctx, o.cfg.DefaultModel, turn)
		reply, err := o.callLLM(spanCtx, llmMessages, tools)
		tracing.RecordError(span, err)
		span.End()
		o.emit(EventLLMEnd, map[string]any{"turn": turn, "tool_calls": len(reply.ToolCalls)})
		if err != nil {
			if errors.Is(err, errs.ErrContextOverflow) {
				return "", nil, turn, &ContextOverflowError{Fallback: messages, Err: err}
			}
			return "", messages, turn, fmt.Errorf("llm call: %w", err)
		}

		replyMsg := models.Message{Role: reply.Role, Content: reply.Content}
		o.kernel.Fanout(ctx, hookkernel.PostLLMResponse, &hookkernel.PostLLMResponsePayload{Message: replyMsg, ToolCalls: reply.ToolCalls})

		if len(reply.ToolCalls) == 0 {
			messages = append(messages, replyMsg)
			return reply.Content, messages, turn, nil
		}

		messages = append(messages, replyMsg)
		for _, call := range reply.ToolCalls {
			result := o.dispatchTool(ctx, registry, call)
			messages = append(messages, models.Message{
				Role:    models.RoleTool,
				Content: result.Content,
			})
		}

		turn++
		if turn >= maxTurns {
			return o.gracefulExit(ctx, messages, turn)
		}
	}
}

// dispatchTool brackets Tool Registry execution with PRE_TOOL_EXECUTE (which
// may short-circuit) and POST_TOOL_EXECUTE. The registry itself does not
// fire these; the loop owns the hook bracketing.
func (o *Orchestrator) dispatchTool(ctx context.Context, registry *toolregistry.Registry, call models.ToolCall) models.ToolResult {
	pre := &hookkernel.PreToolExecutePayload{ToolName: call.Name, Arguments: call.Arguments}
	o.kernel.Fanout(ctx, hookkernel.PreToolExecute, pre)
	o.emit(EventToolStart, map[string]any{"tool": call.Name})
	if pre.ShortCircuitResult != nil {
		o.emit(EventToolEnd, map[string]any{"tool": call.Name, "short_circuited": true})
		return *pre.ShortCircuitResult
	}

	spanCtx, span := o.tracer.StartTool(ctx, call.Name)
	start := time.Now()
	result, err := registry.Execute(spanCtx, call.Name, call.Arguments)
	elapsed := time.Since(start)
	tracing.RecordError(span, err)
	span.End()
	if err != nil {
		result = &models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("tool dispatch error: %v", err), IsError: true}
	}
	if result.ToolCallID == "" {
		result.ToolCallID = call.ID
	}
	o.kernel.Fanout(ctx, hookkernel.PostToolExecute, &hookkernel.PostToolExecutePayload{ToolName: call.Name, Result: *result, Elapsed: elapsed})
	o.emit(EventToolEnd, map[string]any{"tool": call.Name, "is_error": result.IsError, "elapsed_ms": elapsed.Milliseconds()})
	return *result
}

// callLLM retries transient transport errors with exponential backoff;
// context-overflow and permanent errors propagate immediately.
func (o *Orchestrator) callLLM(ctx context.Context, messages []adapters.LLMMessage, tools []models.ToolDefinition) (adapters.LLMMessage, error) {
	return retry.Do(ctx, o.cfg.RetryPolicy, o.cfg.MaxLLMAttempts, func(attempt int) (adapters.LLMMessage, error) {
		return o.llm.Complete(ctx, messages, tools, adapters.LLMParams{Model: o.cfg.DefaultModel})
	})
}

// gracefulExit runs once the turn budget is exhausted: one tool-free LLM
// call forcing a final answer rather than raising.
func (o *Orchestrator) gracefulExit(ctx context.Context, messages []models.Message, turn int) (string, []models.Message, int, error) {
	directive := models.Message{Role: models.RoleSystem, Content: "Tool budget exhausted for this turn. Provide your best final answer now without calling any tool."}
	final := append(append([]models.Message{}, messages...), directive)

	reply, err := o.callLLM(ctx, toLLMMessages(final), nil)
	if err != nil {
		return "", messages, turn, fmt.Errorf("graceful exit call: %w", err)
	}
	replyMsg := models.Message{Role: reply.Role, Content: reply.Content}
	return reply.Content, append(messages, replyMsg), turn, nil
}

func toLLMMessages(messages []models.Message) []adapters.LLMMessage {
	out := make([]adapters.LLMMessage, len(messages))
	for i, m := range messages {
		out[i] = adapters.LLMMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func withoutFetchTools(tools []models.ToolDefinition) []models.ToolDefinition {
	fetchStyle := map[string]bool{"fetch-url": true, "web-search": true}
	out := make([]models.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		if fetchStyle[t.Name] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// scheduleSummarizeAndPersist runs per-turn summarization on the bounded
// background pool and only then inserts the turn into history. Summarization
// never blocks RunTurn's return; history insertion waits for the summary or
// for SummarizationTimeout, whichever comes first. A timed-out or failed
// summary still persists the interaction, with the truncated query and
// answer text attached as its summaries.
func (o *Orchestrator) scheduleSummarizeAndPersist(sessionID, query, answer string) {
	o.bg.Go(func() {
		timeoutCtx, cancel := context.WithTimeout(context.Background(), o.cfg.SummarizationTimeout)
		defer cancel()

		querySummary := truncateSummary(query)
		answerSummary := truncateSummary(answer)
		if o.llm != nil {
			if reply, err := o.llm.Complete(timeoutCtx, []adapters.LLMMessage{
				{Role: models.RoleSystem, Content: "Summarize this exchange in one sentence."},
				{Role: models.RoleUser, Content: query},
				{Role: models.RoleAssistant, Content: answer},
			}, nil, adapters.LLMParams{}); err == nil && reply.Content != "" {
				answerSummary = reply.Content
			}
		}

		assistantID, err := o.store.SaveInteraction(context.Background(), sessionID, query, answer, "")
		if err != nil {
			o.logger.Error("background persist failed", "error", err)
			return
		}
		userID := assistantID - 1
		if err := o.store.AttachSummary(context.Background(), userID, querySummary); err != nil {
			o.logger.Warn("attach query summary failed", "error", err)
		}
		if err := o.store.AttachSummary(context.Background(), assistantID, answerSummary); err != nil {
			o.logger.Warn("attach answer summary failed", "error", err)
		}
	})
}
