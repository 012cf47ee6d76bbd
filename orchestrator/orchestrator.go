// Package orchestrator implements the turn orchestrator: the per-turn state
// machine binding the session resolver, preload pipeline, hook kernel, tool
// registry, and history store into one bounded LLM <-> tool loop.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/evrenesat/asky/adapters"
	"github.com/evrenesat/asky/corekit/errs"
	"github.com/evrenesat/asky/corekit/retry"
	"github.com/evrenesat/asky/corekit/taskpool"
	"github.com/evrenesat/asky/corekit/tracing"
	"github.com/evrenesat/asky/historystore"
	"github.com/evrenesat/asky/hookkernel"
	"github.com/evrenesat/asky/pkg/models"
	"github.com/evrenesat/asky/preload"
	"github.com/evrenesat/asky/sessionresolver"
	"github.com/evrenesat/asky/toolregistry"
)

// ContextOverflowError carries the turn's message set as it stood when the
// LLM adapter reported the overflow. Fallback is not compacted: it holds
// every message the tool loop had accumulated.
type ContextOverflowError struct {
	Fallback []models.Message
	Err      error
}

func (e *ContextOverflowError) Error() string {
	return fmt.Sprintf("context overflow: %v", e.Err)
}

func (e *ContextOverflowError) Unwrap() error { return e.Err }

// RegistryFactory builds the per-turn Tool Registry for a resolved session.
// It is the caller's composition point for RegisterBuiltins + RegisterCustom
// before the orchestrator fires TOOL_REGISTRY_BUILD on top of it.
type RegistryFactory func(ctx context.Context, session *models.Session) (*toolregistry.Registry, error)

// Config carries the orchestrator's tunables.
type Config struct {
	DefaultMaxTurns         int
	SummarizationTimeout    time.Duration
	RetryPolicy             retry.Policy
	MaxLLMAttempts          int
	BackgroundPoolSize      int
	BackgroundShutdownGrace time.Duration
	BaseSystemPrompt        string
	DefaultModel            string
	SummarizationModel      string
	CompactionThreshold     float64
	ModelContextWindow      int
	CompactionStrategy      sessionresolver.CompactionStrategy
}

// DefaultConfig returns the standard tunables (max turns 30).
func DefaultConfig() Config {
	return Config{
		DefaultMaxTurns:         30,
		SummarizationTimeout:    20 * time.Second,
		RetryPolicy:             retry.DefaultPolicy(),
		MaxLLMAttempts:          4,
		BackgroundPoolSize:      4,
		BackgroundShutdownGrace: 10 * time.Second,
		BaseSystemPrompt:        "You are asky, an agentic assistant with access to the tools listed below.",
		DefaultModel:            "default",
		CompactionThreshold:     0.80,
		ModelContextWindow:      100000,
		CompactionStrategy:      sessionresolver.StrategySummaryConcat,
	}
}

// Orchestrator runs turns. One instance is shared across concurrently
// executing turns; each RunTurn call is single-threaded through its own
// LLM<->tool loop.
type Orchestrator struct {
	cfg        Config
	resolver   *sessionresolver.Resolver
	preload    *preload.Pipeline
	kernel     *hookkernel.Kernel
	llm        adapters.LLMAdapter
	store      *historystore.Store
	registryOf RegistryFactory
	bg         *taskpool.Pool
	logger     *slog.Logger
	tracer     *tracing.Tracer
	events     []EventCallback
}

// New constructs an Orchestrator.
func New(cfg Config, resolver *sessionresolver.Resolver, pipeline *preload.Pipeline, kernel *hookkernel.Kernel, llm adapters.LLMAdapter, store *historystore.Store, registryOf RegistryFactory, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultMaxTurns <= 0 {
		cfg.DefaultMaxTurns = 30
	}
	if cfg.BackgroundPoolSize <= 0 {
		cfg.BackgroundPoolSize = 4
	}
	return &Orchestrator{
		cfg:        cfg,
		resolver:   resolver,
		preload:    pipeline,
		kernel:     kernel,
		llm:        llm,
		store:      store,
		registryOf: registryOf,
		bg:         taskpool.New(cfg.BackgroundPoolSize),
		logger:     logger.With("component", "orchestrator"),
	}
}

// WithTracer attaches t so RunTurn and the tool loop emit spans. Optional:
// an Orchestrator with no tracer attached runs identically, just unobserved.
func (o *Orchestrator) WithTracer(t *tracing.Tracer) *Orchestrator {
	o.tracer = t
	return o
}

// Shutdown drains in-flight background summarization/memory-extraction
// tasks with a bounded grace window; unfinished work is abandoned after it.
func (o *Orchestrator) Shutdown() (drained bool) {
	return o.bg.Shutdown(o.cfg.BackgroundShutdownGrace)
}

// RunTurn executes one full turn and returns its result. A halted turn (ambiguous resume, missing corpus,
// cancellation) is reported via TurnResult.Halted, not a Go error; only
// infrastructure failures (store errors, unrecoverable LLM failures other
// than context overflow) are returned as errors.
func (o *Orchestrator) RunTurn(ctx context.Context, req models.TurnRequest) (_ models.TurnResult, runErr error) {
	result := models.TurnResult{}

	ctx, span := o.tracer.StartTurn(ctx, req.Session.StickySessionName)
	defer func() {
		tracing.RecordError(span, runErr)
		span.End()
	}()

	o.emit(EventRunStart, map[string]any{"query": req.QueryText})
	defer o.emit(EventRunEnd, nil)

	// 1. Session Resolved.
	resolution, session, err := o.resolver.Resolve(ctx, req)
	if err != nil {
		var ambiguous *sessionresolver.AmbiguousResumeError
		if errors.As(err, &ambiguous) {
			names := make([]string, len(ambiguous.Candidates))
			for i, c := range ambiguous.Candidates {
				names[i] = c.ID
			}
			result.Halted = true
			result.HaltReason = err.Error()
			result.Notices.Candidates = names
			o.kernel.Fanout(ctx, hookkernel.TurnCompleted, &hookkernel.TurnCompletedPayload{Result: &result})
			o.emit(EventTurnCompleted, map[string]any{"halted": true, "turns_executed": result.TurnsExecuted})
			return result, nil
		}
		return result, fmt.Errorf("resolve session: %w", err)
	}
	result.SessionID = resolution.SessionID
	result.SessionResolution = resolution
	o.kernel.Fanout(ctx, hookkernel.SessionResolved, &hookkernel.SessionResolvedPayload{Resolution: resolution})
	o.emit(EventSessionResolved, map[string]any{"session_id": resolution.SessionID, "branch": resolution.Branch})

	researchMode, sourceMode, corpusPointers := sessionresolver.EffectiveResearchProfile(session, req)
	if req.AdditionalSourceContext != "" {
		corpusPointers = append(append([]string(nil), corpusPointers...), req.AdditionalSourceContext)
	}

	// Context resolution: load prior messages per the bound branch.
	contextRes, priorMessages, existingSummary, err := o.resolveContext(ctx, resolution, session, req)
	if err != nil {
		return result, fmt.Errorf("resolve context: %w", err)
	}
	result.ContextResolution = contextRes

	// 2. Preload Pipeline, bracketed by PRE_PRELOAD/POST_PRELOAD.
	o.kernel.Fanout(ctx, hookkernel.PrePreload, &hookkernel.PrePreloadPayload{Request: &req})
	o.emit(EventPreloadStart, nil)
	preloadIn := preload.Input{
		QueryText:          req.QueryText,
		Lean:               req.Lean || req.PreloadDisabled,
		ResearchMode:       researchMode,
		ResearchSourceMode: sourceMode,
		CorpusPointers:     corpusPointers,
		ShortlistOverride:  req.ShortlistOverride,
		SessionOverride:    sessionShortlistOverride(session),
	}
	preloadOut, err := o.preload.Run(ctx, preloadIn)
	if err != nil {
		if errors.Is(err, errs.ErrCorpusMissing) {
			result.Halted = true
			result.HaltReason = err.Error()
			o.kernel.Fanout(ctx, hookkernel.TurnCompleted, &hookkernel.TurnCompletedPayload{Result: &result})
			o.emit(EventTurnCompleted, map[string]any{"halted": true, "turns_executed": result.TurnsExecuted})
			return result, nil
		}
		return result, fmt.Errorf("preload: %w", err)
	}
	o.kernel.Fanout(ctx, hookkernel.PostPreload, &hookkernel.PostPreloadPayload{Resolution: &preloadOut})
	o.emit(EventPreloadEnd, map[string]any{
		"is_corpus_preloaded": preloadOut.IsCorpusPreloaded,
		"shortlist_enabled":   preloadOut.ShortlistEnabled,
	})
	result.PreloadResolution = preloadOut

	// Tool Registry, built per turn, extended by TOOL_REGISTRY_BUILD.
	registry, err := o.buildRegistry(ctx, session)
	if err != nil {
		return result, fmt.Errorf("build tool registry: %w", err)
	}

	directAnswer := isDirectAnswerEligible(preloadOut, researchMode)
	// Fetch-style acquisition tools come out of the schema set both in
	// direct-answer mode and on a local-only research turn whose corpus is
	// already in place — the model has nothing legitimate to fetch.
	excludeFetch := directAnswer ||
		(researchMode && sourceMode == models.ResearchSourceLocalOnly && preloadOut.IsCorpusPreloaded)

	// 3. Assemble messages.
	systemPrompt := o.assembleSystemPrompt(ctx, registry, session, preloadOut, directAnswer, req.Lean)
	messages := []models.Message{{Role: models.RoleSystem, Content: systemPrompt}}
	if existingSummary != "" {
		messages = append(messages, models.Message{Role: models.RoleSystem, Content: "## Prior Conversation Summary\n" + existingSummary})
	}
	messages = append(messages, priorMessages...)
	redactedQuery := redactLocalPaths(req.QueryText, corpusPointers, preloadOut.PreloadedSourceHandles)
	// Bootstrap evidence rides in the first user-visible message, ahead of
	// the query it supports.
	if preloadOut.BootstrapEvidence != "" {
		redactedQuery = "## Preloaded Evidence\n" + preloadOut.BootstrapEvidence + "\n\n" + redactedQuery
	}
	messages = append(messages, models.Message{Role: models.RoleUser, Content: redactedQuery})

	maxTurns := o.cfg.DefaultMaxTurns
	if session != nil && session.MaxTurnsOverride > 0 {
		maxTurns = session.MaxTurnsOverride
	}

	finalAnswer, toolMessages, turnsExecuted, err := o.runToolLoop(ctx, registry, messages, maxTurns, excludeFetch, req.Lean)
	if err != nil {
		var overflow *ContextOverflowError
		if errors.As(err, &overflow) {
			return result, overflow
		}
		if errors.Is(err, errs.ErrCancelled) || errors.Is(err, context.Canceled) {
			result.Halted = true
			result.HaltReason = err.Error()
			result.TurnsExecuted = turnsExecuted
			o.kernel.Fanout(ctx, hookkernel.TurnCompleted, &hookkernel.TurnCompletedPayload{Result: &result})
			o.emit(EventTurnCompleted, map[string]any{"halted": true, "turns_executed": result.TurnsExecuted})
			return result, nil
		}
		return result, err
	}
	result.TurnsExecuted = turnsExecuted
	result.Messages = toolMessages
	result.FinalAnswer = finalAnswer
	result.AnswerTitle = answerTitle(finalAnswer, req.QueryText)
	result.QuerySummary = truncateSummary(req.QueryText)

	// 5 & 6. Background summarization + delayed persistence (does not block
	// the return value) when eligible; otherwise persist immediately.
	suppressed := researchMode && sourceMode == models.ResearchSourceLocalOnly
	if req.SaveHistory {
		if !req.Lean && !suppressed {
			o.scheduleSummarizeAndPersist(resolution.SessionID, req.QueryText, finalAnswer)
		} else if _, err := o.store.SaveInteraction(ctx, resolution.SessionID, req.QueryText, finalAnswer, ""); err != nil {
			return result, fmt.Errorf("persist turn: %w", err)
		}
	}
	result.AnswerSummary = finalAnswer

	// Threshold-triggered compaction after the persisted turn. Lean mode
	// suppresses it along with the other preload-adjacent side effects.
	if req.SaveHistory && !req.Lean && session != nil {
		o.maybeCompact(ctx, session, contextRes.Tokens, req.QueryText, finalAnswer)
	}

	// 7. TURN_COMPLETED, fired exactly once.
	o.kernel.Fanout(ctx, hookkernel.TurnCompleted, &hookkernel.TurnCompletedPayload{Result: &result})
	o.emit(EventTurnCompleted, map[string]any{"halted": result.Halted, "turns_executed": result.TurnsExecuted})

	return result, nil
}

// maybeCompact replaces the session's compacted summary once accumulated
// tokens cross the configured share of the model context window. Compaction
// failures are logged, never surfaced to the turn's caller.
func (o *Orchestrator) maybeCompact(ctx context.Context, session *models.Session, priorTokens int, query, answer string) {
	accumulated := priorTokens + historystore.EstimateTokens(query) + historystore.EstimateTokens(answer)
	if !sessionresolver.ShouldCompact(accumulated, o.cfg.CompactionThreshold, o.cfg.ModelContextWindow) {
		return
	}
	pending := []string{truncateSummary(query), truncateSummary(answer)}
	summary, err := sessionresolver.Compact(ctx, o.cfg.CompactionStrategy, session.CompactedSummary, pending, o.llm, o.cfg.SummarizationModel)
	if err != nil {
		o.logger.Warn("compaction failed", "session", session.ID, "error", err)
		return
	}
	if err := o.store.CompactSession(ctx, session.ID, summary); err != nil {
		o.logger.Warn("persist compacted summary failed", "session", session.ID, "error", err)
	}
}

func sessionShortlistOverride(session *models.Session) models.ShortlistOverride {
	if session == nil {
		return ""
	}
	return models.ShortlistOverride(session.ShortlistOverride)
}

// resolveContext implements the "loaded context/summary" input to prompt
// assembly: session-bound turns load history + compacted summary;
// continue_ids turns pull from the null-session message pool; stateless
// turns start empty.
func (o *Orchestrator) resolveContext(ctx context.Context, resolution models.SessionResolution, session *models.Session, req models.TurnRequest) (models.ContextResolution, []models.Message, string, error) {
	switch resolution.Branch {
	case "continue_ids":
		text, err := o.store.GetContext(ctx, req.Session.ContinueIDs)
		if err != nil {
			return models.ContextResolution{}, nil, "", err
		}
		var msgs []models.Message
		if text != "" {
			msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: "## Continued Messages\n" + text})
		}
		return models.ContextResolution{Strategy: "continue_ids", Tokens: historystore.EstimateTokens(text)}, msgs, "", nil
	case "stateless":
		return models.ContextResolution{Strategy: "stateless"}, nil, "", nil
	default:
		history, err := o.store.GetHistory(ctx, resolution.SessionID, 50)
		if err != nil {
			return models.ContextResolution{}, nil, "", err
		}
		msgs := make([]models.Message, len(history))
		tokens := 0
		for i, m := range history {
			msgs[i] = *m
			tokens += m.TokenCount
		}
		summary := ""
		if session != nil {
			summary = session.CompactedSummary
		}
		return models.ContextResolution{Strategy: "session", Tokens: tokens}, msgs, summary, nil
	}
}

// buildRegistry composes the caller-provided base registry with whatever
// TOOL_REGISTRY_BUILD subscribers add on top.
func (o *Orchestrator) buildRegistry(ctx context.Context, session *models.Session) (*toolregistry.Registry, error) {
	registry, err := o.registryOf(ctx, session)
	if err != nil {
		return nil, err
	}
	var disabled []string
	payload := &hookkernel.ToolRegistryBuildPayload{
		DisabledTools: disabled,
		Register: func(def models.ToolDefinition, executor func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)) error {
			return registry.Register(def, executor)
		},
	}
	o.kernel.Fanout(ctx, hookkernel.ToolRegistryBuild, payload)
	return registry, nil
}

// isDirectAnswerEligible reports whether the turn can skip acquisition
// tools: seed sources fully preloaded and research mode off.
func isDirectAnswerEligible(preloadOut models.PreloadResolution, researchMode bool) bool {
	return !researchMode && preloadOut.IsCorpusPreloaded && len(preloadOut.PreloadedSourceHandles) > 0
}

func answerTitle(answer, query string) string {
	if answer == "" {
		return ""
	}
	for _, line := range strings.Split(answer, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			title := strings.TrimLeft(trimmed, "# ")
			if title != "" {
				return title
			}
		}
	}
	if query != "" {
		return query
	}
	return answer
}

func truncateSummary(text string) string {
	const maxLen = 200
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}

var pathLikeToken = regexp.MustCompile(`^(?:/[\w.\-]+){2,}$`)

// redactLocalPaths replaces occurrences of configured corpus pointers with
// their corpus handle, then scrubs any remaining filesystem-path-shaped
// whitespace-delimited token (one not already a corpus handle) with a
// generic redaction marker before the query reaches the model.
func redactLocalPaths(query string, pointers []string, handles []models.CorpusHandle) string {
	redacted := query
	for i, pointer := range pointers {
		if i < len(handles) {
			redacted = strings.ReplaceAll(redacted, pointer, string(handles[i]))
		}
	}

	fields := strings.Fields(redacted)
	for i, tok := range fields {
		if strings.HasPrefix(tok, "corpus://") {
			continue
		}
		if pathLikeToken.MatchString(tok) {
			fields[i] = "[local path redacted]"
		}
	}
	return strings.Join(fields, " ")
}
