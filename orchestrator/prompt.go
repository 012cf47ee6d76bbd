package orchestrator

import (
	"context"
	"strings"

	"github.com/evrenesat/asky/hookkernel"
	"github.com/evrenesat/asky/pkg/models"
	"github.com/evrenesat/asky/toolregistry"
)

const directAnswerDirective = "\n\nSeed sources for this query are already fully loaded into context; answer directly from them and do not invoke fetch-style acquisition tools this turn."

// assembleSystemPrompt builds the turn's system prompt: base prompt plus
// enabled-tool guidelines, SYSTEM_PROMPT_EXTEND chain, optional user-memory
// block (unless lean), preloaded-context block, and the direct-answer
// directive when eligible.
func (o *Orchestrator) assembleSystemPrompt(ctx context.Context, registry *toolregistry.Registry, session *models.Session, preloadOut models.PreloadResolution, directAnswer, lean bool) string {
	var sb strings.Builder
	sb.WriteString(o.cfg.BaseSystemPrompt)

	if guidelines := toolGuidelines(registry); guidelines != "" {
		sb.WriteString("\n\n## Tool Guidelines\n")
		sb.WriteString(guidelines)
	}

	extended := o.kernel.Chain(ctx, hookkernel.SystemPromptExtend, sb.String())

	var tail strings.Builder
	tail.WriteString(extended)

	if !lean {
		if memoryBlock := o.userMemoryBlock(ctx); memoryBlock != "" {
			tail.WriteString("\n\n## User Memory\n")
			tail.WriteString(memoryBlock)
		}
	}

	if len(preloadOut.PreloadedSourceHandles) > 0 {
		tail.WriteString("\n\n## Preloaded Sources\n")
		for _, h := range preloadOut.PreloadedSourceHandles {
			tail.WriteString("- ")
			tail.WriteString(string(h))
			tail.WriteString("\n")
		}
	}

	if directAnswer {
		tail.WriteString(directAnswerDirective)
	}

	return tail.String()
}

func toolGuidelines(registry *toolregistry.Registry) string {
	if registry == nil {
		return ""
	}
	var sb strings.Builder
	for _, def := range registry.AsToolDefinitions() {
		if def.Guideline == "" {
			continue
		}
		sb.WriteString("- ")
		sb.WriteString(def.Name)
		sb.WriteString(": ")
		sb.WriteString(def.Guideline)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// userMemoryBlock surfaces durable cross-session memories; it degrades to
// empty when the store has nothing. Lean-mode suppression is the caller's
// responsibility (assembleSystemPrompt only invokes this when lean is false).
func (o *Orchestrator) userMemoryBlock(ctx context.Context) string {
	memories, err := o.store.ListMemories(ctx)
	if err != nil || len(memories) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, m := range memories {
		sb.WriteString("- ")
		sb.WriteString(m.Text)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
