package adapters

import (
	"context"
	"fmt"

	"github.com/evrenesat/asky/corekit/errs"
	"github.com/evrenesat/asky/pkg/models"
)

// Unconfigured{LLM,Embedding,Fetcher} fail every call with errs.ErrConfig
// instead of panicking or silently no-opping. A deployment wires a real
// adapter (its own vendor SDK binding) in place of these; keeping them as
// the zero-value default means askyd starts and reports its wiring gap
// clearly rather than refusing to start at all.
type UnconfiguredLLM struct{ Reason string }

func (u UnconfiguredLLM) Complete(ctx context.Context, messages []LLMMessage, tools []models.ToolDefinition, params LLMParams) (LLMMessage, error) {
	return LLMMessage{}, fmt.Errorf("llm adapter not configured (%s): %w", u.reason(), errs.ErrConfig)
}

func (u UnconfiguredLLM) reason() string {
	if u.Reason != "" {
		return u.Reason
	}
	return "no llm.default_model binding registered"
}

type UnconfiguredEmbedding struct{ Reason string }

func (u UnconfiguredEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("embedding adapter not configured (%s): %w", u.reason(), errs.ErrConfig)
}

func (u UnconfiguredEmbedding) reason() string {
	if u.Reason != "" {
		return u.Reason
	}
	return "no embedding provider registered"
}

type UnconfiguredFetcher struct{ Reason string }

func (u UnconfiguredFetcher) Fetch(ctx context.Context, url string, opts FetchOptions) (FetchResult, error) {
	return FetchResult{}, fmt.Errorf("fetcher not configured (%s): %w", u.reason(), errs.ErrConfig)
}

func (u UnconfiguredFetcher) reason() string {
	if u.Reason != "" {
		return u.Reason
	}
	return "no web fetch backend registered"
}

// LocalFileAdapter reads files from a fixed set of allowed root directories,
// enforcing the root guard the FileAdapter contract requires.
type LocalFileAdapter struct {
	Roots []string
}

func (f LocalFileAdapter) Read(ctx context.Context, path string, kind FileKind) (string, error) {
	return readLocalFile(f.Roots, path, kind)
}
