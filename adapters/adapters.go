// Package adapters defines the pure-interface collaborators to external
// models and services: embeddings, chunking, the LLM itself, URL fetching,
// and file reading. Concrete vendor SDK bindings live outside this module;
// deployments supply their own implementations of these interfaces.
package adapters

import (
	"context"

	"github.com/evrenesat/asky/pkg/models"
)

// EmbeddingAdapter turns a batch of text into a batch of unit-normalized
// float vectors. Dimensionality is fixed per deployment.
type EmbeddingAdapter interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunker splits text into chunks under a token budget.
type Chunker interface {
	Chunk(ctx context.Context, text string, tokenBudget int) ([]ChunkResult, error)
	Name() string
}

// ChunkResult is one chunk produced by a Chunker, prior to embedding.
type ChunkResult struct {
	Text       string
	Ordinal    int
	SectionID  string
	TokenCount int
}

// LLMMessage is one entry in the ordered list passed to an LLMAdapter call.
type LLMMessage struct {
	Role       models.Role
	Content    string
	Name       string
	ToolCallID string
	ToolCalls  []models.ToolCall
}

// LLMParams carries generation parameters for one call.
type LLMParams struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// LLMAdapter is the pure-function boundary to the model itself. Error kinds
// returned here are the transient/context_overflow/auth/permanent kinds of
// the error taxonomy (corekit/errs), wrapped with %w so callers can
// distinguish them with errors.Is.
type LLMAdapter interface {
	Complete(ctx context.Context, messages []LLMMessage, tools []models.ToolDefinition, params LLMParams) (LLMMessage, error)
}

// FetchResult is the normalized output of a Fetcher call.
type FetchResult struct {
	RequestedURL string
	FinalURL     string
	ContentText  string
	Title        string
	Date         string
	Links        []string
	SourceID     string
}

// FetchOptions configures one Fetcher call.
type FetchOptions struct {
	IncludeLinks bool
	MaxLinks     int
}

// Fetcher retrieves and normalizes a URL's content. Overridable per-call via
// the FETCH_URL_OVERRIDE hook (first subscriber to set a result wins) —
// wiring that short-circuit is the orchestrator's responsibility, not the
// adapter's.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts FetchOptions) (FetchResult, error)
}

// FileKind enumerates the local file kinds a FileAdapter must support.
type FileKind string

const (
	FileKindText FileKind = "txt"
	FileKindMD   FileKind = "md"
	FileKindHTML FileKind = "html"
	FileKindJSON FileKind = "json"
	FileKindCSV  FileKind = "csv"
	FileKindPDF  FileKind = "pdf"
	FileKindEPUB FileKind = "epub"
)

// FileAdapter reads a local path of a declared kind and returns its text.
// Implementations MUST enforce the root guard before reading: the path's
// canonicalized form must be a prefix of some configured root directory.
type FileAdapter interface {
	Read(ctx context.Context, path string, kind FileKind) (string, error)
}
