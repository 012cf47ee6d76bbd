package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evrenesat/asky/adapters"
	"github.com/evrenesat/asky/pkg/models"
	"github.com/evrenesat/asky/vectorstore"
)

// BuiltinDeps collects the collaborators the built-in tool set dispatches
// to. Any nil field degrades its tool to an error result rather than
// panicking, since a deployment may omit a corpus or a web fetcher entirely.
type BuiltinDeps struct {
	Embedder    adapters.EmbeddingAdapter
	Fetcher     adapters.Fetcher
	Store       *vectorstore.Store
	SaveMemory  func(ctx context.Context, text string) error
	SaveFinding func(ctx context.Context, text string, sourceID string) error
}

var builtinSchemas = map[string]string{
	"web-search":        `{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`,
	"fetch-url":         `{"type":"object","properties":{"url":{"type":"string"},"include_links":{"type":"boolean"}},"required":["url"]}`,
	"retrieve-chunks":   `{"type":"object","properties":{"query":{"type":"string"},"k":{"type":"integer"}},"required":["query"]}`,
	"save-memory":       `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`,
	"save-finding":      `{"type":"object","properties":{"text":{"type":"string"},"source_id":{"type":"string"}},"required":["text"]}`,
	"list-sections":     `{"type":"object","properties":{"document_id":{"type":"string"}},"required":["document_id"]}`,
	"summarize-section": `{"type":"object","properties":{"document_id":{"type":"string"},"section_id":{"type":"string"}},"required":["document_id","section_id"]}`,
}

// RegisterBuiltins adds the seven built-in tools. Each executor is backed by
// the adapter interfaces; web-search and fetch-url route through the Fetcher
// boundary rather than doing any HTTP of their own.
func RegisterBuiltins(r *Registry, deps BuiltinDeps) error {
	builtins := []struct {
		name string
		desc string
		exec Executor
	}{
		{"web-search", "Search the web and return ranked result snippets.", deps.webSearch},
		{"fetch-url", "Fetch and normalize the content of a URL.", deps.fetchURL},
		{"retrieve-chunks", "Retrieve the most relevant indexed chunks for a query.", deps.retrieveChunks},
		{"save-memory", "Persist a durable user memory for future turns.", deps.saveMemory},
		{"save-finding", "Record a research finding attributed to a source.", deps.saveFinding},
		{"list-sections", "List the section ids of an indexed document.", deps.listSections},
		{"summarize-section", "Summarize one section of an indexed document.", deps.summarizeSection},
	}

	for _, b := range builtins {
		def := models.ToolDefinition{
			Name:        b.name,
			Description: b.desc,
			Parameters:  json.RawMessage(builtinSchemas[b.name]),
		}
		if err := r.Register(def, b.exec); err != nil {
			return fmt.Errorf("register builtin %q: %w", b.name, err)
		}
	}
	return nil
}

func errorResult(format string, args ...any) (*models.ToolResult, error) {
	return &models.ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}, nil
}

func (d BuiltinDeps) webSearch(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	if d.Fetcher == nil {
		return errorResult("web search is not configured for this deployment")
	}
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return errorResult("invalid parameters: %v", err)
	}
	// Web search is implemented as a Fetcher call against a search endpoint;
	// the concrete search provider sits behind the same Fetcher boundary as
	// fetch-url so no second adapter interface is needed.
	result, err := d.Fetcher.Fetch(ctx, "search:"+args.Query, adapters.FetchOptions{IncludeLinks: true, MaxLinks: 10})
	if err != nil {
		return errorResult("web search failed: %v", err)
	}
	return &models.ToolResult{Content: result.ContentText}, nil
}

func (d BuiltinDeps) fetchURL(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	if d.Fetcher == nil {
		return errorResult("fetch-url is not configured for this deployment")
	}
	var args struct {
		URL          string `json:"url"`
		IncludeLinks bool   `json:"include_links"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return errorResult("invalid parameters: %v", err)
	}
	result, err := d.Fetcher.Fetch(ctx, args.URL, adapters.FetchOptions{IncludeLinks: args.IncludeLinks, MaxLinks: 50})
	if err != nil {
		return errorResult("fetch failed: %v", err)
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return errorResult("encode fetch result: %v", err)
	}
	return &models.ToolResult{Content: string(encoded)}, nil
}

func (d BuiltinDeps) retrieveChunks(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	if d.Store == nil {
		return errorResult("no corpus is loaded for this session")
	}
	var args struct {
		Query string `json:"query"`
		K     int    `json:"k"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return errorResult("invalid parameters: %v", err)
	}
	if args.K <= 0 {
		args.K = 8
	}

	var queryVector []float32
	if d.Embedder != nil {
		vectors, err := d.Embedder.Embed(ctx, []string{args.Query})
		if err != nil {
			return errorResult("embed query: %v", err)
		}
		if len(vectors) > 0 {
			queryVector = vectors[0]
		}
	}

	scored := d.Store.Search(ctx, args.Query, queryVector, vectorstore.Filters{}, args.K)
	encoded, err := json.Marshal(scored)
	if err != nil {
		return errorResult("encode results: %v", err)
	}
	return &models.ToolResult{Content: string(encoded)}, nil
}

func (d BuiltinDeps) saveMemory(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	if d.SaveMemory == nil {
		return errorResult("memory persistence is not configured for this deployment")
	}
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return errorResult("invalid parameters: %v", err)
	}
	if err := d.SaveMemory(ctx, args.Text); err != nil {
		return errorResult("save memory failed: %v", err)
	}
	return &models.ToolResult{Content: "memory saved"}, nil
}

func (d BuiltinDeps) saveFinding(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	if d.SaveFinding == nil {
		return errorResult("finding persistence is not configured for this deployment")
	}
	var args struct {
		Text     string `json:"text"`
		SourceID string `json:"source_id"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return errorResult("invalid parameters: %v", err)
	}
	if err := d.SaveFinding(ctx, args.Text, args.SourceID); err != nil {
		return errorResult("save finding failed: %v", err)
	}
	return &models.ToolResult{Content: "finding saved"}, nil
}

func (d BuiltinDeps) listSections(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	if d.Store == nil {
		return errorResult("no corpus is loaded for this session")
	}
	var args struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return errorResult("invalid parameters: %v", err)
	}

	seen := make(map[string]bool)
	var sections []string
	for _, c := range d.Store.Snapshot() {
		if c.DocumentID != args.DocumentID || c.SectionID == "" || seen[c.SectionID] {
			continue
		}
		seen[c.SectionID] = true
		sections = append(sections, c.SectionID)
	}
	encoded, err := json.Marshal(sections)
	if err != nil {
		return errorResult("encode sections: %v", err)
	}
	return &models.ToolResult{Content: string(encoded)}, nil
}

func (d BuiltinDeps) summarizeSection(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	if d.Store == nil {
		return errorResult("no corpus is loaded for this session")
	}
	var args struct {
		DocumentID string `json:"document_id"`
		SectionID  string `json:"section_id"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return errorResult("invalid parameters: %v", err)
	}

	var text string
	for _, c := range d.Store.Snapshot() {
		if c.DocumentID == args.DocumentID && c.SectionID == args.SectionID {
			text += c.Text + "\n"
		}
	}
	if text == "" {
		return errorResult("section %q not found in document %q", args.SectionID, args.DocumentID)
	}
	// Summarization itself is an LLM call owned by the orchestrator; this
	// executor returns the concatenated section text for it to summarize.
	return &models.ToolResult{Content: text}, nil
}
