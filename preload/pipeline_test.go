package preload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/evrenesat/asky/adapters"
	"github.com/evrenesat/asky/corekit/errs"
	"github.com/evrenesat/asky/pkg/models"
	"github.com/evrenesat/asky/vectorstore"
)

func TestShortlistPolicy_LeanAlwaysSkips(t *testing.T) {
	p := New(DefaultConfig(), nil, nil, nil, nil, nil, nil)
	enabled, reason := p.shortlistPolicy(context.Background(), Input{Lean: true})
	if enabled {
		t.Fatal("lean mode must always skip shortlist")
	}
	if reason == "" {
		t.Error("expected a non-empty reason")
	}
}

func TestShortlistPolicy_PerTurnOverrideWins(t *testing.T) {
	p := New(DefaultConfig(), nil, nil, nil, nil, nil, nil)
	enabled, _ := p.shortlistPolicy(context.Background(), Input{ShortlistOverride: models.ShortlistOn, SessionOverride: models.ShortlistOff})
	if !enabled {
		t.Fatal("per-turn override=on should win over session override=off")
	}
}

func TestShortlistPolicy_LocalOnlySkips(t *testing.T) {
	p := New(DefaultConfig(), nil, nil, nil, nil, nil, nil)
	enabled, _ := p.shortlistPolicy(context.Background(), Input{ResearchSourceMode: models.ResearchSourceLocalOnly})
	if enabled {
		t.Fatal("local_only research source mode must skip shortlist")
	}
}

func TestShortlistPolicy_AmbiguousFailsSafeWithoutPlanner(t *testing.T) {
	p := New(DefaultConfig(), nil, nil, nil, nil, nil, nil)
	enabled, reason := p.shortlistPolicy(context.Background(), Input{QueryText: "tell me about quarks"})
	if enabled {
		t.Fatal("ambiguous intent without a planner must fail safe to skip")
	}
	if reason == "" {
		t.Error("expected a non-empty fail-safe reason")
	}
}

type stubPlanner struct {
	run bool
	err error
}

func (s stubPlanner) PlanShortlist(ctx context.Context, queryText string) (bool, error) {
	return s.run, s.err
}

func TestShortlistPolicy_PlannerParseFailureFailsSafe(t *testing.T) {
	p := New(DefaultConfig(), nil, nil, nil, nil, nil, stubPlanner{err: errors.New("bad json")})
	enabled, _ := p.shortlistPolicy(context.Background(), Input{QueryText: "tell me about quarks"})
	if enabled {
		t.Fatal("planner parse failure must fail safe to skip")
	}
}

func TestRun_LocalOnlyHaltsWhenNoCorpusIngested(t *testing.T) {
	store := vectorstore.New()
	p := New(DefaultConfig(), store, nil, nil, nil, nil, nil)

	_, err := p.Run(context.Background(), Input{
		QueryText:          "summarize this",
		ResearchSourceMode: models.ResearchSourceLocalOnly,
		CorpusPointers:     nil,
	})
	if !errors.Is(err, errs.ErrCorpusMissing) {
		t.Fatalf("expected ErrCorpusMissing, got %v", err)
	}
}

func TestRun_IsCorpusPreloadedTrueForExistingChunksWithoutNewIngestion(t *testing.T) {
	store := vectorstore.New()
	store.UpsertChunks(context.Background(), "notes.md", []models.Chunk{{DocumentID: "notes.md", Ordinal: 0, Text: "existing content"}})

	p := New(DefaultConfig(), store, nil, nil, nil, nil, nil)
	res, err := p.Run(context.Background(), Input{
		QueryText:      "what does this say",
		CorpusPointers: []string{"notes.md"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsCorpusPreloaded {
		t.Fatal("expected IsCorpusPreloaded=true for pre-existing chunks, with no new ingestion this turn")
	}
}

func TestRun_DirectoryPointerIngestsDiscoveredFilesOnly(t *testing.T) {
	root := t.TempDir()
	docs := filepath.Join(root, "docs")
	if err := os.MkdirAll(docs, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for name, content := range map[string]string{"a.md": "alpha content", "b.md": "beta content"} {
		if err := os.WriteFile(filepath.Join(docs, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	cfg := DefaultConfig()
	cfg.LocalDocumentRoots = []string{root}
	store := vectorstore.New()
	files := adapters.LocalFileAdapter{Roots: []string{root}}
	p := New(cfg, store, nil, adapters.NewRecursiveChunker(), files, nil, nil)

	res, err := p.Run(context.Background(), Input{QueryText: "what is here", CorpusPointers: []string{"docs"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.IsCorpusPreloaded {
		t.Fatal("expected corpus preloaded after directory ingestion")
	}
	if !store.HasChunks("docs/a.md") || !store.HasChunks("docs/b.md") {
		t.Error("expected each discovered file ingested as its own document")
	}
	if store.HasChunks("docs") {
		t.Error("the directory itself must never be ingested as a pseudo-document")
	}
}

func TestExpandQuery_DropsStopwordsAndDuplicates(t *testing.T) {
	got := expandQuery("what is the capital of the capital region")
	want := map[string]bool{"capital": true, "region": true}
	if len(got) != len(want) {
		t.Fatalf("expandQuery = %v, want keys %v", got, want)
	}
	for _, tok := range got {
		if !want[tok] {
			t.Errorf("unexpected token %q in expansion", tok)
		}
	}
}

func TestClassifyQuery_RequiresResearchModeAndThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueryClassificationEnabled = true
	p := New(cfg, nil, nil, nil, nil, nil, nil)

	if p.classifyQuery(Input{ResearchMode: false, QueryText: "summarize this"}) {
		t.Error("classification must require research mode")
	}
	over := make([]string, cfg.OneShotDocumentThreshold+1)
	if p.classifyQuery(Input{ResearchMode: true, QueryText: "summarize this", CorpusPointers: over}) {
		t.Error("classification must respect the document count threshold")
	}
	if !p.classifyQuery(Input{ResearchMode: true, QueryText: "give me a summary", CorpusPointers: []string{"a.md"}}) {
		t.Error("expected one-shot classification for a small corpus with summarization keywords")
	}
}
