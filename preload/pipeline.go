// Package preload implements the preload pipeline: seven discrete,
// independently testable stages composed by one Pipeline.Run, run once per
// turn before the tool loop begins.
package preload

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/evrenesat/asky/adapters"
	"github.com/evrenesat/asky/corekit/errs"
	"github.com/evrenesat/asky/pkg/models"
	"github.com/evrenesat/asky/vectorstore"
)

// Config carries the configuration keys the pipeline consults.
type Config struct {
	LocalDocumentRoots         []string
	OneShotDocumentThreshold   int
	EvidenceExtractionEnabled  bool
	QueryClassificationEnabled bool
	MaxShortlistCandidates     int
}

// DefaultConfig returns the standard pipeline tunables.
func DefaultConfig() Config {
	return Config{OneShotDocumentThreshold: 10, MaxShortlistCandidates: 20}
}

// Pipeline runs the seven preload stages.
type Pipeline struct {
	cfg       Config
	store     *vectorstore.Store
	embedder  adapters.EmbeddingAdapter
	chunker   adapters.Chunker
	files     adapters.FileAdapter
	fetcher   adapters.Fetcher
	planner   IntentPlanner
	extractor EvidenceExtractor
}

// EvidenceExtractor is the optional secondary LLM pass that distills
// retrieved chunks into structured facts before the main turn.
type EvidenceExtractor interface {
	ExtractEvidence(ctx context.Context, query string, chunks []models.ScoredChunk) (string, error)
}

// WithEvidenceExtractor attaches the optional stage-7 extractor.
func (p *Pipeline) WithEvidenceExtractor(e EvidenceExtractor) *Pipeline {
	p.extractor = e
	return p
}

// IntentPlanner resolves the ambiguous shortlist-policy branch via a
// narrow, fenced JSON contract. Returning an error is treated as a parse
// failure and fails safe to "skip".
type IntentPlanner interface {
	PlanShortlist(ctx context.Context, queryText string) (run bool, err error)
}

// New constructs a Pipeline. planner may be nil, in which case the ambiguous
// branch always fails safe to skip.
func New(cfg Config, store *vectorstore.Store, embedder adapters.EmbeddingAdapter, chunker adapters.Chunker, files adapters.FileAdapter, fetcher adapters.Fetcher, planner IntentPlanner) *Pipeline {
	return &Pipeline{cfg: cfg, store: store, embedder: embedder, chunker: chunker, files: files, fetcher: fetcher, planner: planner}
}

// Input is everything the pipeline needs from the resolved turn and session.
type Input struct {
	QueryText          string
	Lean               bool
	ResearchMode       bool
	ResearchSourceMode models.ResearchSourceMode
	CorpusPointers     []string // local_document_roots-relative paths, directories or files
	ShortlistOverride  models.ShortlistOverride
	SessionOverride    models.ShortlistOverride
}

// Run executes all seven stages in order and returns the resolved
// PreloadResolution, or errs.ErrCorpusMissing when a local-corpus turn
// ingested nothing and must halt.
func (p *Pipeline) Run(ctx context.Context, in Input) (models.PreloadResolution, error) {
	var out models.PreloadResolution

	oneShot := p.classifyQuery(in)
	if oneShot {
		out.Diagnostics = append(out.Diagnostics, "query classified one-shot-summarization")
	}

	expandedQuery := expandQuery(in.QueryText)

	ingestedAny, preExisting, ingestDiagnostics, err := p.localIngestion(ctx, in)
	if err != nil {
		return out, err
	}
	out.Diagnostics = append(out.Diagnostics, ingestDiagnostics...)
	out.IsCorpusPreloaded = ingestedAny || preExisting
	for _, pointer := range in.CorpusPointers {
		out.PreloadedSourceHandles = append(out.PreloadedSourceHandles, models.CorpusHandle("corpus://cache/"+pointer))
	}

	if requiresLocalCorpus(in.ResearchSourceMode) && !out.IsCorpusPreloaded {
		return out, fmt.Errorf("zero local documents ingested: %w", errs.ErrCorpusMissing)
	}

	out.ShortlistEnabled, out.ShortlistReason = p.shortlistPolicy(ctx, in)

	var shortlisted []shortlistCandidate
	if out.ShortlistEnabled {
		shortlisted = p.shortlistExecution(ctx, expandedQuery)
		out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("shortlist candidates: %d", len(shortlisted)))
	}

	if in.ResearchMode && out.IsCorpusPreloaded {
		out.BootstrapEvidence = p.bootstrapRetrieval(ctx, in.QueryText)
	}

	if out.ShortlistEnabled && len(shortlisted) < 3 && p.cfg.EvidenceExtractionEnabled && p.extractor != nil {
		if facts := p.extractEvidence(ctx, in.QueryText); facts != "" {
			out.BootstrapEvidence = strings.TrimSpace(out.BootstrapEvidence + "\n\n" + facts)
			out.Diagnostics = append(out.Diagnostics, "evidence extraction pass run over small shortlisted set")
		}
	}

	return out, nil
}

// classifyQuery implements stage 1. One-shot triggers only when research
// mode is on, local corpus size is within threshold, and the query matches
// summarization keyword heuristics.
func (p *Pipeline) classifyQuery(in Input) bool {
	if !p.cfg.QueryClassificationEnabled || !in.ResearchMode {
		return false
	}
	threshold := p.cfg.OneShotDocumentThreshold
	if threshold <= 0 {
		threshold = 10
	}
	if len(in.CorpusPointers) > threshold {
		return false
	}
	return matchesSummarizationHeuristic(in.QueryText)
}

var summarizationKeywords = []string{"summarize", "summary", "tl;dr", "recap", "give me an overview"}

func matchesSummarizationHeuristic(query string) bool {
	lower := strings.ToLower(query)
	for _, kw := range summarizationKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// expandQuery is the deterministic keyword-extraction stage: a lightweight
// tokenization + stopword filter producing an expanded term list. It always
// runs; no LLM-based secondary expansion is applied.
func expandQuery(query string) []string {
	tokens := strings.Fields(strings.ToLower(query))
	seen := make(map[string]bool, len(tokens))
	var out []string
	for _, tok := range tokens {
		tok = strings.Trim(tok, ".,!?;:\"'()[]{}")
		if tok == "" || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "to": true, "and": true,
	"is": true, "in": true, "for": true, "on": true, "with": true, "what": true,
	"how": true, "does": true, "do": true, "it": true, "this": true, "that": true,
}

// localIngestion implements stage 3. Directory pointers are resolved as
// discovery metadata only: each discovered file becomes a real ingested
// document, never the directory itself. A pointer that resolves to nothing
// (escapes the configured roots, or the adapter can't find it on disk) is not
// a pipeline error — it simply contributes nothing to the corpus, and is
// surfaced as a diagnostic; the aggregate zero-documents-ingested check in
// Run is what decides whether the turn halts.
func (p *Pipeline) localIngestion(ctx context.Context, in Input) (ingestedAny bool, preExisting bool, diagnostics []string, err error) {
	for _, pointer := range in.CorpusPointers {
		// A pointer whose document already has chunks needs no re-ingestion
		// (and no path resolution) this turn.
		if p.store != nil && p.store.HasChunks(pointer) {
			preExisting = true
			continue
		}

		resolvedPath, kind, guardErr := p.resolveUnderRoots(pointer)
		if guardErr != nil {
			diagnostics = append(diagnostics, guardErr.Error())
			continue
		}
		if p.files == nil || p.chunker == nil {
			continue
		}

		info, statErr := os.Stat(resolvedPath)
		if statErr == nil && info.IsDir() {
			discovered, walkDiags := discoverFiles(resolvedPath)
			diagnostics = append(diagnostics, walkDiags...)
			for _, file := range discovered {
				rel, relErr := filepath.Rel(resolvedPath, file)
				if relErr != nil {
					continue
				}
				docID := pointer + "/" + filepath.ToSlash(rel)
				if p.store != nil && p.store.HasChunks(docID) {
					preExisting = true
					continue
				}
				ok, ingErr := p.ingestFile(ctx, docID, file, fileKindFromExt(file), &diagnostics)
				if ingErr != nil {
					return ingestedAny, preExisting, diagnostics, ingErr
				}
				ingestedAny = ingestedAny || ok
			}
			continue
		}

		ok, ingErr := p.ingestFile(ctx, pointer, resolvedPath, kind, &diagnostics)
		if ingErr != nil {
			return ingestedAny, preExisting, diagnostics, ingErr
		}
		ingestedAny = ingestedAny || ok
	}
	return ingestedAny, preExisting, diagnostics, nil
}

// discoverFiles walks a directory pointer and returns the regular files
// beneath it, sorted for deterministic ingestion order. The directory
// itself is discovery metadata only and is never ingested as a document.
func discoverFiles(dir string) (files []string, diagnostics []string) {
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			diagnostics = append(diagnostics, fmt.Sprintf("walk %s: %v", path, err))
			return nil
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if walkErr != nil {
		diagnostics = append(diagnostics, fmt.Sprintf("walk %s: %v", dir, walkErr))
	}
	sort.Strings(files)
	return files, diagnostics
}

// ingestFile reads, chunks, embeds, and upserts one document. A read
// failure contributes a diagnostic and no corpus; chunk/embed/upsert
// failures are pipeline errors.
func (p *Pipeline) ingestFile(ctx context.Context, docID, path string, kind adapters.FileKind, diagnostics *[]string) (bool, error) {
	text, err := p.files.Read(ctx, path, kind)
	if err != nil {
		*diagnostics = append(*diagnostics, fmt.Sprintf("read %s: %v", path, err))
		return false, nil
	}

	chunks, err := p.chunker.Chunk(ctx, text, 512)
	if err != nil {
		return false, fmt.Errorf("chunk %s: %w", path, err)
	}

	modelChunks := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		modelChunks[i] = models.Chunk{DocumentID: docID, Ordinal: c.Ordinal, Text: c.Text, TokenCount: c.TokenCount, SectionID: c.SectionID}
	}
	if p.embedder != nil {
		texts := make([]string, len(modelChunks))
		for i, c := range modelChunks {
			texts[i] = c.Text
		}
		vectors, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return false, fmt.Errorf("embed %s: %w", path, err)
		}
		for i := range modelChunks {
			if i < len(vectors) {
				modelChunks[i].Vector = vectors[i]
			}
		}
	}

	if p.store != nil {
		if err := p.store.UpsertChunks(ctx, docID, modelChunks); err != nil {
			return false, fmt.Errorf("upsert chunks for %s: %w", path, err)
		}
	}
	return true, nil
}

// resolveUnderRoots enforces the root guard, before any read: the pointer
// joined onto some configured root must, once cleaned, equal that root or
// lie beneath it.
func (p *Pipeline) resolveUnderRoots(pointer string) (resolvedPath string, kind adapters.FileKind, err error) {
	for _, root := range p.cfg.LocalDocumentRoots {
		candidate := filepath.Join(root, pointer)
		cleanRoot := filepath.Clean(root)
		cleanCandidate := filepath.Clean(candidate)
		if cleanCandidate == cleanRoot || strings.HasPrefix(cleanCandidate, cleanRoot+string(filepath.Separator)) {
			return cleanCandidate, fileKindFromExt(cleanCandidate), nil
		}
	}
	return "", "", fmt.Errorf("%s escapes configured local document roots: %w", pointer, errs.ErrCorpusMissing)
}

func fileKindFromExt(path string) adapters.FileKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md":
		return adapters.FileKindMD
	case ".html", ".htm":
		return adapters.FileKindHTML
	case ".json":
		return adapters.FileKindJSON
	case ".csv":
		return adapters.FileKindCSV
	case ".pdf":
		return adapters.FileKindPDF
	case ".epub":
		return adapters.FileKindEPUB
	default:
		return adapters.FileKindText
	}
}

func requiresLocalCorpus(mode models.ResearchSourceMode) bool {
	return mode == models.ResearchSourceLocalOnly || mode == models.ResearchSourceMixed
}

// shortlistPolicy walks the stage-4 decision tree in its fixed order.
func (p *Pipeline) shortlistPolicy(ctx context.Context, in Input) (bool, string) {
	if in.Lean {
		return false, "skipped: lean mode"
	}
	if in.ShortlistOverride == models.ShortlistOn {
		return true, "per-turn override: on"
	}
	if in.ShortlistOverride == models.ShortlistOff {
		return false, "per-turn override: off"
	}
	if in.SessionOverride == models.ShortlistOn {
		return true, "session override: on"
	}
	if in.SessionOverride == models.ShortlistOff {
		return false, "session override: off"
	}
	if in.ResearchSourceMode == models.ResearchSourceLocalOnly {
		return false, "skipped: research source mode is local_only"
	}
	if isClearlyLocalIntent(in.QueryText) {
		return false, "skipped: intent classified as local"
	}
	if isClearlyWebIntent(in.QueryText) {
		return true, "run: intent classified as web/recency"
	}
	if p.planner == nil {
		return false, "fail-safe skip: no interface-model planner configured"
	}
	run, err := p.planner.PlanShortlist(ctx, in.QueryText)
	if err != nil {
		return false, "fail-safe skip: planner parse failure"
	}
	if run {
		return true, "interface-model planner: run"
	}
	return false, "interface-model planner: skip"
}

var localIntentKeywords = []string{"in this document", "in the file", "in my notes", "from the pdf"}
var webIntentKeywords = []string{"latest", "today", "current", "recent news", "right now"}

func isClearlyLocalIntent(query string) bool {
	return containsAny(strings.ToLower(query), localIntentKeywords)
}

func isClearlyWebIntent(query string) bool {
	return containsAny(strings.ToLower(query), webIntentKeywords)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// shortlistCandidate is one ranked web-search result produced by stage 5.
type shortlistCandidate struct {
	URL   string
	Score float64
}

// domainWeights biases the shortlist toward reference-grade hosts. Unlisted
// domains score a neutral 1.0.
var domainWeights = map[string]float64{
	"wikipedia.org":     1.5,
	"github.com":        1.3,
	"arxiv.org":         1.3,
	"stackoverflow.com": 1.2,
}

// shortlistExecution implements stage 5: rank candidate URLs by a score
// combining query-term overlap, domain reputation, and corpus-aware
// redundancy (URLs whose document already has chunks are penalized),
// truncated to a budgeted set.
func (p *Pipeline) shortlistExecution(ctx context.Context, expandedQuery []string) []shortlistCandidate {
	if p.fetcher == nil || len(expandedQuery) == 0 {
		return nil
	}
	query := strings.Join(expandedQuery, " ")
	result, err := p.fetcher.Fetch(ctx, "search:"+query, adapters.FetchOptions{IncludeLinks: true, MaxLinks: p.cfg.MaxShortlistCandidates})
	if err != nil {
		return nil
	}

	candidates := make([]shortlistCandidate, 0, len(result.Links))
	for i, link := range result.Links {
		score := p.scoreCandidate(link, expandedQuery)
		// Preserve the search engine's own ordering as a mild prior.
		score += 0.5 / float64(i+1)
		candidates = append(candidates, shortlistCandidate{URL: link, Score: score})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	budget := p.cfg.MaxShortlistCandidates
	if budget <= 0 {
		budget = 20
	}
	if len(candidates) > budget {
		candidates = candidates[:budget]
	}
	return candidates
}

func (p *Pipeline) scoreCandidate(url string, queryTerms []string) float64 {
	lower := strings.ToLower(url)

	overlap := 0
	for _, term := range queryTerms {
		if strings.Contains(lower, term) {
			overlap++
		}
	}
	score := float64(overlap) / float64(len(queryTerms))

	weight := 1.0
	for domain, w := range domainWeights {
		if strings.Contains(lower, domain) {
			weight = w
			break
		}
	}
	score *= weight

	// Redundancy: a URL already represented in the corpus adds little.
	if p.store != nil && p.store.HasChunks(url) {
		score *= 0.25
	}
	return score
}

// extractEvidence runs the optional stage-7 extractor over the top
// bootstrap-retrieval chunks.
func (p *Pipeline) extractEvidence(ctx context.Context, query string) string {
	if p.store == nil {
		return ""
	}
	scored := p.store.Search(ctx, query, nil, vectorstore.Filters{}, 8)
	if len(scored) == 0 {
		return ""
	}
	facts, err := p.extractor.ExtractEvidence(ctx, query, scored)
	if err != nil {
		return ""
	}
	return facts
}

// bootstrapRetrieval implements stage 6: one deterministic hybrid retrieval
// against preloaded sources, attached to the first model-visible user
// message context.
func (p *Pipeline) bootstrapRetrieval(ctx context.Context, query string) string {
	if p.store == nil {
		return ""
	}
	scored := p.store.Search(ctx, query, nil, vectorstore.Filters{}, 8)
	if len(scored) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, sc := range scored {
		sb.WriteString(sc.Chunk.Text)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}
