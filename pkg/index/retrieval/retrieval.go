// Package retrieval implements spec.md §4.3's Retrieval Engine:
// similarity search over a storage.Backend, language/path filtering,
// per-chunk and per-document boosts, and the final RelevanceScore
// formula. Grounded in the teacher's pkg/rag/strategy.VectorStore.Query
// and pkg/rag/database.SortByScore, generalized from a single
// threshold cutoff to spec.md §4.3's full scoring pipeline.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/docker/agent-substrate/pkg/errkind"
	"github.com/docker/agent-substrate/pkg/index/embed"
	"github.com/docker/agent-substrate/pkg/index/storage"
)

// Query is a search request against the index.
type Query struct {
	Text            string
	Limit           int
	Threshold       float64
	LanguageFilter  string
	PathGlobs       []string
	BoostFactor     float64
	ContextWindow   int
	DocumentBoosts  map[string]float64
	ChunkBoosts     map[string]float64
}

// SearchResult is one scored hit, spec.md §4.3.
type SearchResult struct {
	ChunkID         string
	DocumentID      string
	FilePath        string
	Content         string
	Language        string
	StartLine       int
	EndLine         int
	SimilarityScore float64
	RelevanceScore  float64
	ContextWindow   string
	HighlightSpans  []HighlightSpan
}

// HighlightSpan marks a byte range in ContextWindow matching a query token.
type HighlightSpan struct {
	Start int
	End   int
}

const (
	// oversampleFactor is spec.md §4.3's "over-sampled candidate set
	// (3× limit)" retrieved from the storage backend before filtering.
	oversampleFactor = 3

	maxKeywordBonus = 0.3
	maxLanguageBonus = 0.1
	maxQualityBonus  = 0.2

	minBoostFactor = 0.1
	maxBoostFactor = 5.0
)

// Engine runs spec.md §4.3 search over a storage.Backend using an
// embed.Engine for query-mode embedding.
type Engine struct {
	backend storage.Backend
	embed   *embed.Engine
}

// New returns an Engine over backend using embedder for query embedding.
func New(backend storage.Backend, embedder *embed.Engine) *Engine {
	return &Engine{backend: backend, embed: embedder}
}

// Search implements spec.md §4.3's Retrieval Engine contract.
func (e *Engine) Search(ctx context.Context, q Query) ([]SearchResult, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, errkind.New(errkind.Input, fmt.Errorf("search: empty query text"))
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 1000 {
		return nil, errkind.New(errkind.Input, fmt.Errorf("search: limit %d exceeds maximum of 1000", q.Limit))
	}
	if q.Threshold < 0 || q.Threshold > 1 {
		return nil, errkind.New(errkind.Input, fmt.Errorf("search: threshold %v outside [0,1]", q.Threshold))
	}
	boost := q.BoostFactor
	if boost == 0 {
		boost = 1.0
	}
	if boost < minBoostFactor {
		boost = minBoostFactor
	}
	if boost > maxBoostFactor {
		boost = maxBoostFactor
	}

	queryVec, err := e.embed.EmbedQuery(ctx, q.Text)
	if err != nil {
		return nil, err
	}

	all, err := e.backend.GetAll(ctx)
	if err != nil {
		return nil, errkind.New(errkind.External, fmt.Errorf("search: load embeddings: %w", err))
	}

	type candidate struct {
		info storage.ChunkInfo
		sim  float64
	}

	candidates := make([]candidate, 0, len(all))
	for _, emb := range all {
		info, ok, err := e.backend.GetChunkInfo(ctx, emb.ChunkID)
		if err != nil {
			return nil, errkind.New(errkind.External, fmt.Errorf("search: chunk info for %s: %w", emb.ChunkID, err))
		}
		if !ok {
			continue
		}
		sim := storage.CosineSimilarity(queryVec, emb.Embedding)
		candidates = append(candidates, candidate{info: info, sim: sim})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].sim > candidates[j].sim })

	overSample := q.Limit * oversampleFactor
	if overSample > len(candidates) {
		overSample = len(candidates)
	}
	candidates = candidates[:overSample]

	tokens := queryTokens(q.Text)

	var results []SearchResult
	for _, c := range candidates {
		if q.LanguageFilter != "" && c.info.Language != q.LanguageFilter {
			continue
		}
		if len(q.PathGlobs) > 0 && !matchesAnyGlob(c.info.FilePath, q.PathGlobs) {
			continue
		}

		keywordBonus := keywordBonus(c.info.Content, tokens)
		languageBonus := languageBonus(q.LanguageFilter, c.info.Language)
		qualityBonus := qualityBonus(c.info)

		score := c.sim + keywordBonus + languageBonus + qualityBonus
		score *= boost
		if docBoost, ok := q.DocumentBoosts[c.info.DocumentID]; ok {
			score *= docBoost
		}
		if chunkBoost, ok := q.ChunkBoosts[c.info.ChunkID]; ok {
			score *= chunkBoost
		}
		score = clamp(score, 0, 1)

		if score < q.Threshold {
			continue
		}

		window, spans := buildContextWindow(c.info.Content, tokens, q.ContextWindow)

		results = append(results, SearchResult{
			ChunkID:         c.info.ChunkID,
			DocumentID:      c.info.DocumentID,
			FilePath:        c.info.FilePath,
			Content:         c.info.Content,
			Language:        c.info.Language,
			StartLine:       c.info.StartLine,
			EndLine:         c.info.EndLine,
			SimilarityScore: c.sim,
			RelevanceScore:  score,
			ContextWindow:   window,
			HighlightSpans:  spans,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}

	return results, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func queryTokens(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// keywordBonus is the fraction of query tokens present in content,
// scaled to maxKeywordBonus, per spec.md §4.3's RelevanceScore formula.
func keywordBonus(content string, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	present := 0
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			present++
		}
	}
	return maxKeywordBonus * float64(present) / float64(len(tokens))
}

// languageBonus rewards an exact language match to the filter when one
// was requested; 0 when no filter was given (nothing to match against).
func languageBonus(filter, chunkLang string) float64 {
	if filter == "" {
		return 0
	}
	if filter == chunkLang {
		return maxLanguageBonus
	}
	return 0
}

// qualityBonus rewards declaration-kind chunks with documentation over
// bare unknown-kind slices, from declaration density and documentation
// presence per spec.md §4.3.
func qualityBonus(info storage.ChunkInfo) float64 {
	bonus := 0.0
	switch info.Kind {
	case "function", "struct", "enum", "trait", "module":
		bonus += maxQualityBonus * 0.6
	case "comment":
		bonus += maxQualityBonus * 0.2
	}
	if strings.Contains(info.Content, "//") || strings.Contains(info.Content, "\"\"\"") || strings.Contains(info.Content, "/*") {
		bonus += maxQualityBonus * 0.4
	}
	if bonus > maxQualityBonus {
		bonus = maxQualityBonus
	}
	return bonus
}

func matchesAnyGlob(path string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, path); ok {
			return true
		}
	}
	return false
}

// buildContextWindow resolves spec.md §9's open question: the chunk's
// content truncated to contextWindow bytes, centered on the first query
// token found in it, else prefix-aligned. Content no longer than
// contextWindow is returned whole; it is not padded.
func buildContextWindow(content string, tokens []string, contextWindow int) (string, []HighlightSpan) {
	if contextWindow <= 0 || contextWindow >= len(content) {
		return content, findSpans(content, tokens, 0)
	}

	lower := strings.ToLower(content)
	center := -1
	for _, tok := range tokens {
		if idx := strings.Index(lower, tok); idx >= 0 {
			center = idx
			break
		}
	}

	var start int
	if center < 0 {
		start = 0
	} else {
		start = center - contextWindow/2
		if start < 0 {
			start = 0
		}
	}
	end := start + contextWindow
	if end > len(content) {
		end = len(content)
		start = end - contextWindow
		if start < 0 {
			start = 0
		}
	}

	window := content[start:end]
	return window, findSpans(window, tokens, 0)
}

func findSpans(text string, tokens []string, offset int) []HighlightSpan {
	lower := strings.ToLower(text)
	var spans []HighlightSpan
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		start := 0
		for {
			idx := strings.Index(lower[start:], tok)
			if idx < 0 {
				break
			}
			abs := start + idx
			spans = append(spans, HighlightSpan{Start: offset + abs, End: offset + abs + len(tok)})
			start = abs + len(tok)
		}
	}
	return spans
}
