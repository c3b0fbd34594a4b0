package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// LocalProvider is a deterministic, dependency-free Provider: it hashes
// n-grams of the input text into a fixed-dimension vector. spec.md §1
// treats the embedding model as pluggable and explicitly a non-goal to
// prescribe; LocalProvider exists so the indexer and retrieval engine
// are usable and testable without a network call to a real vendor, the
// same role the teacher's "dmr/" local model prefix plays for cost
// accounting in pkg/rag/strategy/vector_store.go.
type LocalProvider struct {
	dimension int
}

// NewLocalProvider returns a LocalProvider producing vectors of dimension.
func NewLocalProvider(dimension int) *LocalProvider {
	if dimension <= 0 {
		dimension = 256
	}
	return &LocalProvider{dimension: dimension}
}

// Dimension implements Provider.
func (p *LocalProvider) Dimension(string) int { return p.dimension }

// EmbedDocuments implements Provider.
func (p *LocalProvider) EmbedDocuments(_ context.Context, _ string, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = p.vectorize(t)
	}
	return vecs, nil
}

// EmbedQuery implements Provider.
func (p *LocalProvider) EmbedQuery(_ context.Context, _ string, text string) ([]float32, error) {
	return p.vectorize(text), nil
}

// vectorize hashes overlapping 3-grams of text into buckets, then
// L2-normalizes, giving texts that share substrings a non-zero cosine
// similarity without any learned model.
func (p *LocalProvider) vectorize(text string) []float32 {
	vec := make([]float32, p.dimension)
	if len(text) == 0 {
		return vec
	}

	const gram = 3
	runes := []rune(text)
	if len(runes) < gram {
		runes = append(runes, make([]rune, gram-len(runes))...)
	}

	for i := 0; i+gram <= len(runes); i++ {
		h := fnv.New32a()
		for _, r := range runes[i : i+gram] {
			_, _ = h.Write([]byte(string(r)))
		}
		bucket := int(h.Sum32()) % p.dimension
		if bucket < 0 {
			bucket += p.dimension
		}
		vec[bucket]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
