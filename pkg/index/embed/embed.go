// Package embed defines the pluggable Embedding Engine of spec.md §4.3:
// a Provider interface for document-vs-query embedding plus an Engine
// that batches requests with bounded concurrency. Grounded in the
// teacher's pkg/rag/embed.Embedder, generalized from a single-provider
// chat-model wrapper to spec.md §6's Provider abstraction so any
// embedding backend can be plugged in.
package embed

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/docker/agent-substrate/pkg/errkind"
)

// Provider is the external interface spec.md §6 requires: document-mode
// and query-mode embedding of text into a fixed-dimension vector, both
// scoped to a model identifier.
type Provider interface {
	// EmbedDocuments embeds texts in "document" mode, when the provider
	// distinguishes it from query mode.
	EmbedDocuments(ctx context.Context, model string, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single query string in "query" mode.
	EmbedQuery(ctx context.Context, model string, text string) ([]float32, error)
	// Dimension reports the fixed vector width the provider returns for model.
	Dimension(model string) int
}

// Engine batches embedding requests over a Provider with bounded
// concurrency, per spec.md §4.3 step 5 ("batches of ≤ 10 concurrent
// requests").
type Engine struct {
	provider       Provider
	model          string
	batchSize      int
	maxConcurrency int
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchSize overrides the default batch size (50, matching the
// teacher's embedder default).
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithMaxConcurrency overrides the default concurrent-batch cap. Per
// spec.md §4.3 this must not exceed 10.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

// DefaultMaxConcurrency is spec.md §4.3's "≤ 10 concurrent requests" cap.
const DefaultMaxConcurrency = 10

// DefaultBatchSize matches the teacher's embedder default.
const DefaultBatchSize = 50

// New returns an Engine over provider using model, applying opts.
func New(provider Provider, model string, opts ...Option) *Engine {
	e := &Engine{
		provider:       provider,
		model:          model,
		batchSize:      DefaultBatchSize,
		maxConcurrency: DefaultMaxConcurrency,
	}
	if e.maxConcurrency > DefaultMaxConcurrency {
		e.maxConcurrency = DefaultMaxConcurrency
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxConcurrency > DefaultMaxConcurrency {
		e.maxConcurrency = DefaultMaxConcurrency
	}
	return e
}

// Dimension returns the provider's fixed vector width for the Engine's model.
func (e *Engine) Dimension() int {
	return e.provider.Dimension(e.model)
}

// EmbedDocuments embeds texts in batches of at most e.batchSize, running
// up to e.maxConcurrency batches concurrently, and reassembles results
// in input order.
func (e *Engine) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrency)

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		start, end := start, end
		g.Go(func() error {
			batch := texts[start:end]
			vecs, err := e.provider.EmbedDocuments(gctx, e.model, batch)
			if err != nil {
				return errkind.New(errkind.External, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err))
			}
			if len(vecs) != len(batch) {
				return errkind.New(errkind.External, fmt.Errorf("embed batch [%d:%d]: got %d vectors for %d texts", start, end, len(vecs), len(batch)))
			}
			copy(results[start:end], vecs)
			slog.Debug("embed engine: batch complete", "start", start, "end", end)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// EmbedQuery embeds a single query string in query mode.
func (e *Engine) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.provider.EmbedQuery(ctx, e.model, text)
	if err != nil {
		return nil, errkind.New(errkind.External, fmt.Errorf("embed query: %w", err))
	}
	return vec, nil
}
