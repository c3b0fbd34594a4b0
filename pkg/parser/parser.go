package parser

import (
	"context"
	"fmt"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/docker/agent-substrate/pkg/errkind"
)

// Service is the public entry point for §4.1: a parser pool fronted by
// a parse-tree cache. The zero value is not usable; construct with New.
type Service struct {
	pool  *Pool
	cache *Cache
}

// Options configures a Service's pool and cache sizing.
type Options struct {
	// MaxInstancesPerLanguage bounds concurrent parser instances per
	// language. 0 uses DefaultMaxInstancesPerLanguage.
	MaxInstancesPerLanguage int
	// CacheCapacity bounds the parse-tree LRU cache. 0 uses
	// DefaultCacheCapacity.
	CacheCapacity int
}

// New returns a Service ready to parse.
func New(opts Options) *Service {
	return &Service{
		pool:  NewPool(opts.MaxInstancesPerLanguage),
		cache: NewCache(opts.CacheCapacity),
	}
}

// Parse returns the ParseTree for source under lang, serving from cache
// when the exact (language, source) pair was parsed before. A tree
// containing error nodes is still returned; callers consult
// ParseTree.HasErrors() to decide whether to reject or best-effort
// extract.
func (s *Service) Parse(ctx context.Context, lang Language, source []byte) (*ParseTree, error) {
	if !utf8.Valid(source) {
		return nil, errkind.New(errkind.Input, fmt.Errorf("source is not valid UTF-8"))
	}
	if !Supported(lang) {
		return nil, errkind.New(errkind.Input, fmt.Errorf("unsupported language %q", lang))
	}

	if cached, ok := s.cache.Get(lang, source); ok {
		return cached, nil
	}

	tree, err := s.pool.ParseWithPool(ctx, lang, source, nil)
	if err != nil {
		return nil, err
	}

	pt := &ParseTree{Language: lang, Source: source, Tree: tree}
	s.cache.Put(lang, source, pt)
	return pt, nil
}

// ParseIncremental re-parses source given a previous tree and applies
// edit descriptors to it first, enabling tree-sitter's incremental
// parsing. Without a previous tree this behaves like Parse (and still
// checks the cache).
func (s *Service) ParseIncremental(ctx context.Context, lang Language, source []byte, previous *ParseTree, edits []sitter.EditInput) (*ParseTree, error) {
	if previous == nil || previous.Tree == nil {
		return s.Parse(ctx, lang, source)
	}
	if !Supported(lang) {
		return nil, errkind.New(errkind.Input, fmt.Errorf("unsupported language %q", lang))
	}

	for _, edit := range edits {
		previous.Tree.Edit(edit)
	}

	tree, err := s.pool.ParseWithPool(ctx, lang, source, previous.Tree)
	if err != nil {
		return nil, err
	}

	pt := &ParseTree{Language: lang, Source: source, Tree: tree}
	s.cache.Put(lang, source, pt)
	return pt, nil
}

// DetectLanguage identifies a Language from a path and/or content.
func (s *Service) DetectLanguage(path string, content []byte) (Language, bool) {
	return DetectLanguage(path, content)
}

// CacheStats returns the cumulative parse-cache hit/miss counters.
func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}
