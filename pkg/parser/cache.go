package parser

import (
	"hash/fnv"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	sitter "github.com/smacker/go-tree-sitter"
)

// DefaultCacheCapacity is the default number of parse trees the process
// keeps resident before evicting the least recently used entry.
const DefaultCacheCapacity = 100

type cacheKey struct {
	lang Language
	hash uint64
}

// ParseTree is a cached parse result: the tree-sitter tree, the source
// it was built from, and whether any node in the tree reports a syntax
// error (a tree with error nodes is still usable for best-effort
// extraction).
type ParseTree struct {
	Language Language
	Source   []byte
	Tree     *sitter.Tree
}

// HasErrors reports whether the root node of the tree is marked as
// containing a syntax error.
func (t *ParseTree) HasErrors() bool {
	if t == nil || t.Tree == nil || t.Tree.RootNode() == nil {
		return false
	}
	return t.Tree.RootNode().HasError()
}

// CacheStats are the cumulative hit/miss counters spec.md §4.1 requires
// be exposed off the parse cache.
type CacheStats struct {
	Hits   int64
	Misses int64
}

// Cache stores recent ParseTrees keyed by (language, 64-bit hash of
// source), evicting by LRU once Capacity entries are held.
type Cache struct {
	lru    *lru.Cache[cacheKey, *ParseTree]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache returns a Cache bounded to capacity entries. A value <= 0
// uses DefaultCacheCapacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	c, err := lru.New[cacheKey, *ParseTree](capacity)
	if err != nil {
		// Only returns an error for a non-positive size, which we've
		// already normalized above.
		panic(err)
	}
	return &Cache{lru: c}
}

// HashSource computes the 64-bit FNV-1a hash of src used as the cache
// key's second component.
func HashSource(src []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(src)
	return h.Sum64()
}

// Get returns the cached ParseTree for (lang, src), recording a hit or
// miss.
func (c *Cache) Get(lang Language, src []byte) (*ParseTree, bool) {
	key := cacheKey{lang: lang, hash: HashSource(src)}
	tree, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return tree, ok
}

// Put stores tree under (lang, src), evicting the least recently used
// entry if the cache is at capacity.
func (c *Cache) Put(lang Language, src []byte, tree *ParseTree) {
	key := cacheKey{lang: lang, hash: HashSource(src)}
	c.lru.Add(key, tree)
}

// Stats returns a snapshot of the cache's cumulative hit/miss counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int {
	return c.lru.Len()
}
