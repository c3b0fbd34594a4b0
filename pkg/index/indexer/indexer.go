// Package indexer implements spec.md §4.3's Semantic Indexer: the
// pipeline that walks a directory, compacts and chunks files, embeds
// the chunks, and writes them through a storage.Backend, plus the
// concurrency and incremental-reindex policy around it. Grounded in the
// teacher's pkg/rag/strategy.VectorStore.Initialize/indexFile,
// generalized from a single vendor-backed vector store to spec.md §4.3's
// pluggable compaction/embedding/storage pipeline.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docker/agent-substrate/pkg/astcompact"
	"github.com/docker/agent-substrate/pkg/concurrent"
	"github.com/docker/agent-substrate/pkg/errkind"
	"github.com/docker/agent-substrate/pkg/fsx"
	"github.com/docker/agent-substrate/pkg/index/chunk"
	"github.com/docker/agent-substrate/pkg/index/embed"
	"github.com/docker/agent-substrate/pkg/index/storage"
	"github.com/docker/agent-substrate/pkg/parser"
)

// DirectoryOptions configures index_directory, spec.md §4.3.
type DirectoryOptions struct {
	Languages        []parser.Language
	IncludeGlobs     []string
	ExcludeGlobs     []string
	MaxFileSize      int64
	ParallelWorkers  int
	EnableCompaction bool
	Incremental      bool
	ForceReindex     bool
}

// DefaultMaxFileSize bounds a single file's size before index_file
// rejects it with errkind.Resource, spec.md §8's "files above
// max_file_size are rejected".
const DefaultMaxFileSize = 5 * 1024 * 1024

// DefaultParallelWorkers bounds directory-indexing batch size absent
// caller configuration.
const DefaultParallelWorkers = 8

// DefaultIndexConcurrency caps simultaneous index_file calls, spec.md
// §4.3's indexing semaphore.
const DefaultIndexConcurrency = 8

// Metrics summarizes indexer activity, spec.md §4.3's get_metrics.
type Metrics struct {
	FilesIndexed   int64
	FilesFailed    int64
	ChunksIndexed  int64
	FilesSkipped   int64
}

// Indexer is spec.md §4.3's Semantic Indexer.
type Indexer struct {
	backend   storage.Backend
	parser    *parser.Service
	compactor *astcompact.Compactor
	embedder  *embed.Engine

	indexSem chan struct{}
	querySem chan struct{}

	metrics struct {
		filesIndexed  atomic.Int64
		filesFailed   atomic.Int64
		chunksIndexed atomic.Int64
		filesSkipped  atomic.Int64
	}

	hashesMu sync.Mutex
	hashes   map[string]string
}

// Options configures a new Indexer.
type Options struct {
	Backend            storage.Backend
	Parser             *parser.Service
	Compactor          *astcompact.Compactor
	Embedder           *embed.Engine
	MaxConcurrentIndex int
	MaxConcurrentQuery int
}

// New returns an Indexer wired to opts' collaborators.
func New(opts Options) *Indexer {
	indexConcurrency := opts.MaxConcurrentIndex
	if indexConcurrency <= 0 {
		indexConcurrency = DefaultIndexConcurrency
	}
	queryConcurrency := opts.MaxConcurrentQuery
	if queryConcurrency <= 0 {
		queryConcurrency = DefaultIndexConcurrency
	}

	return &Indexer{
		backend:   opts.Backend,
		parser:    opts.Parser,
		compactor: opts.Compactor,
		embedder:  opts.Embedder,
		indexSem:  make(chan struct{}, indexConcurrency),
		querySem:  make(chan struct{}, queryConcurrency),
		hashes:    make(map[string]string),
	}
}

func fileHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// IndexFile implements spec.md §4.3's index_file.
func (idx *Indexer) IndexFile(ctx context.Context, path string, opts DirectoryOptions) (string, error) {
	select {
	case idx.indexSem <- struct{}{}:
		defer func() { <-idx.indexSem }()
	case <-ctx.Done():
		return "", errkind.New(errkind.Cancelled, ctx.Err())
	}

	return idx.indexFileLocked(ctx, path, opts)
}

func (idx *Indexer) indexFileLocked(ctx context.Context, path string, opts DirectoryOptions) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", errkind.New(errkind.NotFound, fmt.Errorf("index_file: stat %s: %w", path, err))
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if info.Size() > maxSize {
		return "", errkind.New(errkind.Resource, fmt.Errorf("index_file: %s size %d exceeds max %d", path, info.Size(), maxSize))
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", errkind.New(errkind.External, fmt.Errorf("index_file: read %s: %w", path, err))
	}

	checksum := fileHash(content)

	if opts.Incremental && !opts.ForceReindex {
		idx.hashesMu.Lock()
		prev, known := idx.hashes[path]
		idx.hashesMu.Unlock()
		if known && prev == checksum {
			idx.metrics.filesSkipped.Add(1)
			return "", nil
		}
	}

	lang, _ := parser.DetectLanguage(path, content)

	documentID := uuid.NewString()
	var chunks []chunk.Chunk
	var compactedSize int64

	if opts.EnableCompaction && lang != "" && parser.Supported(lang) {
		result, cerr := idx.compactor.Compact(ctx, content, astcompact.Options{Language: lang, IncludePrivate: true, PreserveDocs: true})
		if cerr == nil {
			compactedSize = int64(len(result.CompactSource))
			chunks = chunk.DeclarationAware(result.CompactSource, chunk.Options{Language: lang})
		} else {
			slog.Warn("indexer: compaction failed, falling back to text chunking", "path", path, "error", cerr)
		}
	}
	if chunks == nil {
		chunks = chunk.SlidingWindow(string(content), chunk.Options{Language: lang})
	}

	chunkIDs := make([]string, 0, len(chunks))
	for i := range chunks {
		chunks[i].ChunkID = uuid.NewString()
		chunks[i].DocumentID = documentID
		chunkIDs = append(chunkIDs, chunks[i].ChunkID)
	}

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vectors, err := idx.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			idx.metrics.filesFailed.Add(1)
			return "", err
		}

		for i, c := range chunks {
			info := storage.ChunkInfo{
				ChunkID:         c.ChunkID,
				DocumentID:      c.DocumentID,
				Content:         c.Content,
				Language:        string(lang),
				FilePath:        path,
				StartLine:       c.StartLine,
				EndLine:         c.EndLine,
				Kind:            string(c.Kind),
				EstimatedTokens: c.EstimatedTokens,
			}
			if err := idx.backend.Store(ctx, info, vectors[i]); err != nil {
				idx.metrics.filesFailed.Add(1)
				return "", errkind.New(errkind.Resource, fmt.Errorf("index_file: store chunk: %w", err))
			}
		}
	}

	doc := storage.Document{
		DocumentID:    documentID,
		FilePath:      path,
		Language:      string(lang),
		Size:          info.Size(),
		LastModified:  info.ModTime().UTC(),
		IndexedAt:     time.Now().UTC(),
		ChunkIDs:      chunkIDs,
		Checksum:      checksum,
		CompactedSize: compactedSize,
	}
	// Document record written last, per spec.md §4.3 step 6: readers see
	// either all of a document's chunks or none.
	if err := idx.backend.PutDocument(ctx, doc); err != nil {
		idx.metrics.filesFailed.Add(1)
		return "", errkind.New(errkind.Resource, fmt.Errorf("index_file: put document: %w", err))
	}

	idx.hashesMu.Lock()
	idx.hashes[path] = checksum
	idx.hashesMu.Unlock()

	idx.metrics.filesIndexed.Add(1)
	idx.metrics.chunksIndexed.Add(int64(len(chunks)))

	return documentID, nil
}

// IndexDirectory implements spec.md §4.3's index_directory: a bounded
// walk, per-file batches of opts.ParallelWorkers, per-file failures
// logged and counted without aborting the batch.
func (idx *Indexer) IndexDirectory(ctx context.Context, root string, opts DirectoryOptions) ([]string, error) {
	workers := opts.ParallelWorkers
	if workers <= 0 {
		workers = DefaultParallelWorkers
	}

	files, err := fsx.WalkFiles(ctx, root, fsx.WalkFilesOptions{
		ShouldIgnore: func(path string) bool {
			return !matchesIndexGlobs(path, opts.IncludeGlobs, opts.ExcludeGlobs)
		},
	})
	if err != nil {
		return nil, errkind.New(errkind.External, fmt.Errorf("index_directory: walk %s: %w", root, err))
	}

	documentIDs := concurrent.NewSlice[string]()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, rel := range files {
		full := filepath.Join(root, rel)
		g.Go(func() error {
			docID, err := idx.IndexFile(gctx, full, opts)
			if err != nil {
				slog.Error("indexer: failed to index file", "path", full, "error", err)
				idx.metrics.filesFailed.Add(1)
				return nil
			}
			if docID == "" {
				return nil
			}
			documentIDs.Append(docID)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return documentIDs.All(), errkind.New(errkind.Cancelled, err)
	}

	return documentIDs.All(), nil
}

func matchesIndexGlobs(path string, include, exclude []string) bool {
	if len(exclude) > 0 {
		if matched, _ := fsx.Matches(path, exclude); matched {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	matched, _ := fsx.Matches(path, include)
	return matched
}

// RemoveDocument implements spec.md §4.3's remove_document.
func (idx *Indexer) RemoveDocument(ctx context.Context, documentID string) error {
	return idx.backend.RemoveDocument(ctx, documentID)
}

// ListDocuments implements spec.md §4.3's list_documents.
func (idx *Indexer) ListDocuments(ctx context.Context, languageFilter string) ([]storage.Document, error) {
	return idx.backend.ListDocuments(ctx, languageFilter)
}

// ClearIndex implements spec.md §4.3's clear_index. Idempotent: a
// second call against an already-empty backend succeeds.
func (idx *Indexer) ClearIndex(ctx context.Context) error {
	idx.hashesMu.Lock()
	idx.hashes = make(map[string]string)
	idx.hashesMu.Unlock()
	return idx.backend.Clear(ctx)
}

// GetMetrics implements spec.md §4.3's get_metrics.
func (idx *Indexer) GetMetrics() Metrics {
	return Metrics{
		FilesIndexed:  idx.metrics.filesIndexed.Load(),
		FilesFailed:   idx.metrics.filesFailed.Load(),
		ChunksIndexed: idx.metrics.chunksIndexed.Load(),
		FilesSkipped:  idx.metrics.filesSkipped.Load(),
	}
}

// AcquireQuerySlot blocks until a query concurrency slot is free or ctx
// is done, implementing spec.md §4.3's query semaphore. Callers defer
// the returned release function.
func (idx *Indexer) AcquireQuerySlot(ctx context.Context) (func(), error) {
	select {
	case idx.querySem <- struct{}{}:
		return func() { <-idx.querySem }, nil
	case <-ctx.Done():
		return nil, errkind.New(errkind.Cancelled, ctx.Err())
	}
}
