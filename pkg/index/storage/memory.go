package storage

import (
	"context"
	"sync"

	"github.com/docker/agent-substrate/pkg/errkind"
)

// Memory is an in-process Backend, the default used by tests and
// short-lived indexing runs that don't need the result to outlive the
// process.
type Memory struct {
	mu         sync.RWMutex
	embeddings map[string][]float32
	chunks     map[string]ChunkInfo
	documents  map[string]Document
}

// NewMemory returns an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{
		embeddings: make(map[string][]float32),
		chunks:     make(map[string]ChunkInfo),
		documents:  make(map[string]Document),
	}
}

func (m *Memory) Store(_ context.Context, info ChunkInfo, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[info.ChunkID] = info
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	m.embeddings[info.ChunkID] = vec
	return nil
}

func (m *Memory) Get(_ context.Context, chunkID string) ([]float32, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vec, ok := m.embeddings[chunkID]
	return vec, ok, nil
}

func (m *Memory) GetAll(_ context.Context) ([]Embedded, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Embedded, 0, len(m.embeddings))
	for id, vec := range m.embeddings {
		out = append(out, Embedded{ChunkID: id, Embedding: vec})
	}
	return out, nil
}

func (m *Memory) Remove(_ context.Context, chunkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.embeddings, chunkID)
	delete(m.chunks, chunkID)
	return nil
}

func (m *Memory) GetChunkInfo(_ context.Context, chunkID string) (ChunkInfo, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.chunks[chunkID]
	return info, ok, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings = make(map[string][]float32)
	m.chunks = make(map[string]ChunkInfo)
	m.documents = make(map[string]Document)
	return nil
}

func (m *Memory) PutDocument(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc.DocumentID] = doc
	return nil
}

func (m *Memory) GetDocument(_ context.Context, documentID string) (Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[documentID]
	return doc, ok, nil
}

func (m *Memory) RemoveDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return errkind.New(errkind.NotFound, errDocumentNotFound(documentID))
	}
	for _, chunkID := range doc.ChunkIDs {
		delete(m.embeddings, chunkID)
		delete(m.chunks, chunkID)
	}
	delete(m.documents, documentID)
	return nil
}

func (m *Memory) ListDocuments(_ context.Context, languageFilter string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0, len(m.documents))
	for _, doc := range m.documents {
		if languageFilter != "" && doc.Language != languageFilter {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}
