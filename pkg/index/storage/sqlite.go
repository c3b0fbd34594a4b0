package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docker/agent-substrate/pkg/errkind"
	"github.com/docker/agent-substrate/pkg/sqliteutil"
)

// SQLite is the persistent Backend variant, grounded in the teacher's
// pkg/memory/database/sqlite.MemoryDatabase: a single sqliteutil-opened
// connection (serialized writes, WAL mode) with plain SQL statements
// rather than an ORM.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if absent) a sqlite-backed Backend at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sqliteutil.OpenDB(path)
	if err != nil {
		return nil, errkind.New(errkind.Resource, fmt.Errorf("open index store: %w", err))
	}

	const schema = `
CREATE TABLE IF NOT EXISTS documents (
	document_id     TEXT PRIMARY KEY,
	file_path       TEXT NOT NULL,
	language        TEXT NOT NULL,
	size            INTEGER NOT NULL,
	last_modified   TEXT NOT NULL,
	indexed_at      TEXT NOT NULL,
	chunk_ids       TEXT NOT NULL,
	checksum        TEXT,
	compacted_size  INTEGER
);
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id         TEXT PRIMARY KEY,
	document_id      TEXT NOT NULL,
	content          TEXT NOT NULL,
	language         TEXT NOT NULL,
	file_path        TEXT NOT NULL,
	start_line       INTEGER NOT NULL,
	end_line         INTEGER NOT NULL,
	kind             TEXT NOT NULL,
	estimated_tokens INTEGER NOT NULL,
	embedding        BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, errkind.New(errkind.Corruption, fmt.Errorf("create index schema: %w", err))
	}

	return &SQLite{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func encodeEmbedding(vec []float32) ([]byte, error) {
	return json.Marshal(vec)
}

func decodeEmbedding(raw []byte) ([]float32, error) {
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (s *SQLite) Store(ctx context.Context, info ChunkInfo, embedding []float32) error {
	blob, err := encodeEmbedding(embedding)
	if err != nil {
		return errkind.New(errkind.Internal, fmt.Errorf("encode embedding: %w", err))
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO chunks (chunk_id, document_id, content, language, file_path, start_line, end_line, kind, estimated_tokens, embedding)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(chunk_id) DO UPDATE SET
	document_id=excluded.document_id, content=excluded.content, language=excluded.language,
	file_path=excluded.file_path, start_line=excluded.start_line, end_line=excluded.end_line,
	kind=excluded.kind, estimated_tokens=excluded.estimated_tokens, embedding=excluded.embedding`,
		info.ChunkID, info.DocumentID, info.Content, info.Language, info.FilePath,
		info.StartLine, info.EndLine, info.Kind, info.EstimatedTokens, blob)
	if err != nil {
		return errkind.New(errkind.Resource, fmt.Errorf("store chunk: %w", err))
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, chunkID string) ([]float32, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT embedding FROM chunks WHERE chunk_id = ?`, chunkID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errkind.New(errkind.Resource, err)
	}
	vec, err := decodeEmbedding(blob)
	if err != nil {
		return nil, false, errkind.New(errkind.Corruption, err)
	}
	return vec, true, nil
}

func (s *SQLite) GetAll(ctx context.Context) ([]Embedded, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, embedding FROM chunks`)
	if err != nil {
		return nil, errkind.New(errkind.Resource, err)
	}
	defer rows.Close()

	var out []Embedded
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, errkind.New(errkind.Resource, err)
		}
		vec, err := decodeEmbedding(blob)
		if err != nil {
			return nil, errkind.New(errkind.Corruption, err)
		}
		out = append(out, Embedded{ChunkID: id, Embedding: vec})
	}
	return out, rows.Err()
}

func (s *SQLite) Remove(ctx context.Context, chunkID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE chunk_id = ?`, chunkID)
	if err != nil {
		return errkind.New(errkind.Resource, err)
	}
	return nil
}

func (s *SQLite) GetChunkInfo(ctx context.Context, chunkID string) (ChunkInfo, bool, error) {
	var info ChunkInfo
	err := s.db.QueryRowContext(ctx, `
SELECT chunk_id, document_id, content, language, file_path, start_line, end_line, kind, estimated_tokens
FROM chunks WHERE chunk_id = ?`, chunkID).Scan(
		&info.ChunkID, &info.DocumentID, &info.Content, &info.Language, &info.FilePath,
		&info.StartLine, &info.EndLine, &info.Kind, &info.EstimatedTokens)
	if err == sql.ErrNoRows {
		return ChunkInfo{}, false, nil
	}
	if err != nil {
		return ChunkInfo{}, false, errkind.New(errkind.Resource, err)
	}
	return info, true, nil
}

func (s *SQLite) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errkind.New(errkind.Resource, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return errkind.New(errkind.Resource, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return errkind.New(errkind.Resource, err)
	}
	if err := tx.Commit(); err != nil {
		return errkind.New(errkind.Resource, err)
	}
	return nil
}

func (s *SQLite) PutDocument(ctx context.Context, doc Document) error {
	chunkIDs, err := json.Marshal(doc.ChunkIDs)
	if err != nil {
		return errkind.New(errkind.Internal, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO documents (document_id, file_path, language, size, last_modified, indexed_at, chunk_ids, checksum, compacted_size)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(document_id) DO UPDATE SET
	file_path=excluded.file_path, language=excluded.language, size=excluded.size,
	last_modified=excluded.last_modified, indexed_at=excluded.indexed_at,
	chunk_ids=excluded.chunk_ids, checksum=excluded.checksum, compacted_size=excluded.compacted_size`,
		doc.DocumentID, doc.FilePath, doc.Language, doc.Size,
		doc.LastModified.UTC().Format(time.RFC3339Nano), doc.IndexedAt.UTC().Format(time.RFC3339Nano),
		string(chunkIDs), doc.Checksum, doc.CompactedSize)
	if err != nil {
		return errkind.New(errkind.Resource, fmt.Errorf("put document: %w", err))
	}
	return nil
}

func (s *SQLite) scanDocument(row interface {
	Scan(dest ...any) error
}) (Document, error) {
	var doc Document
	var lastModified, indexedAt, chunkIDs string
	var checksum sql.NullString
	var compactedSize sql.NullInt64

	if err := row.Scan(&doc.DocumentID, &doc.FilePath, &doc.Language, &doc.Size,
		&lastModified, &indexedAt, &chunkIDs, &checksum, &compactedSize); err != nil {
		return Document{}, err
	}

	doc.LastModified, _ = time.Parse(time.RFC3339Nano, lastModified)
	doc.IndexedAt, _ = time.Parse(time.RFC3339Nano, indexedAt)
	doc.Checksum = checksum.String
	doc.CompactedSize = compactedSize.Int64
	_ = json.Unmarshal([]byte(chunkIDs), &doc.ChunkIDs)
	return doc, nil
}

func (s *SQLite) GetDocument(ctx context.Context, documentID string) (Document, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT document_id, file_path, language, size, last_modified, indexed_at, chunk_ids, checksum, compacted_size
FROM documents WHERE document_id = ?`, documentID)
	doc, err := s.scanDocument(row)
	if err == sql.ErrNoRows {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, errkind.New(errkind.Resource, err)
	}
	return doc, true, nil
}

func (s *SQLite) RemoveDocument(ctx context.Context, documentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errkind.New(errkind.Resource, err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE document_id = ?`, documentID)
	if err != nil {
		return errkind.New(errkind.Resource, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errkind.New(errkind.NotFound, errDocumentNotFound(documentID))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return errkind.New(errkind.Resource, err)
	}
	if err := tx.Commit(); err != nil {
		return errkind.New(errkind.Resource, err)
	}
	return nil
}

func (s *SQLite) ListDocuments(ctx context.Context, languageFilter string) ([]Document, error) {
	query := `SELECT document_id, file_path, language, size, last_modified, indexed_at, chunk_ids, checksum, compacted_size FROM documents`
	args := []any{}
	if languageFilter != "" {
		query += ` WHERE language = ?`
		args = append(args, languageFilter)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errkind.New(errkind.Resource, err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := s.scanDocument(rows)
		if err != nil {
			return nil, errkind.New(errkind.Resource, err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}
