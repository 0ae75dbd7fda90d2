package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// Registry is the SQLite record of ingested documents and their chunks.
// The indexes only know chunk IDs; the registry maps them back to text,
// spans, and owning documents.
type Registry struct {
	db   *sql.DB
	path string
}

const registrySchema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	mime_type   TEXT NOT NULL DEFAULT '',
	size_bytes  INTEGER NOT NULL DEFAULT 0,
	checksum    TEXT NOT NULL DEFAULT '',
	chunk_count INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	uploaded_at INTEGER NOT NULL,
	indexed_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset   INTEGER NOT NULL,
	text         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, seq);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// OpenRegistry opens or creates the registry database at path.
// An empty path opens an in-memory database.
func OpenRegistry(path string) (*Registry, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}

	// One connection: a single writer, and an in-memory database is
	// private to the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(registrySchema); err != nil {
		_ = db.Close()
		return nil, apperrors.New(apperrors.ErrCodeCorruptIndex, "failed to initialise registry schema", err).
			WithDetail("path", path)
	}

	return &Registry{db: db, path: path}, nil
}

// DB exposes the underlying handle so query telemetry can share the file.
func (r *Registry) DB() *sql.DB { return r.db }

// CheckEmbedding records the embedding model and dimension on first use
// and fails with a dimension mismatch when a later run uses another size.
// A model change at the same size is allowed but recorded.
func (r *Registry) CheckEmbedding(ctx context.Context, model string, dims int) error {
	stored, err := r.Meta(ctx, MetaEmbeddingDimensions)
	if err != nil {
		return err
	}
	if stored != "" {
		n, err := strconv.Atoi(stored)
		if err != nil {
			return apperrors.New(apperrors.ErrCodeCorruptIndex, "stored embedding dimension is not a number", err)
		}
		if n != dims {
			return apperrors.DimensionMismatch(n, dims).WithDetail("model", model)
		}
	} else if err := r.SetMeta(ctx, MetaEmbeddingDimensions, strconv.Itoa(dims)); err != nil {
		return err
	}
	return r.SetMeta(ctx, MetaEmbeddingModel, model)
}

// Meta returns a metadata value, or "" when unset.
func (r *Registry) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return v, nil
}

// SetMeta stores a metadata value.
func (r *Registry) SetMeta(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %s: %w", key, err)
	}
	return nil
}

// PutChunks replaces the stored chunks of a document with chunks.
// Chunks with a sequence number past the new count are removed.
func (r *Registry) PutChunks(ctx context.Context, documentID string, chunks []ChunkRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE document_id = ? AND seq >= ?`, documentID, len(chunks)); err != nil {
		return fmt.Errorf("failed to prune chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, seq, start_offset, end_offset, text)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			seq = excluded.seq,
			start_offset = excluded.start_offset,
			end_offset = excluded.end_offset,
			text = excluded.text`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, documentID, c.Seq, c.Start, c.End, c.Text); err != nil {
			return fmt.Errorf("failed to store chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// UpsertDocument inserts or replaces a document row.
func (r *Registry) UpsertDocument(ctx context.Context, doc Document) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (id, name, mime_type, size_bytes, checksum, chunk_count, status, error, uploaded_at, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			mime_type = excluded.mime_type,
			size_bytes = excluded.size_bytes,
			checksum = excluded.checksum,
			chunk_count = excluded.chunk_count,
			status = excluded.status,
			error = excluded.error,
			uploaded_at = excluded.uploaded_at,
			indexed_at = excluded.indexed_at`,
		doc.ID, doc.Name, doc.MIMEType, doc.SizeBytes, doc.Checksum, doc.ChunkCount,
		string(doc.Status), doc.Error, doc.UploadedAt.UnixNano(), doc.IndexedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
	}
	return nil
}

const documentColumns = `id, name, mime_type, size_bytes, checksum, chunk_count, status, error, uploaded_at, indexed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		d                   Document
		status              string
		uploaded, indexedAt int64
	)
	if err := row.Scan(&d.ID, &d.Name, &d.MIMEType, &d.SizeBytes, &d.Checksum,
		&d.ChunkCount, &status, &d.Error, &uploaded, &indexedAt); err != nil {
		return nil, err
	}
	d.Status = DocumentStatus(status)
	d.UploadedAt = time.Unix(0, uploaded).UTC()
	d.IndexedAt = time.Unix(0, indexedAt).UTC()
	return &d, nil
}

// GetDocument returns a document, or nil when it is not registered.
func (r *Registry) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", id, err)
	}
	return d, nil
}

// ListDocuments returns all documents ordered by ID.
func (r *Registry) ListDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document and its chunks.
func (r *Registry) DeleteDocument(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrCodeDocumentNotFound, "document not found: "+id, nil).
			WithDetail("document_id", id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", id, err)
	}
	return tx.Commit()
}

// DeleteChunks removes the stored chunks of a document without touching
// its document row.
func (r *Registry) DeleteChunks(ctx context.Context, documentID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", documentID, err)
	}
	return nil
}

// ChunkIDs returns the stored chunk IDs of a document in sequence order.
func (r *Registry) ChunkIDs(ctx context.Context, documentID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM chunks WHERE document_id = ? ORDER BY seq`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks of %s: %w", documentID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ChunkText looks up chunks by ID. IDs with no stored chunk are absent from
// the result.
func (r *Registry) ChunkText(ctx context.Context, ids []string) (map[string]ChunkRecord, error) {
	out := make(map[string]ChunkRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	// SQLite's default variable limit is well above any result limit,
	// but stay under it anyway.
	const batch = 500
	for lo := 0; lo < len(ids); lo += batch {
		part := ids[lo:min(lo+batch, len(ids))]
		args := make([]any, len(part))
		for i, id := range part {
			args[i] = id
		}
		q := `SELECT id, document_id, seq, start_offset, end_offset, text FROM chunks WHERE id IN (?` +
			strings.Repeat(",?", len(part)-1) + `)`

		rows, err := r.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to look up chunks: %w", err)
		}
		for rows.Next() {
			var c ChunkRecord
			if err := rows.Scan(&c.ID, &c.DocumentID, &c.Seq, &c.Start, &c.End, &c.Text); err != nil {
				rows.Close()
				return nil, err
			}
			out[c.ID] = c
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Stats returns document and chunk counts.
func (r *Registry) Stats(ctx context.Context) (documents, chunks int, err error) {
	if err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&documents); err != nil {
		return 0, 0, fmt.Errorf("failed to count documents: %w", err)
	}
	if err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&chunks); err != nil {
		return 0, 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return documents, chunks, nil
}

// Close closes the database.
func (r *Registry) Close() error {
	return r.db.Close()
}
