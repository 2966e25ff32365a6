package store

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/ragsync/internal/models"
)

const (
	metadataTable = "document_metadata"
	rowsTable     = "document_rows"
)

type VectorStoreConfig struct {
	ConnString  string
	TableName   string
	VectorDim   int
	SearchLimit int
}

type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "documents"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 1536 // OpenAI text-embedding-3-small
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	// Chunk rows carry no natural key: uniqueness of (file_id, chunk_index)
	// is enforced by deleting every row for a file before re-inserting.
	createDocuments := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			content TEXT,
			embedding vector(%d),
			metadata JSONB
		)`, vs.config.TableName, vs.config.VectorDim)

	if _, err := vs.pool.Exec(ctx, createDocuments); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}

	createMetadata := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			title TEXT,
			url TEXT,
			schema JSONB
		)`, metadataTable)

	if _, err := vs.pool.Exec(ctx, createMetadata); err != nil {
		return fmt.Errorf("failed to create metadata table: %w", err)
	}

	createRows := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			dataset_id TEXT NOT NULL,
			row_data JSONB
		)`, rowsTable)

	if _, err := vs.pool.Exec(ctx, createRows); err != nil {
		return fmt.Errorf("failed to create rows table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		vs.config.TableName, vs.config.TableName)

	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// UpsertMetadata creates the per-file metadata record, overwriting fields
// when it already exists.
func (vs *VectorStore) UpsertMetadata(ctx context.Context, meta models.FileMetadata) error {
	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, title, url, schema)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			schema = EXCLUDED.schema`,
		metadataTable)

	var schema interface{}
	if len(meta.Schema) > 0 {
		schema = meta.Schema
	}

	if _, err := vs.pool.Exec(ctx, stmt, meta.ID, sanitizeUTF8(meta.Title), meta.URL, schema); err != nil {
		return fmt.Errorf("failed to upsert metadata for %s: %w", meta.ID, err)
	}

	return nil
}

// InsertChunks inserts chunk rows in one transaction. Callers must have
// deleted any prior rows for the file first; this method never patches
// incrementally.
func (vs *VectorStore) InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4)`,
		vs.config.TableName)

	for _, chunk := range chunks {
		_, err = tx.Exec(ctx, stmt,
			uuid.NewString(),
			sanitizeUTF8(chunk.Content),
			pgvector.NewVector(chunk.Embedding),
			chunk.Metadata,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d for %s: %w",
				chunk.Metadata.ChunkIndex, chunk.Metadata.FileID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}

	return nil
}

// ReplaceRows fully replaces the tabular rows for a file: delete-all then
// insert-all, in one transaction.
func (vs *VectorStore) ReplaceRows(ctx context.Context, fileID string, rows []models.TabularRow) error {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	deleteStmt := fmt.Sprintf("DELETE FROM %s WHERE dataset_id = $1", rowsTable)
	if _, err := tx.Exec(ctx, deleteStmt, fileID); err != nil {
		return fmt.Errorf("failed to delete rows for %s: %w", fileID, err)
	}

	insertStmt := fmt.Sprintf("INSERT INTO %s (dataset_id, row_data) VALUES ($1, $2)", rowsTable)
	for _, row := range rows {
		if _, err := tx.Exec(ctx, insertStmt, fileID, row); err != nil {
			return fmt.Errorf("failed to insert row for %s: %w", fileID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rows: %w", err)
	}

	return nil
}

// DeleteFile removes every record for a file across all three tables:
// chunks, tabular rows, then the metadata record. Deleting an absent file is
// a no-op, so the call is safe to retry.
func (vs *VectorStore) DeleteFile(ctx context.Context, fileID string) error {
	chunkStmt := fmt.Sprintf("DELETE FROM %s WHERE metadata->>'file_id' = $1", vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, chunkStmt, fileID); err != nil {
		return fmt.Errorf("failed to delete chunks for %s: %w", fileID, err)
	}

	rowStmt := fmt.Sprintf("DELETE FROM %s WHERE dataset_id = $1", rowsTable)
	if _, err := vs.pool.Exec(ctx, rowStmt, fileID); err != nil {
		return fmt.Errorf("failed to delete rows for %s: %w", fileID, err)
	}

	metaStmt := fmt.Sprintf("DELETE FROM %s WHERE id = $1", metadataTable)
	if _, err := vs.pool.Exec(ctx, metaStmt, fileID); err != nil {
		return fmt.Errorf("failed to delete metadata for %s: %w", fileID, err)
	}

	return nil
}

// HasFile reports whether any record exists for the file. The documents
// table is checked first, the metadata table as a backup.
func (vs *VectorStore) HasFile(ctx context.Context, fileID string) (bool, error) {
	chunkQuery := fmt.Sprintf("SELECT 1 FROM %s WHERE metadata->>'file_id' = $1 LIMIT 1", vs.config.TableName)

	var one int
	err := vs.pool.QueryRow(ctx, chunkQuery, fileID).Scan(&one)
	if err == nil {
		return true, nil
	}
	if err != pgx.ErrNoRows {
		return false, fmt.Errorf("failed to check document %s: %w", fileID, err)
	}

	metaQuery := fmt.Sprintf("SELECT 1 FROM %s WHERE id = $1 LIMIT 1", metadataTable)
	err = vs.pool.QueryRow(ctx, metaQuery, fileID).Scan(&one)
	if err == nil {
		return true, nil
	}
	if err != pgx.ErrNoRows {
		return false, fmt.Errorf("failed to check metadata %s: %w", fileID, err)
	}

	return false, nil
}

// SearchSimilar returns the chunks nearest to the query embedding, ordered
// by descending cosine similarity, optionally restricted by a metadata
// containment filter.
func (vs *VectorStore) SearchSimilar(ctx context.Context, embedding []float32, limit int, filter map[string]interface{}) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = vs.config.SearchLimit
	}

	query := fmt.Sprintf(`
		SELECT content, 1 - (embedding <=> $1) AS similarity, metadata
		FROM %s`,
		vs.config.TableName)

	args := []interface{}{pgvector.NewVector(embedding)}
	if len(filter) > 0 {
		query += " WHERE metadata @> $2"
		args = append(args, filter)
	}
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT %d", limit)

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var (
			content    string
			similarity float64
			metadata   map[string]interface{}
		)
		if err := rows.Scan(&content, &similarity, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, models.SearchResult{
			Content:    content,
			Similarity: float32(similarity),
			Metadata:   metadata,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return results, nil
}

// FileContent reassembles a document from its stored chunks, ordered by
// chunk index.
func (vs *VectorStore) FileContent(ctx context.Context, fileID string) (string, error) {
	query := fmt.Sprintf(`
		SELECT content
		FROM %s
		WHERE metadata->>'file_id' = $1
		ORDER BY (metadata->>'chunk_index')::int`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, fileID)
	if err != nil {
		return "", fmt.Errorf("failed to query chunks for %s: %w", fileID, err)
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return "", fmt.Errorf("failed to scan chunk: %w", err)
		}
		parts = append(parts, content)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to read chunks: %w", err)
	}

	return strings.Join(parts, " "), nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
