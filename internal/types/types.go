package types

import (
	"context"
	"time"

	"github.com/xhad/ragsync/internal/models"
)

// Core interfaces

// Source lists and fetches files from the watched remote scope. Trashed
// items must be flagged, not omitted, so the reconciler can clean up.
type Source interface {
	ListAll(ctx context.Context, folderID string) ([]models.RemoteFile, error)
	ListChanged(ctx context.Context, folderID string, since time.Time) ([]models.RemoteFile, error)
	ListTrashed(ctx context.Context, folderID string) ([]models.RemoteFile, error)
	Download(ctx context.Context, file models.RemoteFile) ([]byte, error)
}

// Embedder turns text chunks into fixed-dimension vectors. Output is
// index-aligned with the input after empty-after-sanitize chunks are
// dropped.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the persistence collaborator. All writes must be safe to
// retry; there is no transaction spanning the three record kinds.
type VectorStore interface {
	UpsertMetadata(ctx context.Context, meta models.FileMetadata) error
	InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error
	ReplaceRows(ctx context.Context, fileID string, rows []models.TabularRow) error
	DeleteFile(ctx context.Context, fileID string) error
	HasFile(ctx context.Context, fileID string) (bool, error)
	SearchSimilar(ctx context.Context, embedding []float32, limit int, filter map[string]interface{}) ([]models.SearchResult, error)
	FileContent(ctx context.Context, fileID string) (string, error)
	Close()
}
