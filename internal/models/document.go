package models

import "time"

// RemoteFile is a file as reported by the Google Drive listing API.
// It is observed, never owned: the id is stable across revisions and is
// the identity for everything stored locally.
type RemoteFile struct {
	ID           string
	Name         string
	MimeType     string
	WebViewLink  string
	ModifiedTime string
	CreatedTime  string
	Trashed      bool
}

// ChunkMetadata is stored alongside each chunk in the documents table.
// FileContents carries the base64-encoded raw bytes for image files only.
type ChunkMetadata struct {
	FileID       string `json:"file_id"`
	FileURL      string `json:"file_url"`
	FileTitle    string `json:"file_title"`
	MimeType     string `json:"mime_type"`
	ChunkIndex   int    `json:"chunk_index"`
	FileContents string `json:"file_contents,omitempty"`
}

// DocumentChunk is one embeddable unit of a document. All chunks sharing a
// FileID form a contiguous chunk_index range 0..N-1, enforced by deleting
// every row for the file before re-inserting.
type DocumentChunk struct {
	Content   string
	Embedding []float32
	Metadata  ChunkMetadata
}

// FileMetadata is the one-per-file record in document_metadata. Schema holds
// the ordered column names for tabular sources.
type FileMetadata struct {
	ID     string
	Title  string
	URL    string
	Schema []string
}

// TabularRow is one row extracted from a spreadsheet-like source.
type TabularRow map[string]interface{}

// SearchResult is a similarity search hit.
type SearchResult struct {
	Content    string                 `json:"content"`
	Similarity float32                `json:"similarity"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// SyncStats are the aggregate counts reported by a reconciliation run.
type SyncStats struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Cleaned   int `json:"cleaned"`
	Errors    int `json:"errors"`
}

// SyncStatus is a snapshot of the reconciler for the status endpoint.
type SyncStatus struct {
	Running    bool      `json:"running"`
	FolderID   string    `json:"folder_id"`
	KnownFiles int       `json:"known_files"`
	LastCheck  time.Time `json:"last_check"`
}
