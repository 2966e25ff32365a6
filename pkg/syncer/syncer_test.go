package syncer_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/ragsync/internal/models"
	"github.com/xhad/ragsync/pkg/syncer"
)

type fakeSource struct {
	mu      sync.Mutex
	all     []models.RemoteFile
	changed []models.RemoteFile
	trashed []models.RemoteFile
	content map[string][]byte

	downloadErr error
}

func (f *fakeSource) ListAll(ctx context.Context, folderID string) ([]models.RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RemoteFile(nil), f.all...), nil
}

func (f *fakeSource) ListChanged(ctx context.Context, folderID string, since time.Time) ([]models.RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RemoteFile(nil), f.changed...), nil
}

func (f *fakeSource) ListTrashed(ctx context.Context, folderID string) ([]models.RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RemoteFile(nil), f.trashed...), nil
}

func (f *fakeSource) Download(ctx context.Context, file models.RemoteFile) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.content[file.ID], nil
}

type fakeStore struct {
	mu       sync.Mutex
	metadata map[string]models.FileMetadata
	chunks   map[string][]models.DocumentChunk
	rows     map[string][]models.TabularRow
	deletes  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		metadata: make(map[string]models.FileMetadata),
		chunks:   make(map[string][]models.DocumentChunk),
		rows:     make(map[string][]models.TabularRow),
	}
}

func (f *fakeStore) UpsertMetadata(ctx context.Context, meta models.FileMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadata[meta.ID] = meta
	return nil
}

func (f *fakeStore) InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range chunks {
		f.chunks[c.Metadata.FileID] = append(f.chunks[c.Metadata.FileID], c)
	}
	return nil
}

func (f *fakeStore) ReplaceRows(ctx context.Context, fileID string, rows []models.TabularRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[fileID] = rows
	return nil
}

func (f *fakeStore) DeleteFile(ctx context.Context, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, fileID)
	delete(f.metadata, fileID)
	delete(f.chunks, fileID)
	delete(f.rows, fileID)
	return nil
}

func (f *fakeStore) HasFile(ctx context.Context, fileID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chunks[fileID]) > 0 {
		return true, nil
	}
	_, ok := f.metadata[fileID]
	return ok, nil
}

func (f *fakeStore) SearchSimilar(ctx context.Context, embedding []float32, limit int, filter map[string]interface{}) ([]models.SearchResult, error) {
	return nil, nil
}

func (f *fakeStore) FileContent(ctx context.Context, fileID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var parts []string
	for _, c := range f.chunks[fileID] {
		parts = append(parts, c.Content)
	}
	return strings.Join(parts, " "), nil
}

func (f *fakeStore) Close() {}

func (f *fakeStore) chunksFor(fileID string) []models.DocumentChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.DocumentChunk(nil), f.chunks[fileID]...)
}

func (f *fakeStore) metadataFor(fileID string) (models.FileMetadata, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.metadata[fileID]
	return meta, ok
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, []float32{float32(len(t)), 1, 0})
	}
	return out, nil
}

func newTestSyncer(source *fakeSource, store *fakeStore, embedder *fakeEmbedder) *syncer.Syncer {
	return syncer.NewWithConfig(syncer.SyncerConfig{
		FolderID:     "folder1",
		ChunkSize:    400,
		ChunkOverlap: 0,
	}, source, store, embedder)
}

func textFile(id, name string) models.RemoteFile {
	return models.RemoteFile{
		ID:           id,
		Name:         name,
		MimeType:     "text/plain",
		WebViewLink:  "https://drive.example.com/" + id,
		ModifiedTime: "2024-03-01T00:00:00Z",
	}
}

func TestInitialSyncProcessesPlainText(t *testing.T) {
	file := textFile("file1", "notes.txt")
	source := &fakeSource{
		all:     []models.RemoteFile{file},
		content: map[string][]byte{"file1": []byte(strings.Repeat("a", 850))},
	}
	store := newFakeStore()
	s := newTestSyncer(source, store, &fakeEmbedder{})

	stats, err := s.InitialSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.SyncStats{Processed: 1}, stats)

	chunks := store.chunksFor("file1")
	require.Len(t, chunks, 3)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Metadata.ChunkIndex)
		assert.Equal(t, "file1", chunk.Metadata.FileID)
		assert.NotEmpty(t, chunk.Embedding)
	}
	assert.Len(t, chunks[0].Content, 400)
	assert.Len(t, chunks[2].Content, 50)

	meta, ok := store.metadataFor("file1")
	require.True(t, ok)
	assert.Equal(t, "notes.txt", meta.Title)
	assert.Equal(t, "https://drive.example.com/file1", meta.URL)

	assert.Equal(t, 1, s.Status().KnownFiles)
}

func TestInitialSyncRequiresFolder(t *testing.T) {
	s := syncer.NewWithConfig(syncer.SyncerConfig{},
		&fakeSource{}, newFakeStore(), &fakeEmbedder{})

	_, err := s.InitialSync(context.Background())
	assert.ErrorIs(t, err, syncer.ErrMissingFolderID)
}

func TestInitialSyncSkipsStoredFiles(t *testing.T) {
	file := textFile("file1", "notes.txt")
	source := &fakeSource{
		all:     []models.RemoteFile{file},
		content: map[string][]byte{"file1": []byte("already stored content")},
	}
	store := newFakeStore()
	store.metadata["file1"] = models.FileMetadata{ID: "file1"}

	s := newTestSyncer(source, store, &fakeEmbedder{})

	stats, err := s.InitialSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.SyncStats{Skipped: 1}, stats)
	assert.Empty(t, store.chunksFor("file1"))
}

func TestInitialSyncForceReprocesses(t *testing.T) {
	file := textFile("file1", "notes.txt")
	source := &fakeSource{
		all:     []models.RemoteFile{file},
		content: map[string][]byte{"file1": []byte("fresh content after force")},
	}
	store := newFakeStore()
	store.metadata["file1"] = models.FileMetadata{ID: "file1", Title: "stale"}

	s := syncer.NewWithConfig(syncer.SyncerConfig{FolderID: "folder1", Force: true},
		source, store, &fakeEmbedder{})

	stats, err := s.InitialSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Processed)
	meta, _ := store.metadataFor("file1")
	assert.Equal(t, "notes.txt", meta.Title)
}

func TestInitialSyncCleansTrashedBeforeProcessing(t *testing.T) {
	trashed := textFile("gone", "old.txt")
	trashed.Trashed = true
	active := textFile("file1", "new.txt")

	source := &fakeSource{
		all:     []models.RemoteFile{active, trashed},
		content: map[string][]byte{"file1": []byte("hello from the new file")},
	}
	store := newFakeStore()
	store.metadata["gone"] = models.FileMetadata{ID: "gone"}

	s := newTestSyncer(source, store, &fakeEmbedder{})

	stats, err := s.InitialSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Cleaned)
	assert.Equal(t, 1, stats.Processed)
	_, ok := store.metadataFor("gone")
	assert.False(t, ok)
	// The trashed file was deleted before the active one was written.
	require.NotEmpty(t, store.deletes)
	assert.Equal(t, "gone", store.deletes[0])
}

func TestInitialSyncEmitsEvents(t *testing.T) {
	trashed := textFile("gone", "old.txt")
	trashed.Trashed = true
	active := textFile("file1", "new.txt")

	source := &fakeSource{
		all:     []models.RemoteFile{active, trashed},
		content: map[string][]byte{"file1": []byte("hello from the new file")},
	}
	store := newFakeStore()
	store.metadata["gone"] = models.FileMetadata{ID: "gone"}

	s := newTestSyncer(source, store, &fakeEmbedder{})

	var events []string
	s.SetOnEvent(func(event, message string) {
		events = append(events, event+" "+message)
	})

	_, err := s.InitialSync(context.Background())
	require.NoError(t, err)

	assert.Contains(t, events, "cleaned old.txt")
	assert.Contains(t, events, "processed new.txt")
}

func TestFullReplaceOnReprocess(t *testing.T) {
	file := textFile("file1", "notes.txt")
	source := &fakeSource{
		all:     []models.RemoteFile{file},
		content: map[string][]byte{"file1": []byte(strings.Repeat("first version ", 40))},
	}
	store := newFakeStore()
	s := syncer.NewWithConfig(syncer.SyncerConfig{FolderID: "folder1", Force: true},
		source, store, &fakeEmbedder{})

	_, err := s.InitialSync(context.Background())
	require.NoError(t, err)
	firstCount := len(store.chunksFor("file1"))
	require.Greater(t, firstCount, 0)

	// Remote content changes; reprocessing must leave only the second run's
	// chunks, never a union of both.
	source.mu.Lock()
	source.content["file1"] = []byte("short second version")
	source.mu.Unlock()

	_, err = s.InitialSync(context.Background())
	require.NoError(t, err)

	chunks := store.chunksFor("file1")
	require.Len(t, chunks, 1)
	assert.Equal(t, "short second version", chunks[0].Content)
}

func TestTrashedFileCleanup(t *testing.T) {
	file := textFile("file1", "notes.txt")
	source := &fakeSource{
		all:     []models.RemoteFile{file},
		content: map[string][]byte{"file1": []byte("some indexed content here")},
	}
	store := newFakeStore()
	s := newTestSyncer(source, store, &fakeEmbedder{})

	_, err := s.InitialSync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, s.Status().KnownFiles)

	source.mu.Lock()
	source.trashed = []models.RemoteFile{{ID: "file1", Name: "notes.txt", MimeType: "text/plain", Trashed: true}}
	source.mu.Unlock()

	cleaned, errs := s.CleanupTrashed(context.Background())
	assert.Equal(t, 1, cleaned)
	assert.Equal(t, 0, errs)

	assert.Empty(t, store.chunksFor("file1"))
	_, ok := store.metadataFor("file1")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Status().KnownFiles)

	// Re-running on an already-cleaned id is a no-op.
	cleaned, errs = s.CleanupTrashed(context.Background())
	assert.Equal(t, 0, cleaned)
	assert.Equal(t, 0, errs)
}

func TestInitialSyncSkipsUnsupportedTypes(t *testing.T) {
	video := models.RemoteFile{ID: "v1", Name: "clip.mp4", MimeType: "video/mp4"}
	source := &fakeSource{all: []models.RemoteFile{video}}
	store := newFakeStore()
	s := newTestSyncer(source, store, &fakeEmbedder{})

	stats, err := s.InitialSync(context.Background())
	require.NoError(t, err)

	// Unsupported types never touch storage and are not counted as errors.
	assert.Equal(t, models.SyncStats{}, stats)
	assert.Empty(t, store.deletes)
}

func TestProcessFileFailureCounted(t *testing.T) {
	file := textFile("file1", "notes.txt")
	source := &fakeSource{
		all:         []models.RemoteFile{file},
		downloadErr: errors.New("network down"),
	}
	store := newFakeStore()
	s := newTestSyncer(source, store, &fakeEmbedder{})

	stats, err := s.InitialSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.SyncStats{Errors: 1}, stats)
}

func TestEmptyExtractionFails(t *testing.T) {
	file := textFile("file1", "empty.txt")
	source := &fakeSource{
		all:     []models.RemoteFile{file},
		content: map[string][]byte{"file1": []byte("   \x00  ")},
	}
	store := newFakeStore()
	s := newTestSyncer(source, store, &fakeEmbedder{})

	stats, err := s.InitialSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.SyncStats{Errors: 1}, stats)
	assert.Empty(t, store.chunksFor("file1"))
}

func TestEmbedderFailureCounted(t *testing.T) {
	file := textFile("file1", "notes.txt")
	source := &fakeSource{
		all:     []models.RemoteFile{file},
		content: map[string][]byte{"file1": []byte("content that should embed")},
	}
	store := newFakeStore()
	s := newTestSyncer(source, store, &fakeEmbedder{err: errors.New("provider down")})

	stats, err := s.InitialSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.SyncStats{Errors: 1}, stats)
	// The metadata row may remain; the next successful run replaces it.
	assert.Empty(t, store.chunksFor("file1"))
}

func TestTabularFileStoresRows(t *testing.T) {
	sheet := models.RemoteFile{
		ID:       "sheet1",
		Name:     "people",
		MimeType: "application/vnd.google-apps.spreadsheet",
	}
	source := &fakeSource{
		all:     []models.RemoteFile{sheet},
		content: map[string][]byte{"sheet1": []byte("name,role\nalice,dev\nbob,ops\n")},
	}
	store := newFakeStore()
	s := newTestSyncer(source, store, &fakeEmbedder{})

	stats, err := s.InitialSync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Processed)

	meta, ok := store.metadataFor("sheet1")
	require.True(t, ok)
	assert.Equal(t, []string{"name", "role"}, meta.Schema)

	store.mu.Lock()
	rows := store.rows["sheet1"]
	store.mu.Unlock()
	require.Len(t, rows, 2)
	assert.Equal(t, "alice", rows[0]["name"])
}

func TestImageFileKeepsRawBytes(t *testing.T) {
	image := models.RemoteFile{
		ID:       "img1",
		Name:     "diagram-with-a-reasonably-long-filename.png",
		MimeType: "image/png",
	}
	source := &fakeSource{
		all:     []models.RemoteFile{image},
		content: map[string][]byte{"img1": {0x89, 0x50, 0x4e, 0x47}},
	}
	store := newFakeStore()
	s := newTestSyncer(source, store, &fakeEmbedder{})

	stats, err := s.InitialSync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Processed)

	chunks := store.chunksFor("img1")
	require.Len(t, chunks, 1)
	assert.Equal(t, image.Name, chunks[0].Content)
	assert.NotEmpty(t, chunks[0].Metadata.FileContents)
}

func TestPollingHandlesChangedFiles(t *testing.T) {
	file := textFile("file1", "notes.txt")
	source := &fakeSource{
		changed: []models.RemoteFile{file},
		content: map[string][]byte{"file1": []byte("changed file content")},
	}
	store := newFakeStore()
	s := syncer.NewWithConfig(syncer.SyncerConfig{
		FolderID:     "folder1",
		PollInterval: 10 * time.Millisecond,
	}, source, store, &fakeEmbedder{})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return len(store.chunksFor("file1")) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPollingAccumulatesCycleStats(t *testing.T) {
	good := textFile("file1", "notes.txt")
	bad := textFile("file2", "empty.txt")
	source := &fakeSource{
		changed: []models.RemoteFile{good, bad},
		// file2 has no content, so its extraction fails every cycle.
		content: map[string][]byte{"file1": []byte("changed file content")},
	}
	store := newFakeStore()
	s := syncer.NewWithConfig(syncer.SyncerConfig{
		FolderID:     "folder1",
		PollInterval: 10 * time.Millisecond,
	}, source, store, &fakeEmbedder{})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		stats := s.LastStats()
		return stats.Processed >= 1 && stats.Errors >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartIsIdempotent(t *testing.T) {
	source := &fakeSource{}
	s := syncer.NewWithConfig(syncer.SyncerConfig{
		FolderID:     "folder1",
		PollInterval: time.Hour,
	}, source, newFakeStore(), &fakeEmbedder{})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, s.Running, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Start(context.Background()), syncer.ErrAlreadyRunning)
}

func TestStopCancelsPromptly(t *testing.T) {
	source := &fakeSource{}
	s := syncer.NewWithConfig(syncer.SyncerConfig{
		FolderID:     "folder1",
		PollInterval: time.Hour, // must not wait for the interval to elapse
	}, source, newFakeStore(), &fakeEmbedder{})

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, s.Running, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.Eventually(t, func() bool { return !s.Running() },
		time.Second, 5*time.Millisecond)
}
