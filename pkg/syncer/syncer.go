// Package syncer reconciles a watched Google Drive folder with the vector
// store: it classifies remote changes, drives the extract→chunk→embed
// pipeline for active files and cleans up trashed ones. Failures are
// contained at the per-file boundary; a bad file never kills a cycle and a
// bad cycle never kills the polling loop.
package syncer

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/xhad/ragsync/internal/models"
	"github.com/xhad/ragsync/internal/types"
	"github.com/xhad/ragsync/pkg/extractor"
	"github.com/xhad/ragsync/pkg/processor"
)

const (
	// DefaultPollInterval between change checks.
	DefaultPollInterval = 5 * time.Minute

	// defaultCleanupChance is the per-cycle probability of an out-of-band
	// trashed-file sweep. Trashing a file does not bump its modifiedTime, so
	// the timestamp query alone would miss it; the sweep bounds how stale
	// such deletions can get.
	defaultCleanupChance = 0.2
)

type SyncerConfig struct {
	FolderID      string
	PollInterval  time.Duration
	ChunkSize     int
	ChunkOverlap  int
	CleanupChance float64
	// Force reprocesses files already present in storage during a bulk sync.
	Force bool
	// OnEvent, when set, observes sync activity (processed, skipped,
	// cleaned, failed, cycle). Called from the syncer's own goroutine.
	OnEvent func(event, message string)
}

type Syncer struct {
	config   SyncerConfig
	source   types.Source
	store    types.VectorStore
	embedder types.Embedder
	logger   *slog.Logger

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	initialized bool
	knownFiles  map[string]string
	lastCheck   time.Time
	lastStats   models.SyncStats
}

func NewWithConfig(config SyncerConfig, source types.Source, store types.VectorStore, embedder types.Embedder) *Syncer {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = processor.DefaultChunkSize
	}
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = processor.DefaultChunkOverlap
	}
	if config.CleanupChance <= 0 {
		config.CleanupChance = defaultCleanupChance
	}

	return &Syncer{
		config:     config,
		source:     source,
		store:      store,
		embedder:   embedder,
		logger:     slog.Default().With("component", "syncer"),
		knownFiles: make(map[string]string),
		// Start from epoch so the first poll sees everything.
		lastCheck: time.Unix(0, 0).UTC(),
	}
}

// InitialSync reconciles the entire watched folder with the store: trashed
// files still present in storage are cleaned up first, then active supported
// files are processed, skipping ones already stored unless Force is set.
func (s *Syncer) InitialSync(ctx context.Context) (models.SyncStats, error) {
	var stats models.SyncStats

	if s.config.FolderID == "" {
		return stats, ErrMissingFolderID
	}

	s.logger.Info("starting bulk sync", "folder", s.config.FolderID)

	files, err := s.source.ListAll(ctx, s.config.FolderID)
	if err != nil {
		stats.Errors++
		s.setStats(stats)
		return stats, fmt.Errorf("failed to list folder: %w", err)
	}

	var toProcess, toCleanup []models.RemoteFile
	for _, file := range files {
		if !extractor.IsSupported(file.MimeType) {
			continue
		}
		if file.Trashed {
			exists, err := s.store.HasFile(ctx, file.ID)
			if err != nil {
				s.logger.Error("failed to check file", "id", file.ID, "err", err)
				stats.Errors++
				continue
			}
			if exists {
				toCleanup = append(toCleanup, file)
			}
			continue
		}
		toProcess = append(toProcess, file)
	}

	s.logger.Info("bulk sync inventory",
		"process", len(toProcess), "cleanup", len(toCleanup))

	// Cleanup runs before processing so a file id that was both re-created
	// and trashed cannot leave stale chunks behind.
	for _, file := range toCleanup {
		if err := s.removeFile(ctx, file.ID); err != nil {
			s.logger.Error("failed to clean up file", "id", file.ID, "err", err)
			stats.Errors++
			continue
		}
		stats.Cleaned++
		s.emit("cleaned", file.Name)
	}

	for _, file := range toProcess {
		if !s.config.Force {
			exists, err := s.store.HasFile(ctx, file.ID)
			if err != nil {
				s.logger.Error("failed to check file", "id", file.ID, "err", err)
				stats.Errors++
				continue
			}
			if exists {
				s.rememberFile(file)
				stats.Skipped++
				s.emit("skipped", file.Name)
				continue
			}
		}

		if err := s.processFile(ctx, file); err != nil {
			s.logger.Error("failed to process file",
				"id", file.ID, "name", file.Name, "err", err)
			stats.Errors++
			s.emit("failed", file.Name)
			continue
		}
		stats.Processed++
		s.emit("processed", file.Name)
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	s.setStats(stats)

	s.logger.Info("bulk sync complete",
		"processed", stats.Processed, "skipped", stats.Skipped,
		"cleaned", stats.Cleaned, "errors", stats.Errors)

	return stats, nil
}

// Start launches the polling loop in the background. A second Start while
// running is rejected; Stop cancels the loop at the next sleep boundary.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
		s.watch(runCtx)
	}()

	return nil
}

// Stop cancels the polling loop. Safe to call when not running.
func (s *Syncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Running reports whether the polling loop is active.
func (s *Syncer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns a snapshot for the status endpoint.
func (s *Syncer) Status() models.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SyncStatus{
		Running:    s.running,
		FolderID:   s.config.FolderID,
		KnownFiles: len(s.knownFiles),
		LastCheck:  s.lastCheck,
	}
}

// LastStats returns the accumulated stats: the most recent bulk sync plus
// every incremental cycle since.
func (s *Syncer) LastStats() models.SyncStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStats
}

func (s *Syncer) watch(ctx context.Context) {
	s.mu.Lock()
	initialized := s.initialized
	s.mu.Unlock()

	if !initialized {
		if _, err := s.InitialSync(ctx); err != nil {
			s.logger.Error("initial sync failed", "err", err)
			if err == ErrMissingFolderID {
				return
			}
		}
	}

	s.logger.Info("watching for changes",
		"folder", s.config.FolderID, "interval", s.config.PollInterval)

	timer := time.NewTimer(s.config.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("watcher stopped")
			return
		case <-timer.C:
		}

		s.pollOnce(ctx)
		timer.Reset(s.config.PollInterval)
	}
}

// pollOnce runs a single incremental cycle. Errors are logged and contained;
// the loop always continues at the next interval. Per-file outcomes fold
// into the running stats.
func (s *Syncer) pollOnce(ctx context.Context) {
	s.mu.Lock()
	since := s.lastCheck
	s.mu.Unlock()

	files, err := s.source.ListChanged(ctx, s.config.FolderID, since)
	if err != nil {
		// Keep lastCheck so the missed window is retried next cycle.
		s.logger.Error("failed to list changes", "err", err)
		return
	}

	s.mu.Lock()
	s.lastCheck = time.Now().UTC()
	s.mu.Unlock()

	var stats models.SyncStats

	if rand.Float64() < s.config.CleanupChance {
		cleaned, errs := s.CleanupTrashed(ctx)
		stats.Cleaned += cleaned
		stats.Errors += errs
		if cleaned > 0 || errs > 0 {
			s.logger.Info("periodic cleanup", "cleaned", cleaned, "errors", errs)
		}
	}

	if len(files) > 0 {
		s.logger.Info("changes detected", "count", len(files))

		for _, file := range files {
			delta, err := s.handleChange(ctx, file)
			if err != nil {
				s.logger.Error("failed to handle change",
					"id", file.ID, "name", file.Name, "err", err)
				s.emit("failed", file.Name)
				stats.Errors++
				continue
			}
			stats.Processed += delta.Processed
			stats.Cleaned += delta.Cleaned
		}
		s.emit("cycle", fmt.Sprintf("handled %d changed files", len(files)))
	}

	s.addStats(stats)
}

// handleChange applies the per-file transition: trashed files are cleaned
// up, unsupported types are skipped silently, everything else runs the full
// pipeline. Returns the stats delta of the outcome.
func (s *Syncer) handleChange(ctx context.Context, file models.RemoteFile) (models.SyncStats, error) {
	var delta models.SyncStats

	if file.Trashed {
		exists, err := s.store.HasFile(ctx, file.ID)
		if err != nil {
			return delta, err
		}
		if !exists {
			return delta, nil
		}
		if err := s.removeFile(ctx, file.ID); err != nil {
			return delta, err
		}
		delta.Cleaned++
		s.emit("cleaned", file.Name)
		return delta, nil
	}

	if !extractor.IsSupported(file.MimeType) {
		s.logger.Debug("skipping unsupported type",
			"name", file.Name, "mime", file.MimeType)
		return delta, nil
	}

	if err := s.processFile(ctx, file); err != nil {
		return delta, err
	}
	delta.Processed++
	s.emit("processed", file.Name)
	return delta, nil
}

// processFile runs the pipeline for one active file: download, extract,
// full-replace into storage. Prior rows are always deleted before new ones
// are inserted; the store is never patched incrementally because chunk_index
// alignment cannot be safely merged.
func (s *Syncer) processFile(ctx context.Context, file models.RemoteFile) error {
	data, err := s.source.Download(ctx, file)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	text := extractor.Extract(data, file.MimeType, file.Name)
	if text == "" {
		return ErrNoContent
	}
	s.logger.Debug("extracted text", "name", file.Name, "chars", len(text))

	if err := s.store.DeleteFile(ctx, file.ID); err != nil {
		return fmt.Errorf("delete existing records: %w", err)
	}

	meta := models.FileMetadata{
		ID:    file.ID,
		Title: file.Name,
		URL:   file.WebViewLink,
	}

	var tabRows []models.TabularRow
	if extractor.IsTabular(file.MimeType) {
		schema, rows, err := extractor.Rows(data)
		if err != nil {
			s.logger.Warn("failed to parse tabular rows",
				"name", file.Name, "err", err)
		} else {
			meta.Schema = schema
			tabRows = rows
		}
	}

	// Metadata goes in first; if a later stage fails the file is left with a
	// metadata row and no chunks until the next successful run replaces it.
	if err := s.store.UpsertMetadata(ctx, meta); err != nil {
		return fmt.Errorf("upsert metadata: %w", err)
	}

	chunks := nonEmptyChunks(processor.Chunk(text, s.config.ChunkSize, s.config.ChunkOverlap))
	if len(chunks) == 0 {
		return ErrNoChunks
	}

	embeddings, err := s.embedder.CreateEmbedding(ctx, chunks)
	if err != nil {
		return fmt.Errorf("create embeddings: %w", err)
	}
	if len(embeddings) == 0 {
		return ErrNoEmbeddings
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedding count %d does not match chunk count %d",
			len(embeddings), len(chunks))
	}

	// Images carry their raw bytes so the stored record is self-contained.
	contents := ""
	if strings.HasPrefix(file.MimeType, "image") {
		contents = base64.StdEncoding.EncodeToString(data)
	}

	records := make([]models.DocumentChunk, 0, len(chunks))
	for i, chunk := range chunks {
		records = append(records, models.DocumentChunk{
			Content:   chunk,
			Embedding: embeddings[i],
			Metadata: models.ChunkMetadata{
				FileID:       file.ID,
				FileURL:      file.WebViewLink,
				FileTitle:    file.Name,
				MimeType:     file.MimeType,
				ChunkIndex:   i,
				FileContents: contents,
			},
		})
	}

	if err := s.store.InsertChunks(ctx, records); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}

	if tabRows != nil {
		if err := s.store.ReplaceRows(ctx, file.ID, tabRows); err != nil {
			return fmt.Errorf("replace rows: %w", err)
		}
	}

	s.rememberFile(file)
	return nil
}

// CleanupTrashed sweeps the watched folder for trashed files that are still
// present in storage and removes them. Idempotent: an already-cleaned id
// contributes nothing to the cleaned count.
func (s *Syncer) CleanupTrashed(ctx context.Context) (cleaned, errs int) {
	files, err := s.source.ListTrashed(ctx, s.config.FolderID)
	if err != nil {
		s.logger.Error("failed to list trashed files", "err", err)
		return 0, 1
	}

	for _, file := range files {
		exists, err := s.store.HasFile(ctx, file.ID)
		if err != nil {
			s.logger.Error("failed to check file", "id", file.ID, "err", err)
			errs++
			continue
		}
		if !exists {
			continue
		}
		if err := s.removeFile(ctx, file.ID); err != nil {
			s.logger.Error("failed to clean up file", "id", file.ID, "err", err)
			errs++
			continue
		}
		cleaned++
		s.emit("cleaned", file.Name)
	}

	return cleaned, errs
}

// removeFile deletes every stored record for the file and forgets it.
func (s *Syncer) removeFile(ctx context.Context, fileID string) error {
	if err := s.store.DeleteFile(ctx, fileID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.knownFiles, fileID)
	s.mu.Unlock()
	return nil
}

func (s *Syncer) rememberFile(file models.RemoteFile) {
	s.mu.Lock()
	s.knownFiles[file.ID] = file.ModifiedTime
	s.mu.Unlock()
}

func (s *Syncer) setStats(stats models.SyncStats) {
	s.mu.Lock()
	s.lastStats = stats
	s.mu.Unlock()
}

func (s *Syncer) addStats(delta models.SyncStats) {
	s.mu.Lock()
	s.lastStats.Processed += delta.Processed
	s.lastStats.Skipped += delta.Skipped
	s.lastStats.Cleaned += delta.Cleaned
	s.lastStats.Errors += delta.Errors
	s.mu.Unlock()
}

// SetOnEvent installs the event observer. Call before Start; events emitted
// while no observer is set are dropped.
func (s *Syncer) SetOnEvent(fn func(event, message string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.OnEvent = fn
}

func (s *Syncer) emit(event, message string) {
	s.mu.Lock()
	fn := s.config.OnEvent
	s.mu.Unlock()
	if fn != nil {
		fn(event, message)
	}
}

func nonEmptyChunks(chunks []string) []string {
	filtered := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if processor.Sanitize(chunk) != "" {
			filtered = append(filtered, chunk)
		}
	}
	return filtered
}
