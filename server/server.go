// Package server exposes the sync pipeline over HTTP: control endpoints for
// the watcher, a similarity search endpoint, and a WebSocket feed of sync
// events.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xhad/ragsync/internal/types"
	"github.com/xhad/ragsync/pkg/syncer"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is the envelope sent to WebSocket clients.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type Config struct {
	Port        int
	SearchLimit int
}

type Server struct {
	config   Config
	syncer   *syncer.Syncer
	store    types.VectorStore
	embedder types.Embedder
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func NewWithConfig(config Config, sc *syncer.Syncer, store types.VectorStore, embedder types.Embedder) *Server {
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.SearchLimit <= 0 {
		config.SearchLimit = 5
	}
	return &Server{
		config:   config,
		syncer:   sc,
		store:    store,
		embedder: embedder,
		logger:   slog.Default().With("component", "server"),
		clients:  make(map[*websocket.Conn]bool),
	}
}

// Handler builds the route table. Exposed separately so tests can drive the
// server without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/cleanup", s.handleCleanup)
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/file", s.handleFile)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// ListenAndServe blocks until the context is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("listening", "port", s.config.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Broadcast fans a sync event out to every connected WebSocket client. Wire
// it into SyncerConfig.OnEvent.
func (s *Server) Broadcast(event, message string) {
	msg := Message{Type: event, Content: message}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Warn("dropping client", "err", err)
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.syncer.Status())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.syncer.LastStats())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	// The watcher outlives the request.
	if err := s.syncer.Start(context.Background()); err != nil {
		if err == syncer.ErrAlreadyRunning {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	s.syncer.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	cleaned, errs := s.syncer.CleanupTrashed(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"cleaned": cleaned, "errors": errs})
}

type searchRequest struct {
	Query  string `json:"query"`
	Limit  int    `json:"limit,omitempty"`
	FileID string `json:"file_id,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = s.config.SearchLimit
	}

	embeddings, err := s.embedder.CreateEmbedding(r.Context(), []string{req.Query})
	if err != nil || len(embeddings) == 0 {
		s.logger.Error("failed to embed query", "err", err)
		writeError(w, http.StatusBadGateway, "failed to embed query")
		return
	}

	var filter map[string]interface{}
	if req.FileID != "" {
		filter = map[string]interface{}{"file_id": req.FileID}
	}

	results, err := s.store.SearchSimilar(r.Context(), embeddings[0], req.Limit, filter)
	if err != nil {
		s.logger.Error("search failed", "err", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// handleFile reassembles a stored document from its chunks.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("id")
	if fileID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	exists, err := s.store.HasFile(r.Context(), fileID)
	if err != nil {
		s.logger.Error("failed to check file", "id", fileID, "err", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	content, err := s.store.FileContent(r.Context(), fileID)
	if err != nil {
		s.logger.Error("failed to read file content", "id", fileID, "err", err)
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file_id": fileID, "content": content})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	// Reads only keep the connection alive; clients are write-only consumers.
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.clients, conn)
			s.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
