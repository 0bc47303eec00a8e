// Package server exposes the conversion pipeline over HTTP: multipart file
// submission into the queue, ad-hoc conversions through the coordinator, a
// merged-result download, and a websocket event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/inkfold/inkfold/convert"
	"github.com/inkfold/inkfold/coord"
	"github.com/inkfold/inkfold/history"
	"github.com/inkfold/inkfold/notify"
	"github.com/inkfold/inkfold/queue"
	"github.com/inkfold/inkfold/shield"
)

// maxUploadBytes bounds a single multipart submission.
const maxUploadBytes = 128 << 20

// Config holds Server dependencies.
type Config struct {
	Scheduler   *queue.Scheduler   // required
	Coordinator *coord.Coordinator // required
	Bus         *notify.Bus        // required, backs GET /events
	Hub         *Hub               // optional, required for GET /ws
	History     *history.Log       // optional, backs GET /history
	UploadDir   string             // where multipart uploads land
	AuthUser    string             // optional Basic Auth user
	AuthHash    string             // bcrypt hash of the Basic Auth password

	// RateLimits maps "METHOD /path" to a per-IP limit. Nil disables limiting.
	RateLimits map[string]shield.RateLimitConfig

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.UploadDir == "" {
		c.UploadDir = "uploads"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Server is the HTTP surface.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
}

// New creates a Server.
func New(cfg Config) *Server {
	cfg.defaults()
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	for _, mw := range shield.DefaultAPIStack(s.cfg.RateLimits) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if s.cfg.AuthUser != "" && s.cfg.AuthHash != "" {
			r.Use(s.basicAuth)
		}

		r.Post("/files", s.handleAddFiles)
		r.Post("/process", s.handleProcess)
		r.Post("/files/{id}/retry", s.handleRetry)
		r.Delete("/files/{id}", s.handleRemove)
		r.Get("/queue", s.handleQueue)
		r.Delete("/queue", s.handleClearQueue)
		r.Get("/stats", s.handleStats)
		r.Get("/result", s.handleResult)
		r.Get("/events", s.handleEvents)

		r.Post("/convert", s.handleConvert)
		r.Get("/tasks", s.handleTasks)
		r.Delete("/tasks/{id}", s.handleCancelTask)

		if s.cfg.History != nil {
			r.Get("/history", s.handleHistory)
		}
		if s.cfg.Hub != nil {
			r.Get("/ws", s.handleWS)
		}
	})

	return r
}

// basicAuth enforces HTTP Basic Auth against the configured bcrypt hash.
func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.cfg.AuthUser ||
			bcrypt.CompareHashAndPassword([]byte(s.cfg.AuthHash), []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="inkfold"`)
			writeJSON(w, 401, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleAddFiles accepts a multipart form ("files" field, repeatable), saves
// each part under UploadDir, and enqueues them.
func (s *Server) handleAddFiles(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, 400, fmt.Errorf("parse multipart: %w", err))
		return
	}
	parts := r.MultipartForm.File["files"]
	if len(parts) == 0 {
		writeError(w, 400, errors.New("no files submitted"))
		return
	}
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		writeError(w, 500, err)
		return
	}

	inputs := make([]convert.Input, 0, len(parts))
	for _, fh := range parts {
		name := filepath.Base(fh.Filename)
		dst := filepath.Join(s.cfg.UploadDir,
			fmt.Sprintf("%d-%s", time.Now().UnixNano(), name))
		if err := savePart(fh, dst); err != nil {
			writeError(w, 500, fmt.Errorf("save %s: %w", name, err))
			return
		}
		inputs = append(inputs, convert.Input{
			Name:      name,
			Path:      dst,
			MIME:      fh.Header.Get("Content-Type"),
			SizeBytes: fh.Size,
		})
	}

	jobs := s.cfg.Scheduler.AddFiles(r.Context(), inputs)
	writeJSON(w, 201, jobs)
}

func savePart(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, src)
	return err
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	go s.cfg.Scheduler.StartProcessing(context.WithoutCancel(r.Context()))
	writeJSON(w, 202, map[string]string{"status": "processing"})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.cfg.Scheduler.RetryFile(r.Context(), id); err != nil {
		writeError(w, queueErrStatus(err), err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "retrying", "id": id})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.cfg.Scheduler.RemoveFile(id); err != nil {
		writeError(w, queueErrStatus(err), err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "removed", "id": id})
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, 200, s.cfg.Scheduler.Jobs())
}

func (s *Server) handleClearQueue(w http.ResponseWriter, _ *http.Request) {
	s.cfg.Scheduler.ClearQueue()
	writeJSON(w, 200, map[string]string{"status": "cleared"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, 200, map[string]any{
		"queue":            s.cfg.Scheduler.Stats(),
		"overall_progress": s.cfg.Scheduler.OverallProgress(),
		"coordinator":      s.cfg.Coordinator.Status(),
	})
}

// handleResult serves the merged Markdown of all completed jobs.
func (s *Server) handleResult(w http.ResponseWriter, _ *http.Request) {
	results := s.cfg.Scheduler.Results()
	if len(results) == 0 {
		writeError(w, 404, errors.New("no completed conversions"))
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(200)
	io.WriteString(w, coord.MergeResults(results))
}

// handleEvents returns events newer than ?since=N for polling clients.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	events := s.cfg.Bus.Since(since)
	if events == nil {
		events = []notify.Event{}
	}
	writeJSON(w, 200, events)
}

// handleConvert runs one ad-hoc conversion through the coordinator and
// returns the Markdown result synchronously.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"name"`
		Path      string `json:"path"`
		MIME      string `json:"mime"`
		SizeBytes int64  `json:"size_bytes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	if req.SizeBytes == 0 && req.Path != "" {
		if fi, err := os.Stat(req.Path); err == nil {
			req.SizeBytes = fi.Size()
		}
	}

	res, err := s.cfg.Coordinator.ConvertFile(r.Context(), convert.Input{
		Name: req.Name, Path: req.Path, MIME: req.MIME, SizeBytes: req.SizeBytes,
	}, coord.Options{})
	if err != nil {
		switch {
		case errors.Is(err, coord.ErrQueueFull):
			writeError(w, 429, err)
		case errors.Is(err, convert.ErrUnsupported),
			errors.Is(err, convert.ErrEmptyFile),
			errors.Is(err, convert.ErrSizeExceeded):
			writeError(w, 415, err)
		case errors.Is(err, coord.ErrCancelled):
			writeError(w, 409, err)
		default:
			writeError(w, 500, err)
		}
		return
	}
	writeJSON(w, 200, res)
}

func (s *Server) handleTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, 200, map[string]any{
		"status": s.cfg.Coordinator.Status(),
		"tasks":  s.cfg.Coordinator.Tasks(),
	})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.cfg.Coordinator.Cancel(id); err != nil {
		writeError(w, 404, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "cancelled", "id": id})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	entries, err := s.cfg.History.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, 200, entries)
}

// handleWS upgrades to a websocket and streams events. A ?since=N backlog is
// replayed from the bus before live events arrive.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Logger.Warn("ws upgrade failed", "error", err)
		return
	}

	if raw := r.URL.Query().Get("since"); raw != "" {
		since, _ := strconv.ParseInt(raw, 10, 64)
		for _, e := range s.cfg.Bus.Since(since) {
			if err := conn.WriteJSON(e); err != nil {
				conn.Close()
				return
			}
		}
	}
	s.cfg.Hub.Register(conn)
}

// --- Helpers ---

func queueErrStatus(err error) int {
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		return 404
	case errors.Is(err, queue.ErrNotRetryable), errors.Is(err, queue.ErrNotRemovable):
		return 409
	default:
		return 500
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
