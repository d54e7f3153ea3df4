// Package server serves the dashboard log and the run history over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mslinn/moon_dashboard/pkg/dashboard"
	"github.com/mslinn/moon_dashboard/pkg/database"
	"github.com/mslinn/moon_dashboard/pkg/logging"
)

// Server wraps HTTP serving of the JSON-Lines log and the history API.
type Server struct {
	httpServer   *http.Server
	dataLog      string
	db           *database.DB // nil disables the /api/runs endpoints
	logger       *slog.Logger
	historyLimit int
	pushInterval time.Duration
}

// New creates a configured HTTP server
func New(addr, dataLog string, db *database.DB, logger *slog.Logger) *Server {
	s := &Server{
		dataLog:      dataLog,
		db:           db,
		logger:       logging.OrDiscard(logger),
		historyLimit: 200,
		pushInterval: 30 * time.Second,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	s.logger.Info("serving dashboard", "addr", s.httpServer.Addr, "data_log", s.dataLog)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/data.jsonl", s.handleDataLog)
	r.Get("/api/latest", s.handleLatest)
	r.Get("/api/snapshots", s.handleSnapshots)
	r.Get("/ws/latest", s.handleLatestWS)

	r.Route("/api/runs", func(r chi.Router) {
		r.Use(s.requireDB)
		r.Get("/", s.handleRuns)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleRun)
			r.Get("/cells", s.handleCells)
			r.Get("/stats", s.handleStats)
			r.Get("/compare", s.handleCompare)
			r.Get("/checkouts", s.handleCheckouts)
		})
	})
	return r
}

func (s *Server) handleDataLog(w http.ResponseWriter, r *http.Request) {
	if _, err := os.Stat(s.dataLog); err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	http.ServeFile(w, r, s.dataLog)
}

func (s *Server) snapshots() ([]*dashboard.MoonBuildDashboard, error) {
	return dashboard.ReadLogFile(s.dataLog)
}

func (s *Server) handleLatest(w http.ResponseWriter, _ *http.Request) {
	all, err := s.snapshots()
	if err != nil {
		s.logger.Warn("failed to read data log", "error", err)
		writeError(w, http.StatusInternalServerError, "data log unreadable")
		return
	}
	if len(all) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"snapshot": nil})
		return
	}
	latest := all[len(all)-1]
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot": latest,
		"summary":  latest.Summary(),
	})
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	all, err := s.snapshots()
	if err != nil {
		s.logger.Warn("failed to read data log", "error", err)
		writeError(w, http.StatusInternalServerError, "data log unreadable")
		return
	}
	limit := parseLimit(r, s.historyLimit)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	summaries := make([]dashboard.Summary, 0, len(all))
	for _, d := range all {
		summaries = append(summaries, d.Summary())
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) requireDB(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.db == nil {
			writeError(w, http.StatusServiceUnavailable, "history database not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.db.ListRuns(parseLimit(r, s.historyLimit))
	if err != nil {
		s.logger.Warn("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	out := make([]runView, 0, len(runs))
	for _, run := range runs {
		out = append(out, newRunView(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) runFromPath(w http.ResponseWriter, r *http.Request) (*database.Run, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return nil, false
	}
	run, err := s.db.GetRun(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	return run, true
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFromPath(w, r)
	if !ok {
		return
	}
	toolchains, err := s.db.ListToolchains(run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":        newRunView(run),
		"toolchains": toolchains,
	})
}

func (s *Server) handleCells(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFromPath(w, r)
	if !ok {
		return
	}
	cells, err := s.db.ListCells(run.ID, r.URL.Query().Get("channel"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(cells))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFromPath(w, r)
	if !ok {
		return
	}
	stats, err := s.db.CellStats(run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(stats))
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFromPath(w, r)
	if !ok {
		return
	}
	diffs, err := s.db.CompareChannels(run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if r.URL.Query().Get("changed") == "true" {
		changed := diffs[:0]
		for _, d := range diffs {
			if d.Changed() {
				changed = append(changed, d)
			}
		}
		diffs = changed
	}
	writeJSON(w, http.StatusOK, nonNil(diffs))
}

func (s *Server) handleCheckouts(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFromPath(w, r)
	if !ok {
		return
	}
	cos, err := s.db.ListCheckouts(run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(cos))
}

// runView is the API shape of a run; the snapshot is served by /api/latest
type runView struct {
	ID          int64      `json:"id"`
	RunKey      string     `json:"run_key"`
	RunID       string     `json:"run_id"`
	RunNumber   string     `json:"run_number"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Status      string     `json:"status"`
	Sources     int        `json:"sources"`
	Notes       string     `json:"notes,omitempty"`
}

func newRunView(run *database.Run) runView {
	return runView{
		ID:          run.ID,
		RunKey:      run.RunKey,
		RunID:       run.RunID,
		RunNumber:   run.RunNumber,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Status:      run.Status,
		Sources:     run.Sources,
		Notes:       run.Notes,
	}
}

func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}

func parseLimit(r *http.Request, fallback int) int {
	if fallback <= 0 {
		return fallback
	}
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > fallback {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
