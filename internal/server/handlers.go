package server

import (
	"errors"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jlelli/rt-audit/internal/history"
	"github.com/jlelli/rt-audit/internal/report"
	"github.com/jlelli/rt-audit/internal/rtapp"
	"github.com/jlelli/rt-audit/internal/taskset"
)

// Version is reported by the health endpoint.
var Version = "dev"

const defaultListLimit = 20

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Store     string `json:"store"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	store := "disabled"
	if s.store != nil {
		store = "sqlite"
	}
	respondOK(w, reqID, healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Store:     store,
	})
}

// handleAnalyze accepts an rt-app JSON document and returns its report.
// Query parameters: cpus (processor count override), tolerance (condition 2
// equality tolerance), exclude (comma-separated task names to leave out),
// source (label stored with the report).
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	cfg := s.analysis
	q := r.URL.Query()
	if v := q.Get("cpus"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, reqID, http.StatusBadRequest, &APIError{Code: "bad_request", Message: "cpus must be a positive integer"})
			return
		}
		cfg.CPUs = n
	}
	if v := q.Get("tolerance"); v != "" {
		tol, err := strconv.ParseFloat(v, 64)
		if err != nil || tol < 0 {
			respondError(w, reqID, http.StatusBadRequest, &APIError{Code: "bad_request", Message: "tolerance must be a non-negative number"})
			return
		}
		cfg.Tolerance = tol
	}
	if v := q.Get("exclude"); v != "" {
		cfg.Exclude = strings.Split(v, ",")
	}
	source := q.Get("source")
	if source == "" {
		source = "request"
	}

	body := r.Body
	if s.config.MaxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, s.config.MaxBody)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, reqID, http.StatusRequestEntityTooLarge, &APIError{Code: "too_large", Message: err.Error()})
			return
		}
		respondError(w, reqID, http.StatusBadRequest, &APIError{Code: "bad_request", Message: err.Error()})
		return
	}

	rep, err := report.Analyze(data, source, cfg, s.logger.With("request_id", reqID))
	switch {
	case errors.Is(err, rtapp.ErrInvalidJSON):
		respondError(w, reqID, http.StatusBadRequest, &APIError{Code: "invalid_json", Message: err.Error()})
		return
	case errors.Is(err, taskset.ErrInvalidTaskset):
		respondError(w, reqID, http.StatusUnprocessableEntity, &APIError{Code: "invalid_taskset", Message: err.Error()})
		return
	case err != nil:
		s.logger.Error("analysis failed", "request_id", reqID, "error", err)
		respondError(w, reqID, http.StatusInternalServerError, &APIError{Code: "internal", Message: err.Error()})
		return
	}

	if s.store != nil {
		if err := s.store.Save(r.Context(), rep); err != nil {
			s.logger.Error("save report", "request_id", reqID, "id", rep.ID, "error", err)
			respondError(w, reqID, http.StatusInternalServerError, &APIError{Code: "store_failed", Message: "report could not be stored"})
			return
		}
	}
	s.logger.Info("analysed taskset", "request_id", reqID, "id", rep.ID, "verdict", rep.Verdict, "tasks", rep.TaskCount)
	respondOK(w, reqID, rep)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, reqID, http.StatusBadRequest, &APIError{Code: "bad_request", Message: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list reports", "request_id", reqID, "error", err)
		respondError(w, reqID, http.StatusInternalServerError, &APIError{Code: "internal", Message: "could not list reports"})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	respondOK(w, reqID, entries)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}

	id := chi.URLParam(r, "id")
	rep, err := s.store.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		respondError(w, reqID, http.StatusNotFound, &APIError{Code: "not_found", Message: "report " + id + " not found"})
		return
	}
	if err != nil {
		s.logger.Error("get report", "request_id", reqID, "id", id, "error", err)
		respondError(w, reqID, http.StatusInternalServerError, &APIError{Code: "internal", Message: "could not load report"})
		return
	}
	respondOK(w, reqID, rep)
}

func (s *Server) requireStore(w http.ResponseWriter, reqID string) bool {
	if s.store != nil {
		return true
	}
	respondError(w, reqID, http.StatusServiceUnavailable, &APIError{Code: "history_disabled", Message: "report history is not configured"})
	return false
}
