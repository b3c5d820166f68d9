// Package server exposes the upload/status HTTP surface in front of the
// extraction pipeline.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/fatura-ai/invoice-extractor/constants"
	"github.com/fatura-ai/invoice-extractor/internal/async"
	"github.com/fatura-ai/invoice-extractor/internal/common"
	"github.com/fatura-ai/invoice-extractor/internal/export"
	"github.com/fatura-ai/invoice-extractor/internal/repository"
)

const maxUploadBytes = 32 << 20 // 32MB

// Server wires the HTTP API to the queue and the job store.
type Server struct {
	dataDir string
	queue   async.Queue
	jobs    repository.JobRepository
	export  *export.Service
	logger  *slog.Logger
}

func New(dataDir string, queue async.Queue, jobs repository.JobRepository, exp *export.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{dataDir: dataDir, queue: queue, jobs: jobs, export: exp, logger: logger}
}

// Router builds the chi router for the API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/invoices", s.handleCreate)
	r.Get("/invoices/{jobID}", s.handleGet)
	r.Delete("/invoices/{jobID}", s.handleDelete)
	r.Get("/exports/invoices.xlsx", s.handleExport)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing file field: %w", err))
		return
	}
	defer func() {
		_ = file.Close()
	}()

	ext := constants.NormalizeExt(filepath.Ext(header.Filename))
	if _, ok := constants.AllowedExtensions[ext]; !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported file type %q", ext))
		return
	}

	jobID := uuid.New()
	path := filepath.Join(s.dataDir, jobID.String()+"."+ext)
	dst, err := os.Create(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("store upload: %w", err))
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("store upload: %w", err))
		return
	}
	if err := dst.Close(); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("store upload: %w", err))
		return
	}

	if err := s.jobs.Create(r.Context(), repository.Job{
		ID:       jobID,
		FilePath: path,
		Status:   constants.JobStatusQueued,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.queue.Enqueue(r.Context(), async.Job{
		ID:          jobID,
		FilePath:    path,
		SubmittedAt: time.Now(),
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":  jobID.String(),
		"message": "invoice queued for processing",
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid job id: %w", err))
		return
	}

	job, err := s.jobs.Get(r.Context(), jobID)
	if errors.Is(err, common.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := map[string]any{
		"job_id": job.ID.String(),
		"state":  string(job.Status),
	}
	if len(job.Result) > 0 {
		resp["result"] = json.RawMessage(job.Result)
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid job id: %w", err))
		return
	}

	job, err := s.jobs.Get(r.Context(), jobID)
	if errors.Is(err, common.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := os.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove uploaded file", "job_id", jobID, "error", err)
	}
	if err := s.jobs.Delete(r.Context(), jobID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "job_id": jobID.String()})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.export.ExportXLSX(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="invoices.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
