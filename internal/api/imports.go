package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kylemclaren/slowstock/internal/db"
	"github.com/kylemclaren/slowstock/internal/evidence"
	"github.com/kylemclaren/slowstock/internal/importer"
)

// readUpload returns the "file" part of a multipart request, at most limit
// bytes long.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, limit int64) (string, []byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.errorResponse(w, http.StatusRequestEntityTooLarge, "File too large", err)
			return "", nil, false
		}
		s.errorResponse(w, http.StatusBadRequest, errMissingFile.Error(), err)
		return "", nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Failed to read upload", err)
		return "", nil, false
	}
	if int64(len(data)) > limit {
		s.errorResponse(w, http.StatusRequestEntityTooLarge, "File too large",
			fmt.Errorf("limit is %d bytes", limit))
		return "", nil, false
	}
	return header.Filename, data, true
}

// AddEvidence handles POST /api/v1/tasks/{sku}/evidence (multipart "file",
// optional form field "version")
func (s *Server) AddEvidence(w http.ResponseWriter, r *http.Request) {
	sku, ok := s.skuParam(w, r)
	if !ok {
		return
	}
	name, data, ok := s.readUpload(w, r, evidence.MaxSize)
	if !ok {
		return
	}
	var version int64
	if raw := r.FormValue("version"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid version", err)
			return
		}
		version = v
	}

	t, url, err := s.engine.AddEvidence(r.Context(), sku, version, name, data)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.taskResultWithURL(w, t, url)
}

// UploadSnapshot handles POST /api/v1/imports (multipart "file"). With
// async=1 it answers 202 with the running import; poll /api/v1/imports/{id}.
func (s *Server) UploadSnapshot(w http.ResponseWriter, r *http.Request) {
	name, data, ok := s.readUpload(w, r, importer.MaxFileSize)
	if !ok {
		return
	}
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		run, _, err := s.importer.ImportAsync(r.Context(), name, data)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, "Failed to start import", err)
			return
		}
		s.jsonResponse(w, http.StatusAccepted, ImportResponse{Success: true, Run: run})
		return
	}

	res := s.importer.Import(r.Context(), name, data)
	if res.Error != nil {
		status := http.StatusInternalServerError
		if errors.Is(res.Error, importer.ErrMissingColumns) ||
			errors.Is(res.Error, importer.ErrNoData) ||
			errors.Is(res.Error, importer.ErrUnsupportedFormat) ||
			errors.Is(res.Error, importer.ErrTooLarge) {
			status = http.StatusBadRequest
		}
		s.jsonResponse(w, status, ImportResponse{Run: res.Run, Error: res.Error.Error()})
		return
	}
	s.jsonResponse(w, http.StatusOK, ImportResponse{Success: true, Rows: res.Rows, Run: res.Run})
}

// ListImportRuns handles GET /api/v1/imports
func (s *Server) ListImportRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	runs, err := s.importer.Runs(r.Context(), limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch import runs", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, ImportRunsResponse{Runs: runs, Total: len(runs)})
}

// GetImportRun handles GET /api/v1/imports/{id}
func (s *Server) GetImportRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid run ID", err)
		return
	}
	run, err := s.engine.DB().GetImportRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "Import run not found", err)
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, "Failed to fetch import run", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

// Sweep handles POST /api/v1/sweep
func (s *Server) Sweep(w http.ResponseWriter, r *http.Request) {
	if !s.validSecret(r) {
		s.errorResponse(w, http.StatusUnauthorized, errBadSecret.Error(), nil)
		return
	}
	res, err := s.engine.Sweep(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Sweep failed", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, SweepResponse{Success: true, Archived: res.Archived, SKUs: res.SKUs})
}
