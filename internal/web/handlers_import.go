package web

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/JonMunkholm/auditimport/internal/core"
	"github.com/JonMunkholm/auditimport/internal/logging"
	"github.com/JonMunkholm/auditimport/internal/web/templates"
)

// multipartOverhead is allowed on top of the file size for form fields and
// part headers.
const multipartOverhead = 1 << 20

// handleUpload stores a file and creates an import job.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name, data, err := s.readFormFile(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	target, err := uuid.Parse(r.FormValue("targetAuditId"))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: targetAuditId", core.ErrTargetRequired))
		return
	}

	job, err := s.service.Upload(r.Context(), core.UploadInput{
		FileName:      name,
		Data:          data,
		TargetAuditID: target,
		UploadedBy:    core.ActorFromContext(r.Context()),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/import/"+job.ID+"/status")
	writeJSONStatus(w, http.StatusCreated, UploadResponse{
		JobID:             job.ID,
		Status:            job.Status,
		FileName:          job.FileName,
		TotalRowsEstimate: job.TotalRows,
	})
}

// handleDetectColumns previews the mapping for a file without creating a job.
func (s *Server) handleDetectColumns(w http.ResponseWriter, r *http.Request) {
	name, data, err := s.readFormFile(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	detection, err := s.service.DetectColumns(r.Context(), name, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, detection)
}

// handleValidate resolves the mapping and reports what execute would do.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req MappingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	report, err := s.service.Validate(r.Context(), chi.URLParam(r, "jobId"), req.override())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, report)
}

// handleExecute runs the import. The service bounds the run with its own
// timeout, so a client that disconnects does not abandon a half-written job.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req MappingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	jobID := chi.URLParam(r, "jobId")
	logging.WithFields(r.Context(), "job_id", jobID).Info("execute requested")

	result, err := s.service.Execute(r.Context(), jobID, req.override())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// handleStatus returns the job and its first rejected rows.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.GetStatus(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, snap)
}

// handleOutcomes pages through row outcomes.
func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	filter, err := outcomeFilter(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	jobID := chi.URLParam(r, "jobId")
	outcomes, err := s.service.ListOutcomes(r.Context(), jobID, filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if outcomes == nil {
		outcomes = []core.RowOutcome{}
	}
	writeJSON(w, OutcomesResponse{
		JobID:    jobID,
		Outcomes: outcomes,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	})
}

// handleExportRejected streams the rejected rows as CSV. The export is built
// in memory first so a failure can still be reported as JSON.
func (s *Server) handleExportRejected(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	var buf bytes.Buffer
	if _, err := s.service.ExportRejected(r.Context(), jobID, &buf); err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="rejected_%s.csv"`, jobID))
	if _, err := buf.WriteTo(w); err != nil {
		logging.FromContext(r.Context()).Warn("rejected export write failed", "job_id", jobID, "error", err)
	}
}

// handleRollback reverses a completed job.
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			err = core.ErrRollbackReasonRequired
		}
		s.respondError(w, r, err)
		return
	}

	ctx := r.Context()
	result, err := s.service.Rollback(ctx, chi.URLParam(r, "jobId"), req.Reason, core.ActorFromContext(ctx))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// handleReport renders the HTML job report.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	snap, err := s.service.GetStatus(r.Context(), jobID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	params := templates.ReportParams{
		Snapshot:    snap,
		GeneratedAt: s.now(),
	}
	if snap.FailedRows > 0 {
		params.RejectedURL = "/import/" + jobID + "/rejected.csv"
	}
	templ.Handler(templates.JobReport(params)).ServeHTTP(w, r)
}

// readFormFile reads the "file" part of a multipart request, bounded by the
// configured maximum file size.
func (s *Server) readFormFile(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	maxSize := s.service.Options().MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return "", nil, core.ErrFileTooLarge
		}
		return "", nil, fmt.Errorf("%w: invalid multipart form: %v", errBadRequest, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, core.ErrNoFile
	}
	defer file.Close()

	if header.Size > maxSize {
		return "", nil, core.ErrFileTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxSize {
		return "", nil, core.ErrFileTooLarge
	}
	return header.Filename, data, nil
}
