package core

// service_job.go implements the forward path of an import job: upload,
// validate, execute and the read-only views.

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/JonMunkholm/auditimport/internal/logging"
	"github.com/JonMunkholm/auditimport/internal/tabular"
)

// UploadInput is a file submitted for import.
type UploadInput struct {
	FileName      string
	Data          []byte
	TargetAuditID uuid.UUID
	UploadedBy    string
}

// Upload stores the file and creates a job in UPLOADED. The file is decoded
// once to reject unreadable input early and to estimate the row count.
func (s *Service) Upload(ctx context.Context, in UploadInput) (Job, error) {
	if in.FileName == "" && len(in.Data) == 0 {
		return Job{}, ErrNoFile
	}
	if err := s.checkFile(in.FileName, int64(len(in.Data))); err != nil {
		return Job{}, err
	}
	if in.TargetAuditID == uuid.Nil {
		return Job{}, ErrTargetRequired
	}

	grid, err := tabular.Decode(in.Data, in.FileName)
	if err != nil {
		return Job{}, err
	}

	id := s.ids.NewID().String()
	ctx, span := startSpan(ctx, "import.upload", id)
	defer func() { endSpan(span, err) }()

	if in.UploadedBy == "" {
		in.UploadedBy = ActorFromContext(ctx)
	}
	job := Job{
		ID:            id,
		TargetAuditID: in.TargetAuditID,
		UploadedBy:    in.UploadedBy,
		FileName:      filepath.Base(in.FileName),
		FileKey:       objectKey(id, in.FileName),
		FileSize:      int64(len(in.Data)),
		Status:        StatusUploaded,
		TotalRows:     grid.Len(),
		Active:        true,
		CreatedAt:     s.clock.Now(),
	}

	if err = s.objects.Put(ctx, job.FileKey, in.Data, mimetype.Detect(in.Data).String()); err != nil {
		return Job{}, fmt.Errorf("store file: %w", err)
	}
	if err = s.store.InsertJob(ctx, job); err != nil {
		return Job{}, fmt.Errorf("create job: %w", err)
	}

	s.metrics.JobTransition(StatusUploaded)
	s.logAudit(ctx, AuditEvent{
		Action:       ActionUpload,
		Actor:        job.UploadedBy,
		JobID:        job.ID,
		Status:       job.Status,
		RowsAffected: job.TotalRows,
		Reason:       job.FileName,
	})
	logging.WithFields(ctx, "job_id", job.ID).Info("file uploaded",
		"file", job.FileName,
		"bytes", job.FileSize,
		"rows", job.TotalRows,
	)
	return job, nil
}

// Validate previews an import: it resolves the mapping and validates every
// row without writing any records. It may be repeated with other mappings
// until the job is executed.
func (s *Service) Validate(ctx context.Context, jobID string, override MappingOverride) (report ValidationReport, err error) {
	ctx, span := startSpan(ctx, "import.validate", jobID)
	defer func() { endSpan(span, err) }()

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return ValidationReport{}, err
	}
	if err := stateError(job.Status); err != nil {
		return ValidationReport{}, err
	}

	mapping, results, err := s.prepare(ctx, job, override)
	if err != nil {
		return ValidationReport{}, err
	}

	report = ValidationReport{
		JobID:           job.ID,
		TotalRows:       len(results),
		ResolvedMapping: mapping,
		SampleErrors:    []RowOutcome{},
	}
	for _, r := range results {
		if r.Valid != nil {
			report.ValidCount++
			continue
		}
		report.InvalidCount++
		if len(report.SampleErrors) < s.opts.SampleErrors {
			report.SampleErrors = append(report.SampleErrors, r.Rejected())
		}
	}

	now := s.clock.Now()
	current, err := s.store.UpdateJob(ctx, jobID, []JobStatus{StatusUploaded, StatusValidated}, func(j *Job) error {
		j.Status = StatusValidated
		j.Mapping = mapping
		j.ValidatedAt = &now
		return nil
	})
	if err != nil {
		return ValidationReport{}, conflictError(current, err)
	}

	s.metrics.JobTransition(StatusValidated)
	s.logAudit(ctx, AuditEvent{
		Action:       ActionValidate,
		JobID:        jobID,
		Status:       StatusValidated,
		RowsAffected: report.InvalidCount,
	})
	return report, nil
}

// Execute runs the import. It re-validates with the final mapping, claims
// the job by moving it to EXECUTING, writes rows in batches and ends in
// COMPLETED, or FAILED when no row was created.
//
// Once the job is claimed the work is detached from ctx cancellation and
// bounded by Options.ExecuteTimeout instead, so a dropped connection cannot
// strand the job in EXECUTING.
func (s *Service) Execute(ctx context.Context, jobID string, override MappingOverride) (result ImportResult, err error) {
	ctx, span := startSpan(ctx, "import.execute", jobID)
	defer func() { endSpan(span, err) }()
	start := time.Now()
	logger := logging.WithFields(ctx, "job_id", jobID)

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return ImportResult{}, err
	}
	if err := stateError(job.Status); err != nil {
		return ImportResult{}, err
	}

	mapping, results, err := s.prepare(ctx, job, override)
	if err != nil {
		return ImportResult{}, err
	}

	var prev Job
	now := s.clock.Now()
	current, err := s.store.UpdateJob(ctx, jobID, []JobStatus{StatusUploaded, StatusValidated}, func(j *Job) error {
		prev = *j
		j.Status = StatusExecuting
		j.Mapping = mapping
		j.TotalRows = len(results)
		j.ProcessedRows, j.SuccessfulRows, j.FailedRows = 0, 0, 0
		j.ExecutedAt = &now
		return nil
	})
	if err != nil {
		return ImportResult{}, conflictError(current, err)
	}

	// A second execute of this job must get ErrJobAlreadyExecuting, not
	// wait for a slot, so the claim is taken first.
	if err := s.limiter.Acquire(ctx); err != nil {
		s.releaseClaim(ctx, jobID, prev)
		return ImportResult{}, err
	}
	defer s.limiter.Release()

	s.metrics.JobTransition(StatusExecuting)
	logger.Info("import executing", "rows", len(results), "batch_size", s.opts.BatchSize)

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ExecuteTimeout)
	defer cancel()

	sum, err := s.executor.Run(runCtx, current, results)
	if err != nil {
		logger.Error("executor did not start", "error", err)
	}

	final := StatusFailed
	if sum.Successful > 0 {
		final = StatusCompleted
	}
	done := s.clock.Now()
	// Rows the executor never reached count as failed so the counters
	// still add up to the total.
	failed := sum.Failed + len(results) - sum.Processed
	job, err = s.store.UpdateJob(context.WithoutCancel(ctx), jobID, []JobStatus{StatusExecuting}, func(j *Job) error {
		j.Status = final
		j.ProcessedRows = len(results)
		j.SuccessfulRows = sum.Successful
		j.FailedRows = failed
		j.CompletedAt = &done
		return nil
	})
	if err != nil {
		logger.Error("finishing job failed", "error", err)
		return ImportResult{}, fmt.Errorf("finish job: %w", err)
	}

	s.metrics.JobTransition(final)
	s.logAudit(ctx, AuditEvent{
		Action:       ActionExecute,
		JobID:        jobID,
		Status:       final,
		RowsAffected: sum.Successful,
	})
	logger.Info("import finished",
		"status", final,
		"successful", job.SuccessfulRows,
		"failed", job.FailedRows,
		"duration", time.Since(start),
	)

	errs := sum.Errors
	if errs == nil {
		errs = []RowOutcome{}
	}
	elapsed := time.Since(start)
	return ImportResult{
		JobID:          jobID,
		Status:         final,
		TotalRows:      job.TotalRows,
		SuccessfulRows: job.SuccessfulRows,
		FailedRows:     job.FailedRows,
		Errors:         errs,
		Duration:       elapsed,
		DurationMs:     elapsed.Milliseconds(),
	}, nil
}

// releaseClaim puts a claimed job back to the state it was claimed from.
func (s *Service) releaseClaim(ctx context.Context, jobID string, prev Job) {
	_, err := s.store.UpdateJob(context.WithoutCancel(ctx), jobID, []JobStatus{StatusExecuting}, func(j *Job) error {
		*j = prev
		return nil
	})
	if err != nil {
		logging.FromContext(ctx).Error("releasing job claim failed", "job_id", jobID, "error", err)
	}
}

// GetStatus returns the job with its first rejected rows. It is a pure
// read and safe in any state, including mid-execution.
func (s *Service) GetStatus(ctx context.Context, jobID string) (JobSnapshot, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return JobSnapshot{}, err
	}
	errs, err := s.store.ListOutcomes(ctx, jobID, OutcomeFilter{
		Outcome: OutcomeRejected,
		Limit:   s.opts.MaxErrorsReported,
	})
	if err != nil {
		return JobSnapshot{}, fmt.Errorf("list errors: %w", err)
	}
	if errs == nil {
		errs = []RowOutcome{}
	}
	return JobSnapshot{Job: job, Errors: errs}, nil
}

// ListOutcomes pages through the row outcomes of a job.
func (s *Service) ListOutcomes(ctx context.Context, jobID string, filter OutcomeFilter) ([]RowOutcome, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.ListOutcomes(ctx, jobID, filter)
}

// ExportRejected writes the rejected rows of an executed job as CSV: the
// original columns followed by the row number and the errors, so the file
// can be fixed and uploaded again.
func (s *Service) ExportRejected(ctx context.Context, jobID string, w io.Writer) (int, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	grid, err := s.loadGrid(ctx, job)
	if err != nil {
		return 0, err
	}

	cells := make(map[int][]string, grid.Len())
	for i, row := range grid.Data() {
		cells[grid.RowNumber(i)] = row
	}

	cw := csv.NewWriter(w)
	header := append(append([]string(nil), grid.Header()...), "Row", "Errors")
	if err := cw.Write(header); err != nil {
		return 0, err
	}

	written := 0
	filter := OutcomeFilter{Outcome: OutcomeRejected, Limit: MaxOutcomeLimit}
	for {
		page, err := s.store.ListOutcomes(ctx, jobID, filter)
		if err != nil {
			return written, fmt.Errorf("list rejected rows: %w", err)
		}
		for _, o := range page {
			rec := append(append([]string(nil), cells[o.Row]...), strconv.Itoa(o.Row), joinErrors(o.Errors))
			if err := cw.Write(rec); err != nil {
				return written, err
			}
			written++
		}
		if len(page) < filter.Limit {
			break
		}
		filter.Offset += len(page)
	}

	cw.Flush()
	return written, cw.Error()
}

// DetectColumns decodes a file without creating a job and returns its
// headers, the auto-detected mapping, a few sample rows and any templates
// that fit.
func (s *Service) DetectColumns(ctx context.Context, fileName string, data []byte) (Detection, error) {
	if len(data) == 0 {
		return Detection{}, ErrNoFile
	}
	if err := s.checkFile(fileName, int64(len(data))); err != nil {
		return Detection{}, err
	}
	grid, err := tabular.Decode(data, fileName)
	if err != nil {
		return Detection{}, err
	}

	headers := grid.Header()
	matches, err := s.MatchTemplates(ctx, headers)
	if err != nil {
		return Detection{}, err
	}
	if matches == nil {
		matches = []TemplateMatch{}
	}
	auto := s.schema.AutoDetect(headers)
	if auto == nil {
		auto = ColumnMapping{}
	}
	return Detection{
		Headers:           headers,
		AutoMapping:       auto,
		SampleRows:        grid.Sample(DefaultSampleRows),
		TotalRows:         grid.Len(),
		MatchingTemplates: matches,
	}, nil
}

// prepare re-reads the stored file, resolves the mapping and validates
// every row. It writes nothing.
func (s *Service) prepare(ctx context.Context, job Job, override MappingOverride) (ColumnMapping, []RowResult, error) {
	grid, err := s.loadGrid(ctx, job)
	if err != nil {
		return nil, nil, err
	}

	var mapping ColumnMapping
	if override.IsZero() && len(job.Mapping) > 0 {
		mapping, err = s.schema.Revalidate(grid.Header(), job.Mapping)
	} else {
		var tmpl ColumnMapping
		tmpl, err = s.templateEntries(ctx, override)
		if err == nil {
			mapping, err = s.schema.Resolve(grid.Header(), tmpl, override.Entries)
		}
	}
	if err != nil {
		return nil, nil, err
	}

	v := NewRowValidator(s.schema, mapping, grid.Header(), s.store, job.TargetAuditID, s.clock.Now())
	results, err := v.Validate(ctx, grid)
	if err != nil {
		return nil, nil, fmt.Errorf("validate rows: %w", err)
	}
	return mapping, results, nil
}

func (s *Service) loadGrid(ctx context.Context, job Job) (*tabular.Grid, error) {
	data, err := s.objects.Get(ctx, job.FileKey)
	if err != nil {
		return nil, fmt.Errorf("read stored file: %w", err)
	}
	return tabular.Decode(data, job.FileName)
}

func (s *Service) checkFile(name string, size int64) error {
	if !tabular.IsAccepted(name) {
		return fmt.Errorf("%w: %q (accepted: %s)", tabular.ErrUnsupportedFormat,
			filepath.Ext(name), strings.Join(tabular.AcceptedExtensions(), ", "))
	}
	if size > s.opts.MaxFileSize {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, size, s.opts.MaxFileSize)
	}
	return nil
}

// conflictError turns a failed UpdateJob into the error the caller sees.
func conflictError(current Job, err error) error {
	if !errors.Is(err, ErrStatusConflict) {
		return err
	}
	if serr := stateError(current.Status); serr != nil {
		return serr
	}
	return ErrJobAlreadyExecuting
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// objectKey is where a job's file is stored.
func objectKey(jobID, fileName string) string {
	name := unsafeKeyChars.ReplaceAllString(filepath.Base(fileName), "_")
	return fmt.Sprintf("imports/%s/%s", jobID, name)
}

func joinErrors(errs []FieldError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}
