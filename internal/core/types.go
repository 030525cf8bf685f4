package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	StatusUploaded   JobStatus = "UPLOADED"
	StatusValidated  JobStatus = "VALIDATED"
	StatusExecuting  JobStatus = "EXECUTING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
	StatusRolledBack JobStatus = "ROLLED_BACK"
)

// Executable reports whether validate/execute may start from this status.
func (s JobStatus) Executable() bool {
	return s == StatusUploaded || s == StatusValidated
}

// Job is the persisted record of one import. Jobs are never deleted.
type Job struct {
	ID            string        `json:"jobId"`
	TargetAuditID uuid.UUID     `json:"targetAuditId"`
	UploadedBy    string        `json:"uploadedBy"`
	FileName      string        `json:"fileName"`
	FileKey       string        `json:"fileKey"`
	FileSize      int64         `json:"fileSize"`
	Mapping       ColumnMapping `json:"mapping,omitempty"`
	Status        JobStatus     `json:"status"`

	TotalRows      int `json:"totalRows"`
	ProcessedRows  int `json:"processedRows"`
	SuccessfulRows int `json:"successfulRows"`
	FailedRows     int `json:"failedRows"`
	RolledBackRows int `json:"rolledBackRows"`

	RollbackReason string `json:"rollbackReason,omitempty"`
	RolledBackBy   string `json:"rolledBackBy,omitempty"`
	Active         bool   `json:"active"`

	CreatedAt    time.Time  `json:"createdAt"`
	ValidatedAt  *time.Time `json:"validatedAt,omitempty"`
	ExecutedAt   *time.Time `json:"executedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	RolledBackAt *time.Time `json:"rolledBackAt,omitempty"`
}

// Outcome is the final disposition of a source row.
type Outcome string

const (
	OutcomeCreated  Outcome = "CREATED"
	OutcomeRejected Outcome = "REJECTED"
)

// FieldError describes one problem with one field of one row.
type FieldError struct {
	Field   string `json:"field,omitempty"`  // target field
	Column  string `json:"column,omitempty"` // source column header
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (e FieldError) Error() string {
	switch {
	case e.Column != "":
		return e.Column + ": " + e.Message
	case e.Field != "":
		return e.Field + ": " + e.Message
	default:
		return e.Message
	}
}

// RowOutcome is the immutable result for one source row. Row is the 1-based
// data row number in the uploaded file, header excluded.
type RowOutcome struct {
	Row      int          `json:"row"`
	Outcome  Outcome      `json:"outcome"`
	RecordID string       `json:"recordId,omitempty"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// RiskRating values accepted for an observation.
const (
	RiskLow      = "LOW"
	RiskMedium   = "MEDIUM"
	RiskHigh     = "HIGH"
	RiskCritical = "CRITICAL"
)

// Observation status values.
const (
	ObservationOpen       = "OPEN"
	ObservationInProgress = "IN_PROGRESS"
	ObservationResolved   = "RESOLVED"
	ObservationClosed     = "CLOSED"
)

// Observation is a single audit finding, the record an import creates.
type Observation struct {
	ID              uuid.UUID        `json:"id"`
	AuditID         uuid.UUID        `json:"auditId"`
	EntityID        *uuid.UUID       `json:"entityId,omitempty"`
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	RiskRating      string           `json:"riskRating"`
	Status          string           `json:"status"`
	Category        string           `json:"category,omitempty"`
	Owner           string           `json:"owner,omitempty"`
	Recommendation  string           `json:"recommendation,omitempty"`
	DueDate         *time.Time       `json:"dueDate,omitempty"`
	IdentifiedDate  *time.Time       `json:"identifiedDate,omitempty"`
	RepeatCount     int              `json:"repeatCount"`
	FinancialImpact *decimal.Decimal `json:"financialImpact,omitempty"`
	ImportJobID     string           `json:"importJobId,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	DeletedAt       *time.Time       `json:"deletedAt,omitempty"`
}

// RecordKind names a kind of record an import can create.
type RecordKind string

const KindObservation RecordKind = "observation"

// KindCapabilities declares how a record kind may be removed.
type KindCapabilities struct {
	SoftDelete bool
}

var recordKinds = map[RecordKind]KindCapabilities{
	KindObservation: {SoftDelete: true},
}

// Capabilities returns the declared capabilities of k. Unknown kinds support
// hard delete only.
func (k RecordKind) Capabilities() KindCapabilities {
	return recordKinds[k]
}

// ManifestEntry records one created record so the job can be reversed.
type ManifestEntry struct {
	JobID     string     `json:"jobId"`
	Seq       int        `json:"seq"`
	Kind      RecordKind `json:"kind"`
	RecordID  uuid.UUID  `json:"recordId"`
	CreatedAt time.Time  `json:"createdAt"`
}

// MappingOverride carries the optional mapping inputs of validate and
// execute. Template entries are applied first, then Entries.
type MappingOverride struct {
	TemplateID string        `json:"templateId,omitempty"`
	Entries    ColumnMapping `json:"mapping,omitempty"`
}

// IsZero reports whether the override carries nothing.
func (o MappingOverride) IsZero() bool {
	return o.TemplateID == "" && len(o.Entries) == 0
}

// ValidationReport is the preview produced by Service.Validate.
type ValidationReport struct {
	JobID           string        `json:"jobId"`
	TotalRows       int           `json:"totalRows"`
	ValidCount      int           `json:"validCount"`
	InvalidCount    int           `json:"invalidCount"`
	SampleErrors    []RowOutcome  `json:"sampleErrors"`
	ResolvedMapping ColumnMapping `json:"resolvedMapping"`
}

// ImportResult is returned by Service.Execute.
type ImportResult struct {
	JobID          string        `json:"jobId"`
	Status         JobStatus     `json:"status"`
	TotalRows      int           `json:"totalRows"`
	SuccessfulRows int           `json:"successfulRows"`
	FailedRows     int           `json:"failedRows"`
	Errors         []RowOutcome  `json:"errors"`
	Duration       time.Duration `json:"-"`
	DurationMs     int64         `json:"durationMs"`
}

// JobSnapshot is a point-in-time view of a job and its first errors.
type JobSnapshot struct {
	Job
	Errors []RowOutcome `json:"errors"`
}

// RollbackResult contains the result of a rollback operation.
type RollbackResult struct {
	JobID    string    `json:"jobId"`
	Status   JobStatus `json:"status"`
	Reversed int       `json:"reversed"`
	Skipped  int       `json:"skipped"`
}

// Detection is the unvalidated preview returned for a file before any job
// exists.
type Detection struct {
	Headers           []string        `json:"headers"`
	AutoMapping       ColumnMapping   `json:"autoMapping"`
	SampleRows        [][]string      `json:"sampleRows"`
	TotalRows         int             `json:"totalRows"`
	MatchingTemplates []TemplateMatch `json:"matchingTemplates"`
}

// OutcomeFilter selects a page of row outcomes.
type OutcomeFilter struct {
	Outcome Outcome // empty for all
	Limit   int
	Offset  int
}

// Default and maximum page sizes for outcome queries.
const (
	DefaultOutcomeLimit = 100
	MaxOutcomeLimit     = 1000
)

// Normalize applies defaults and rejects out-of-range values.
func (f OutcomeFilter) Normalize() (OutcomeFilter, error) {
	switch f.Outcome {
	case "", OutcomeCreated, OutcomeRejected:
	default:
		return f, ErrInvalidFilter
	}
	if f.Limit == 0 {
		f.Limit = DefaultOutcomeLimit
	}
	if f.Limit < 0 || f.Limit > MaxOutcomeLimit || f.Offset < 0 {
		return f, ErrInvalidFilter
	}
	return f, nil
}

// TemplateFilter selects mapping templates.
type TemplateFilter struct {
	NameContains string
	CreatedBy    string
}
