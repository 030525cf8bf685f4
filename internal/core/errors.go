package core

import (
	"errors"
	"fmt"
	"strings"
)

// Mapping errors. ErrMissingRequiredField is job-fatal: it blocks execute.
var (
	ErrMissingRequiredField = errors.New("missing required field")
	ErrUnknownTargetField   = errors.New("unknown target field")
	ErrDuplicateTargetField = errors.New("duplicate target field")
	ErrUnknownSourceColumn  = errors.New("source column not found in file")
)

// Job state conflicts. Each aborts only the offending call.
var (
	ErrJobNotFound          = errors.New("import job not found")
	ErrJobAlreadyExecuting  = errors.New("import job is already executing")
	ErrJobAlreadyCompleted  = errors.New("import job has already been executed")
	ErrJobAlreadyRolledBack = errors.New("import job has already been rolled back")
	ErrNothingToRollback    = errors.New("import job created no records to roll back")
	ErrJobNotCompleted      = errors.New("import job is not completed")

	// ErrStatusConflict is returned by JobStore.UpdateJob when the persisted
	// status is not one of the expected ones.
	ErrStatusConflict = errors.New("job status conflict")
)

// Request and lookup errors.
var (
	ErrFileTooLarge           = errors.New("file too large")
	ErrNoFile                 = errors.New("no file provided")
	ErrTargetRequired         = errors.New("target audit id is required")
	ErrRollbackReasonRequired = errors.New("rollback reason is required")
	ErrRecordNotFound         = errors.New("record not found")
	ErrTemplateNotFound       = errors.New("mapping template not found")
	ErrTemplateExists         = errors.New("mapping template already exists")
	ErrTemplateNameRequired   = errors.New("template name is required")
	ErrInvalidFilter          = errors.New("invalid filter")
)

// MappingError lists every required target field that has no source column.
type MappingError struct {
	Missing []string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingRequiredField, strings.Join(e.Missing, ", "))
}

// Is makes errors.Is(err, ErrMissingRequiredField) hold.
func (e *MappingError) Is(target error) bool {
	return target == ErrMissingRequiredField
}

// stateError converts a status observed on a job that cannot run into the
// matching conflict error. It returns nil for executable statuses.
func stateError(status JobStatus) error {
	switch status {
	case StatusUploaded, StatusValidated:
		return nil
	case StatusExecuting:
		return ErrJobAlreadyExecuting
	case StatusCompleted, StatusFailed:
		return ErrJobAlreadyCompleted
	case StatusRolledBack:
		return ErrJobAlreadyRolledBack
	default:
		return fmt.Errorf("%w: unknown status %q", ErrStatusConflict, status)
	}
}
