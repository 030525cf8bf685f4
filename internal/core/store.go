package core

// store.go declares the collaborators the import pipeline runs against.
//
// The pipeline never talks to a database or bucket directly. Implementations
// live in internal/store/postgres, internal/store/memory and
// internal/objectstore.

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence boundary of the pipeline.
type Store interface {
	JobStore
	RecordStore
	ReferenceLookup
	TemplateStore

	// InTx runs fn inside a transaction. If fn returns an error every write
	// made through tx is discarded. InTx may be nested.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// JobStore persists import jobs, their row outcomes and their manifests.
type JobStore interface {
	InsertJob(ctx context.Context, job Job) error

	// GetJob returns ErrJobNotFound for unknown ids.
	GetJob(ctx context.Context, id string) (Job, error)

	// UpdateJob is the compare-and-set primitive guarding every state
	// transition. It locks the job, and if its status is one of expect it
	// applies fn and persists the result. Otherwise it returns the current
	// job together with ErrStatusConflict. An error from fn aborts the
	// update. fn runs while the job is locked and must not call back into the
	// store except through the transaction it was invoked on.
	UpdateJob(ctx context.Context, id string, expect []JobStatus, fn func(*Job) error) (Job, error)

	AppendOutcomes(ctx context.Context, jobID string, outcomes []RowOutcome) error

	// ListOutcomes returns outcomes ordered by row number.
	ListOutcomes(ctx context.Context, jobID string, filter OutcomeFilter) ([]RowOutcome, error)

	AppendManifest(ctx context.Context, entries []ManifestEntry) error

	// ListManifest returns the manifest in creation (Seq) order.
	ListManifest(ctx context.Context, jobID string) ([]ManifestEntry, error)
}

// RecordStore creates and removes the records an import produces. Removal
// is explicit: callers pick SoftDelete or HardDelete from the kind's
// declared capabilities. Both report false when the record does not exist
// (or is already soft-deleted).
type RecordStore interface {
	CreateObservation(ctx context.Context, obs Observation) error

	// GetObservation is the normal read path: soft-deleted observations are
	// reported as ErrRecordNotFound.
	GetObservation(ctx context.Context, id uuid.UUID) (Observation, error)

	SoftDelete(ctx context.Context, kind RecordKind, id uuid.UUID, at time.Time) (bool, error)
	HardDelete(ctx context.Context, kind RecordKind, id uuid.UUID) (bool, error)
}

// ReferenceKind names something a row may point at.
type ReferenceKind string

const (
	RefAudit  ReferenceKind = "audit"
	RefEntity ReferenceKind = "entity"
)

// Reference is a resolved pointer to an existing audit or entity.
type Reference struct {
	Kind ReferenceKind `json:"kind"`
	ID   uuid.UUID     `json:"id"`
	Name string        `json:"name"`
}

// ReferenceLookup resolves references. Absence is a normal, typed result;
// the error return is reserved for I/O failures.
type ReferenceLookup interface {
	LookupReference(ctx context.Context, kind ReferenceKind, id uuid.UUID) (Optional[Reference], error)
}

// TemplateStore persists mapping templates.
type TemplateStore interface {
	// InsertTemplate returns ErrTemplateExists on a duplicate name.
	InsertTemplate(ctx context.Context, t MappingTemplate) error
	GetTemplate(ctx context.Context, id string) (MappingTemplate, error)
	ListTemplates(ctx context.Context, filter TemplateFilter) ([]MappingTemplate, error)
	UpdateTemplate(ctx context.Context, t MappingTemplate) error
	DeleteTemplate(ctx context.Context, id string) error
}

// ObjectStore keeps uploaded file bytes. Files are read-only once stored.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// AuditSink receives a structured event for everything the pipeline does.
type AuditSink interface {
	RecordAudit(ctx context.Context, event AuditEvent) error
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock, in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator issues identifiers for jobs, records and templates.
type IDGenerator interface {
	NewID() uuid.UUID
}

// UUIDGenerator issues random (version 4) UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() uuid.UUID { return uuid.New() }

// Optional holds a value that may be absent.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some wraps a present value.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// None returns an absent value.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

// Present reports whether a value is held.
func (o Optional[T]) Present() bool {
	return o.ok
}
