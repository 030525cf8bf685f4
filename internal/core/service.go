package core

import (
	"errors"
	"time"
)

// Default service options.
const (
	DefaultBatchSize         = 100
	DefaultMaxFileSize       = 50 << 20
	DefaultExecuteTimeout    = 10 * time.Minute
	DefaultMaxErrorsReported = 100
	DefaultSampleErrors      = 20
	DefaultSampleRows        = 5
)

// Options tunes the pipeline.
type Options struct {
	BatchSize         int           // rows per executor transaction
	MaxFileSize       int64         // upload ceiling in bytes
	MaxConcurrent     int           // executes running at once
	MaxWait           time.Duration // how long execute waits for a slot
	ExecuteTimeout    time.Duration // bound on one execute, independent of the request
	MaxErrorsReported int           // rejected rows returned by execute and status
	SampleErrors      int           // rejected rows returned by validate
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		BatchSize:         DefaultBatchSize,
		MaxFileSize:       DefaultMaxFileSize,
		MaxConcurrent:     DefaultMaxConcurrentImports,
		MaxWait:           DefaultMaxWaitTime,
		ExecuteTimeout:    DefaultExecuteTimeout,
		MaxErrorsReported: DefaultMaxErrorsReported,
		SampleErrors:      DefaultSampleErrors,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = d.MaxFileSize
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = d.MaxConcurrent
	}
	if o.MaxWait <= 0 {
		o.MaxWait = d.MaxWait
	}
	if o.ExecuteTimeout <= 0 {
		o.ExecuteTimeout = d.ExecuteTimeout
	}
	if o.MaxErrorsReported <= 0 {
		o.MaxErrorsReported = d.MaxErrorsReported
	}
	if o.SampleErrors <= 0 {
		o.SampleErrors = d.SampleErrors
	}
	return o
}

// Metrics receives pipeline measurements. internal/metrics provides the
// Prometheus implementation.
type Metrics interface {
	JobTransition(status JobStatus)
	RowsProcessed(outcome Outcome, n int)
	BatchCommitted(fallback bool, d time.Duration)
	RecordsRolledBack(n int)
}

type nopMetrics struct{}

func (nopMetrics) JobTransition(JobStatus)            {}
func (nopMetrics) RowsProcessed(Outcome, int)         {}
func (nopMetrics) BatchCommitted(bool, time.Duration) {}
func (nopMetrics) RecordsRolledBack(int)              {}

// Deps are the collaborators of a Service. Store and Objects are required;
// the rest have defaults.
type Deps struct {
	Store   Store
	Objects ObjectStore
	Audit   AuditSink
	Clock   Clock
	IDs     IDGenerator
	Metrics Metrics
}

// Service drives import jobs through their lifecycle. It is safe for
// concurrent use; per-job exclusion comes from the persisted job status.
type Service struct {
	store   Store
	objects ObjectStore
	audit   AuditSink
	clock   Clock
	ids     IDGenerator
	metrics Metrics

	opts     Options
	schema   Schema
	limiter  *ImportLimiter
	executor *Executor
	rollback *RollbackManager
}

// NewService creates a new Service instance.
func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("core: store is required")
	}
	if deps.Objects == nil {
		return nil, errors.New("core: object store is required")
	}
	if deps.Audit == nil {
		deps.Audit = LogAuditSink{}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.IDs == nil {
		deps.IDs = UUIDGenerator{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	opts = opts.withDefaults()

	return &Service{
		store:    deps.Store,
		objects:  deps.Objects,
		audit:    deps.Audit,
		clock:    deps.Clock,
		ids:      deps.IDs,
		metrics:  deps.Metrics,
		opts:     opts,
		schema:   ObservationSchema,
		limiter:  NewImportLimiter(opts.MaxConcurrent, opts.MaxWait),
		executor: NewExecutor(deps.Store, deps.IDs, deps.Clock, deps.Metrics, opts.BatchSize, opts.MaxErrorsReported),
		rollback: &RollbackManager{},
	}, nil
}

// Schema returns the target schema imports are mapped onto.
func (s *Service) Schema() Schema {
	return s.schema
}

// Options returns the effective options.
func (s *Service) Options() Options {
	return s.opts
}

// Limiter exposes the execute limiter for health output and shutdown.
func (s *Service) Limiter() *ImportLimiter {
	return s.limiter
}
