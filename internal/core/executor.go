package core

// executor.go writes validated rows to the store.
//
// Rows are processed in order, in batches. A batch is one transaction that
// creates its observations, appends each one to the job manifest right
// after it is created, records every row outcome and advances the job
// counters. If that transaction fails the batch is replayed one row per
// transaction, so a single bad row only costs itself.

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/auditimport/internal/logging"
)

// ExecSummary totals one executor run.
type ExecSummary struct {
	Processed  int
	Successful int
	Failed     int
	Errors     []RowOutcome // first rejected rows, in row order
}

// Executor is the only component that creates records on the forward path.
type Executor struct {
	store     Store
	ids       IDGenerator
	clock     Clock
	metrics   Metrics
	batchSize int
	maxErrors int
}

// NewExecutor creates an executor. A non-positive batchSize means
// DefaultBatchSize.
func NewExecutor(store Store, ids IDGenerator, clock Clock, metrics Metrics, batchSize, maxErrors int) *Executor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Executor{
		store:     store,
		ids:       ids,
		clock:     clock,
		metrics:   metrics,
		batchSize: batchSize,
		maxErrors: maxErrors,
	}
}

// Run processes results for job, which must be EXECUTING. Storage failures
// are recorded as rejected rows; Run itself only fails if ctx ends before
// the first batch.
func (e *Executor) Run(ctx context.Context, job Job, results []RowResult) (ExecSummary, error) {
	if err := ctx.Err(); err != nil {
		return ExecSummary{}, err
	}

	logger := logging.WithFields(ctx, "job_id", job.ID)
	run := &execRun{Executor: e, job: job}

	for start := 0; start < len(results); start += e.batchSize {
		end := min(start+e.batchSize, len(results))
		run.batch(ctx, results[start:end])
	}

	logger.Info("executor finished",
		"processed", run.sum.Processed,
		"successful", run.sum.Successful,
		"failed", run.sum.Failed,
		"fallback_batches", run.fallbacks,
	)
	return run.sum, nil
}

// execRun is the state of one Run call.
type execRun struct {
	*Executor
	job       Job
	sum       ExecSummary
	seq       int
	fallbacks int
}

type plannedRow struct {
	result RowResult
	obs    Observation
}

func (r *execRun) batch(ctx context.Context, rows []RowResult) {
	start := time.Now()
	planned := make([]plannedRow, len(rows))
	for i, res := range rows {
		planned[i] = plannedRow{result: res}
		if res.Valid != nil {
			obs := res.Valid.Observation
			obs.ID = r.ids.NewID()
			obs.ImportJobID = r.job.ID
			obs.CreatedAt = r.clock.Now()
			planned[i].obs = obs
		}
	}

	if err := ctx.Err(); err == nil {
		outcomes, next, err := r.commitBatch(ctx, planned)
		if err == nil {
			r.seq = next
			r.tally(outcomes)
			r.metrics.BatchCommitted(false, time.Since(start))
			return
		}
		logging.WithFields(ctx, "job_id", r.job.ID).Warn("batch failed, retrying rows individually",
			"first_row", rows[0].Row,
			"rows", len(rows),
			"error", err,
		)
	}

	r.fallbacks++
	outcomes := r.commitRows(ctx, planned)
	r.tally(outcomes)
	r.metrics.BatchCommitted(true, time.Since(start))
}

// commitBatch writes the whole batch in one transaction. It returns the
// outcomes and the manifest sequence to continue from.
func (r *execRun) commitBatch(ctx context.Context, planned []plannedRow) ([]RowOutcome, int, error) {
	var outcomes []RowOutcome
	seq := r.seq

	err := r.store.InTx(ctx, func(tx Store) error {
		outcomes = outcomes[:0]
		seq = r.seq
		for _, p := range planned {
			if p.result.Valid == nil {
				outcomes = append(outcomes, p.result.Rejected())
				continue
			}
			seq++
			if err := r.create(ctx, tx, p.obs, seq); err != nil {
				return fmt.Errorf("row %d: %w", p.result.Row, err)
			}
			outcomes = append(outcomes, created(p))
		}
		if err := tx.AppendOutcomes(ctx, r.job.ID, outcomes); err != nil {
			return err
		}
		return r.setCounters(ctx, tx, outcomes)
	})
	if err != nil {
		return nil, r.seq, err
	}
	return outcomes, seq, nil
}

// commitRows replays a failed batch one row per transaction. Rejected rows
// and the counters are written together at the end; if that write fails
// the final job transition still carries the right totals.
func (r *execRun) commitRows(ctx context.Context, planned []plannedRow) []RowOutcome {
	outcomes := make([]RowOutcome, 0, len(planned))
	var rejected []RowOutcome

	for _, p := range planned {
		if p.result.Valid == nil {
			out := p.result.Rejected()
			outcomes = append(outcomes, out)
			rejected = append(rejected, out)
			continue
		}

		seq := r.seq + 1
		err := ctx.Err()
		if err == nil {
			err = r.store.InTx(ctx, func(tx Store) error {
				if err := r.create(ctx, tx, p.obs, seq); err != nil {
					return err
				}
				return tx.AppendOutcomes(ctx, r.job.ID, []RowOutcome{created(p)})
			})
		}
		if err != nil {
			msg := MapError(err)
			out := RowOutcome{
				Row:     p.result.Row,
				Outcome: OutcomeRejected,
				Errors:  []FieldError{{Message: msg.Message, Code: msg.Code}},
			}
			outcomes = append(outcomes, out)
			rejected = append(rejected, out)
			logging.WithFields(ctx, "job_id", r.job.ID).Warn("row not created",
				"row", p.result.Row,
				"error", err,
			)
			continue
		}
		r.seq = seq
		outcomes = append(outcomes, created(p))
	}

	wctx := ctx
	if ctx.Err() != nil {
		wctx = context.WithoutCancel(ctx)
	}
	err := r.store.InTx(wctx, func(tx Store) error {
		if len(rejected) > 0 {
			if err := tx.AppendOutcomes(wctx, r.job.ID, rejected); err != nil {
				return err
			}
		}
		return r.setCounters(wctx, tx, outcomes)
	})
	if err != nil {
		logging.WithFields(ctx, "job_id", r.job.ID).Error("recording batch outcomes failed", "error", err)
	}
	return outcomes
}

func (r *execRun) create(ctx context.Context, tx Store, obs Observation, seq int) error {
	if err := tx.CreateObservation(ctx, obs); err != nil {
		return err
	}
	return tx.AppendManifest(ctx, []ManifestEntry{{
		JobID:     r.job.ID,
		Seq:       seq,
		Kind:      KindObservation,
		RecordID:  obs.ID,
		CreatedAt: obs.CreatedAt,
	}})
}

// setCounters persists the job counters as they stand once outcomes,
// the current batch, is tallied.
func (r *execRun) setCounters(ctx context.Context, tx Store, outcomes []RowOutcome) error {
	ok, failed := countOutcomes(outcomes)
	ok += r.sum.Successful
	failed += r.sum.Failed
	_, err := tx.UpdateJob(ctx, r.job.ID, []JobStatus{StatusExecuting}, func(j *Job) error {
		j.ProcessedRows = ok + failed
		j.SuccessfulRows = ok
		j.FailedRows = failed
		return nil
	})
	return err
}

func (r *execRun) tally(outcomes []RowOutcome) {
	ok, failed := countOutcomes(outcomes)
	r.sum.Processed += len(outcomes)
	r.sum.Successful += ok
	r.sum.Failed += failed
	r.metrics.RowsProcessed(OutcomeCreated, ok)
	r.metrics.RowsProcessed(OutcomeRejected, failed)

	for _, o := range outcomes {
		if o.Outcome == OutcomeRejected && len(r.sum.Errors) < r.maxErrors {
			r.sum.Errors = append(r.sum.Errors, o)
		}
	}
}

func countOutcomes(outcomes []RowOutcome) (ok, failed int) {
	for _, o := range outcomes {
		if o.Outcome == OutcomeCreated {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}

func created(p plannedRow) RowOutcome {
	return RowOutcome{Row: p.result.Row, Outcome: OutcomeCreated, RecordID: p.obs.ID.String()}
}
