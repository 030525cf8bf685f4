package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/auditimport/internal/core"
)

const jobColumns = `id, target_audit_id, uploaded_by, file_name, file_key, file_size, mapping, status,
	total_rows, processed_rows, successful_rows, failed_rows, rolled_back_rows,
	rollback_reason, rolled_back_by, active,
	created_at, validated_at, executed_at, completed_at, rolled_back_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (core.Job, error) {
	var (
		j       core.Job
		mapping []byte
		status  string
	)
	err := row.Scan(
		&j.ID, &j.TargetAuditID, &j.UploadedBy, &j.FileName, &j.FileKey, &j.FileSize, &mapping, &status,
		&j.TotalRows, &j.ProcessedRows, &j.SuccessfulRows, &j.FailedRows, &j.RolledBackRows,
		&j.RollbackReason, &j.RolledBackBy, &j.Active,
		&j.CreatedAt, &j.ValidatedAt, &j.ExecutedAt, &j.CompletedAt, &j.RolledBackAt,
	)
	if err != nil {
		return core.Job{}, err
	}
	j.Status = core.JobStatus(status)
	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &j.Mapping); err != nil {
			return core.Job{}, fmt.Errorf("decode mapping of job %s: %w", j.ID, err)
		}
	}
	return j, nil
}

func (s *Store) InsertJob(ctx context.Context, job core.Job) error {
	mapping, err := jsonOrNil(job.Mapping, len(job.Mapping) == 0)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO import_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		job.ID, job.TargetAuditID, job.UploadedBy, job.FileName, job.FileKey, job.FileSize, mapping, string(job.Status),
		job.TotalRows, job.ProcessedRows, job.SuccessfulRows, job.FailedRows, job.RolledBackRows,
		job.RollbackReason, job.RolledBackBy, job.Active,
		job.CreatedAt, job.ValidatedAt, job.ExecutedAt, job.CompletedAt, job.RolledBackAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (core.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Job{}, core.ErrJobNotFound
	}
	return job, err
}

// UpdateJob locks the job row with SELECT ... FOR UPDATE. Outside a
// transaction it opens one of its own.
func (s *Store) UpdateJob(ctx context.Context, id string, expect []core.JobStatus, fn func(*core.Job) error) (core.Job, error) {
	if s.tx != nil {
		return s.updateJob(ctx, id, expect, fn)
	}

	var out core.Job
	err := s.InTx(ctx, func(tx core.Store) error {
		var err error
		out, err = tx.(*Store).updateJob(ctx, id, expect, fn)
		return err
	})
	return out, err
}

func (s *Store) updateJob(ctx context.Context, id string, expect []core.JobStatus, fn func(*core.Job) error) (core.Job, error) {
	current, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Job{}, core.ErrJobNotFound
	}
	if err != nil {
		return core.Job{}, fmt.Errorf("lock job: %w", err)
	}
	if !statusIn(current.Status, expect) {
		return current, fmt.Errorf("%w: job %s is %s", core.ErrStatusConflict, id, current.Status)
	}

	next := current
	if err := fn(&next); err != nil {
		return current, err
	}

	mapping, err := jsonOrNil(next.Mapping, len(next.Mapping) == 0)
	if err != nil {
		return current, err
	}
	_, err = s.db.Exec(ctx, `UPDATE import_jobs SET
			mapping = $2, status = $3,
			total_rows = $4, processed_rows = $5, successful_rows = $6, failed_rows = $7, rolled_back_rows = $8,
			rollback_reason = $9, rolled_back_by = $10, active = $11,
			validated_at = $12, executed_at = $13, completed_at = $14, rolled_back_at = $15
		WHERE id = $1`,
		id, mapping, string(next.Status),
		next.TotalRows, next.ProcessedRows, next.SuccessfulRows, next.FailedRows, next.RolledBackRows,
		next.RollbackReason, next.RolledBackBy, next.Active,
		next.ValidatedAt, next.ExecutedAt, next.CompletedAt, next.RolledBackAt,
	)
	if err != nil {
		return current, fmt.Errorf("update job: %w", err)
	}
	return next, nil
}

// ----------------------------------------------------------------------------
// Outcomes and manifest
// ----------------------------------------------------------------------------

// AppendOutcomes writes outcomes with the COPY protocol.
func (s *Store) AppendOutcomes(ctx context.Context, jobID string, outcomes []core.RowOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	rows := make([][]any, len(outcomes))
	for i, o := range outcomes {
		errs, err := jsonOrNil(o.Errors, len(o.Errors) == 0)
		if err != nil {
			return err
		}
		rows[i] = []any{jobID, o.Row, string(o.Outcome), o.RecordID, errs}
	}
	_, err := s.db.CopyFrom(ctx,
		pgx.Identifier{"import_row_outcomes"},
		[]string{"job_id", "row_num", "outcome", "record_id", "errors"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("append outcomes: %w", err)
	}
	return nil
}

func (s *Store) ListOutcomes(ctx context.Context, jobID string, filter core.OutcomeFilter) ([]core.RowOutcome, error) {
	wb := newWhereBuilder()
	wb.Add("job_id", jobID)
	wb.Add("outcome", string(filter.Outcome))
	where, args := wb.Build()

	// LIMIT NULL means no limit.
	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	query := `SELECT row_num, outcome, record_id, errors FROM import_row_outcomes` + where +
		fmt.Sprintf(` ORDER BY row_num LIMIT $%d OFFSET $%d`, wb.NextArgIndex(), wb.NextArgIndex()+1)
	args = append(args, limit, filter.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	out := make([]core.RowOutcome, 0)
	for rows.Next() {
		var (
			o       core.RowOutcome
			outcome string
			errs    []byte
		)
		if err := rows.Scan(&o.Row, &outcome, &o.RecordID, &errs); err != nil {
			return nil, err
		}
		o.Outcome = core.Outcome(outcome)
		if len(errs) > 0 {
			if err := json.Unmarshal(errs, &o.Errors); err != nil {
				return nil, fmt.Errorf("decode errors of row %d: %w", o.Row, err)
			}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) AppendManifest(ctx context.Context, entries []core.ManifestEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO import_manifest (job_id, seq, kind, record_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
			e.JobID, e.Seq, string(e.Kind), e.RecordID, e.CreatedAt)
	}
	if batch.Len() == 0 {
		return nil
	}
	br := s.sendBatch(ctx, batch)
	for range entries {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("append manifest: %w", err)
		}
	}
	return br.Close()
}

func (s *Store) ListManifest(ctx context.Context, jobID string) ([]core.ManifestEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT job_id, seq, kind, record_id, created_at FROM import_manifest WHERE job_id = $1 ORDER BY seq`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list manifest: %w", err)
	}
	defer rows.Close()

	var out []core.ManifestEntry
	for rows.Next() {
		var (
			e    core.ManifestEntry
			kind string
		)
		if err := rows.Scan(&e.JobID, &e.Seq, &kind, &e.RecordID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = core.RecordKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) sendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	if s.tx != nil {
		return s.tx.SendBatch(ctx, b)
	}
	return s.pool.SendBatch(ctx, b)
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

// jsonOrNil encodes v for a JSONB column, or returns nil for SQL NULL.
func jsonOrNil(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func statusIn(status core.JobStatus, expect []core.JobStatus) bool {
	for _, s := range expect {
		if s == status {
			return true
		}
	}
	return false
}
