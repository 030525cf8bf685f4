package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/auditimport/internal/logging"
)

// RollbackManager reverses the records listed in a job's manifest.
type RollbackManager struct{}

// Reverse removes every manifest record of jobID through tx, newest first.
// Kinds that support soft delete are soft-deleted; others are hard-deleted.
// Records that no longer exist are skipped. It returns how many records
// were actually removed and how many the manifest listed.
func (RollbackManager) Reverse(ctx context.Context, tx Store, jobID string, at time.Time) (reversed, total int, err error) {
	entries, err := tx.ListManifest(ctx, jobID)
	if err != nil {
		return 0, 0, fmt.Errorf("list manifest: %w", err)
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		var removed bool
		if e.Kind.Capabilities().SoftDelete {
			removed, err = tx.SoftDelete(ctx, e.Kind, e.RecordID, at)
		} else {
			removed, err = tx.HardDelete(ctx, e.Kind, e.RecordID)
		}
		if err != nil {
			return reversed, len(entries), fmt.Errorf("remove %s %s: %w", e.Kind, e.RecordID, err)
		}
		if removed {
			reversed++
		}
	}
	return reversed, len(entries), nil
}

// Rollback reverses a COMPLETED job and marks it ROLLED_BACK. The status
// check, the removals and the status change happen in one transaction, so
// either all of it is visible or none of it is.
func (s *Service) Rollback(ctx context.Context, jobID, reason, actor string) (result RollbackResult, err error) {
	ctx, span := startSpan(ctx, "import.rollback", jobID)
	defer func() { endSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return RollbackResult{}, ErrRollbackReasonRequired
	}
	if actor == "" {
		actor = ActorFromContext(ctx)
	}

	err = s.store.InTx(ctx, func(tx Store) error {
		current, err := tx.UpdateJob(ctx, jobID, []JobStatus{StatusCompleted}, func(j *Job) error {
			now := s.clock.Now()
			reversed, total, err := s.rollback.Reverse(ctx, tx, jobID, now)
			if err != nil {
				return err
			}
			if total == 0 {
				return ErrNothingToRollback
			}
			j.Status = StatusRolledBack
			j.RollbackReason = reason
			j.RolledBackBy = actor
			j.RolledBackRows = reversed
			j.RolledBackAt = &now
			j.Active = false

			result = RollbackResult{
				JobID:    jobID,
				Status:   StatusRolledBack,
				Reversed: reversed,
				Skipped:  total - reversed,
			}
			return nil
		})
		if errors.Is(err, ErrStatusConflict) {
			if current.Status == StatusRolledBack {
				return ErrJobAlreadyRolledBack
			}
			return ErrJobNotCompleted
		}
		return err
	})
	if err != nil {
		return RollbackResult{}, err
	}

	s.metrics.JobTransition(StatusRolledBack)
	s.metrics.RecordsRolledBack(result.Reversed)
	s.logAudit(ctx, AuditEvent{
		Action:       ActionRollback,
		Actor:        actor,
		JobID:        jobID,
		Status:       StatusRolledBack,
		RowsAffected: result.Reversed,
		Reason:       reason,
	})
	logging.WithFields(ctx, "job_id", jobID).Info("import rolled back",
		"reversed", result.Reversed,
		"skipped", result.Skipped,
		"actor", actor,
	)
	return result, nil
}
