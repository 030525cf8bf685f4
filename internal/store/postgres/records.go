package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/auditimport/internal/core"
)

// kindTables maps record kinds to their tables.
var kindTables = map[core.RecordKind]string{
	core.KindObservation: "observations",
}

func tableFor(kind core.RecordKind) (string, error) {
	t, ok := kindTables[kind]
	if !ok {
		return "", fmt.Errorf("unknown record kind %q", kind)
	}
	return t, nil
}

func (s *Store) CreateObservation(ctx context.Context, obs core.Observation) error {
	var importJob any
	if obs.ImportJobID != "" {
		importJob = obs.ImportJobID
	}
	_, err := s.db.Exec(ctx, `INSERT INTO observations (
			id, audit_id, entity_id, title, description, risk_rating, status, category, owner,
			recommendation, due_date, identified_date, repeat_count, financial_impact, import_job_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		obs.ID, obs.AuditID, obs.EntityID, obs.Title, obs.Description, obs.RiskRating, obs.Status, obs.Category, obs.Owner,
		obs.Recommendation, obs.DueDate, obs.IdentifiedDate, obs.RepeatCount, obs.FinancialImpact, importJob, obs.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

func (s *Store) GetObservation(ctx context.Context, id uuid.UUID) (core.Observation, error) {
	var (
		o         core.Observation
		importJob *string
	)
	err := s.db.QueryRow(ctx, `SELECT
			id, audit_id, entity_id, title, description, risk_rating, status, category, owner,
			recommendation, due_date, identified_date, repeat_count, financial_impact, import_job_id, created_at
		FROM observations WHERE id = $1 AND deleted_at IS NULL`, id,
	).Scan(
		&o.ID, &o.AuditID, &o.EntityID, &o.Title, &o.Description, &o.RiskRating, &o.Status, &o.Category, &o.Owner,
		&o.Recommendation, &o.DueDate, &o.IdentifiedDate, &o.RepeatCount, &o.FinancialImpact, &importJob, &o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Observation{}, core.ErrRecordNotFound
	}
	if err != nil {
		return core.Observation{}, err
	}
	if importJob != nil {
		o.ImportJobID = *importJob
	}
	return o, nil
}

func (s *Store) SoftDelete(ctx context.Context, kind core.RecordKind, id uuid.UUID, at time.Time) (bool, error) {
	if !kind.Capabilities().SoftDelete {
		return false, fmt.Errorf("soft delete not supported for %s", kind)
	}
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE `+table+` SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) HardDelete(ctx context.Context, kind core.RecordKind, id uuid.UUID) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ----------------------------------------------------------------------------
// References
// ----------------------------------------------------------------------------

var referenceTables = map[core.ReferenceKind]string{
	core.RefAudit:  "audits",
	core.RefEntity: "entities",
}

func (s *Store) LookupReference(ctx context.Context, kind core.ReferenceKind, id uuid.UUID) (core.Optional[core.Reference], error) {
	table, ok := referenceTables[kind]
	if !ok {
		return core.None[core.Reference](), fmt.Errorf("unknown reference kind %q", kind)
	}
	ref := core.Reference{Kind: kind, ID: id}
	err := s.db.QueryRow(ctx, `SELECT name FROM `+table+` WHERE id = $1`, id).Scan(&ref.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.None[core.Reference](), nil
	}
	if err != nil {
		return core.None[core.Reference](), err
	}
	return core.Some(ref), nil
}

// UpsertReference registers an audit or entity rows may point at.
func (s *Store) UpsertReference(ctx context.Context, ref core.Reference) error {
	table, ok := referenceTables[ref.Kind]
	if !ok {
		return fmt.Errorf("unknown reference kind %q", ref.Kind)
	}
	_, err := s.db.Exec(ctx, `INSERT INTO `+table+` (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, ref.ID, ref.Name)
	return err
}
