package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/auditimport/internal/core"
)

const templateColumns = `id, name, description, created_by, mapping, created_at, updated_at`

func scanTemplate(row rowScanner) (core.MappingTemplate, error) {
	var (
		t       core.MappingTemplate
		mapping []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.CreatedBy, &mapping, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return core.MappingTemplate{}, err
	}
	if err := json.Unmarshal(mapping, &t.Entries); err != nil {
		return core.MappingTemplate{}, fmt.Errorf("decode template %s: %w", t.ID, err)
	}
	return t, nil
}

func (s *Store) InsertTemplate(ctx context.Context, t core.MappingTemplate) error {
	mapping, err := json.Marshal(t.Entries)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO mapping_templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Name, t.Description, t.CreatedBy, mapping, t.CreatedAt, t.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %q", core.ErrTemplateExists, t.Name)
	}
	return err
}

func (s *Store) GetTemplate(ctx context.Context, id string) (core.MappingTemplate, error) {
	t, err := scanTemplate(s.db.QueryRow(ctx, `SELECT `+templateColumns+` FROM mapping_templates WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.MappingTemplate{}, core.ErrTemplateNotFound
	}
	return t, err
}

func (s *Store) ListTemplates(ctx context.Context, filter core.TemplateFilter) ([]core.MappingTemplate, error) {
	wb := newWhereBuilder()
	wb.AddContains("name", filter.NameContains)
	wb.Add("created_by", filter.CreatedBy)
	where, args := wb.Build()

	rows, err := s.db.Query(ctx, `SELECT `+templateColumns+` FROM mapping_templates`+where+` ORDER BY lower(name)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]core.MappingTemplate, 0)
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTemplate(ctx context.Context, t core.MappingTemplate) error {
	mapping, err := json.Marshal(t.Entries)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `UPDATE mapping_templates
		SET name = $2, description = $3, mapping = $4, updated_at = $5
		WHERE id = $1`, t.ID, t.Name, t.Description, mapping, t.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %q", core.ErrTemplateExists, t.Name)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrTemplateNotFound
	}
	return nil
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM mapping_templates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrTemplateNotFound
	}
	return nil
}
