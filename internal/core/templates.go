package core

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TemplateMatchThreshold is the minimum share of a template's source
// columns a file must contain for the template to be suggested.
const TemplateMatchThreshold = 0.7

// MappingTemplate is a named, reusable column mapping.
type MappingTemplate struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	CreatedBy   string        `json:"createdBy"`
	Entries     ColumnMapping `json:"mapping"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// TemplateInput is the editable part of a template. It is also the shape
// of a YAML seed entry.
type TemplateInput struct {
	Name        string        `json:"name" yaml:"name" validate:"required,max=200"`
	Description string        `json:"description" yaml:"description" validate:"max=2000"`
	Entries     ColumnMapping `json:"mapping" yaml:"mapping" validate:"dive"`
}

// TemplateMatch is a template suggested for a set of headers.
type TemplateMatch struct {
	Template   MappingTemplate `json:"template"`
	MatchScore float64         `json:"matchScore"`
}

// CreateTemplate validates and stores a new template.
func (s *Service) CreateTemplate(ctx context.Context, in TemplateInput) (MappingTemplate, error) {
	entries, err := s.checkTemplate(in)
	if err != nil {
		return MappingTemplate{}, err
	}

	now := s.clock.Now()
	t := MappingTemplate{
		ID:          s.ids.NewID().String(),
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		CreatedBy:   ActorFromContext(ctx),
		Entries:     entries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertTemplate(ctx, t); err != nil {
		return MappingTemplate{}, fmt.Errorf("create template: %w", err)
	}

	s.logAudit(ctx, AuditEvent{Action: ActionTemplateCreate, TemplateID: t.ID, Reason: t.Name})
	return t, nil
}

// GetTemplate retrieves a template by ID.
func (s *Service) GetTemplate(ctx context.Context, id string) (MappingTemplate, error) {
	return s.store.GetTemplate(ctx, id)
}

// ListTemplates returns templates ordered by name.
func (s *Service) ListTemplates(ctx context.Context, filter TemplateFilter) ([]MappingTemplate, error) {
	filter.NameContains = strings.TrimSpace(filter.NameContains)
	filter.CreatedBy = strings.TrimSpace(filter.CreatedBy)
	templates, err := s.store.ListTemplates(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// UpdateTemplate replaces the name, description and entries of a template.
func (s *Service) UpdateTemplate(ctx context.Context, id string, in TemplateInput) (MappingTemplate, error) {
	entries, err := s.checkTemplate(in)
	if err != nil {
		return MappingTemplate{}, err
	}

	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return MappingTemplate{}, err
	}
	t.Name = strings.TrimSpace(in.Name)
	t.Description = strings.TrimSpace(in.Description)
	t.Entries = entries
	t.UpdatedAt = s.clock.Now()

	if err := s.store.UpdateTemplate(ctx, t); err != nil {
		return MappingTemplate{}, fmt.Errorf("update template: %w", err)
	}

	s.logAudit(ctx, AuditEvent{Action: ActionTemplateUpdate, TemplateID: t.ID, Reason: t.Name})
	return t, nil
}

// DeleteTemplate removes a template.
func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	if err := s.store.DeleteTemplate(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, AuditEvent{Action: ActionTemplateDelete, TemplateID: id})
	return nil
}

// MatchTemplates finds templates whose source columns mostly appear in
// headers, best match first.
func (s *Service) MatchTemplates(ctx context.Context, headers []string) ([]TemplateMatch, error) {
	templates, err := s.ListTemplates(ctx, TemplateFilter{})
	if err != nil {
		return nil, err
	}

	idx := newColumnIndex(headers)
	var matches []TemplateMatch
	for _, t := range templates {
		score := matchTemplateHeaders(idx, t.Entries)
		if score >= TemplateMatchThreshold {
			matches = append(matches, TemplateMatch{Template: t, MatchScore: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchScore > matches[j].MatchScore
	})
	return matches, nil
}

// matchTemplateHeaders returns the share of the template's source columns
// present in the file.
func matchTemplateHeaders(idx columnIndex, entries ColumnMapping) float64 {
	if len(entries) == 0 {
		return 0
	}
	matched := 0
	for _, e := range entries {
		if _, ok := idx.lookup(e.SourceColumn); ok {
			matched++
		}
	}
	return float64(matched) / float64(len(entries))
}

// checkTemplate validates a template against the schema. Templates may be
// partial, so missing required fields are allowed.
func (s *Service) checkTemplate(in TemplateInput) (ColumnMapping, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, ErrTemplateNameRequired
	}
	return s.schema.normalize(in.Entries)
}

// templateEntries loads the entries of the template named by an override.
func (s *Service) templateEntries(ctx context.Context, o MappingOverride) (ColumnMapping, error) {
	if o.TemplateID == "" {
		return nil, nil
	}
	t, err := s.store.GetTemplate(ctx, o.TemplateID)
	if err != nil {
		return nil, err
	}
	return t.Entries, nil
}

// ----------------------------------------------------------------------------
// Seeds
// ----------------------------------------------------------------------------

//go:embed seeds/templates.yaml
var defaultSeeds []byte

type seedFile struct {
	Templates []TemplateInput `yaml:"templates"`
}

// LoadTemplateSeeds parses a YAML document of the form
//
//	templates:
//	  - name: ...
//	    description: ...
//	    mapping:
//	      - sourceColumn: Finding
//	        targetField: title
func LoadTemplateSeeds(r io.Reader) ([]TemplateInput, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse template seeds: %w", err)
	}
	return f.Templates, nil
}

// DefaultTemplateSeeds returns the templates shipped with the binary.
func DefaultTemplateSeeds() []TemplateInput {
	seeds, err := LoadTemplateSeeds(strings.NewReader(string(defaultSeeds)))
	if err != nil {
		panic(err)
	}
	return seeds
}

// SeedTemplates creates every seed whose name is not taken yet and returns
// how many were created.
func (s *Service) SeedTemplates(ctx context.Context, seeds []TemplateInput) (int, error) {
	created := 0
	for _, in := range seeds {
		_, err := s.CreateTemplate(ctx, in)
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrTemplateExists):
		default:
			return created, fmt.Errorf("seed %q: %w", in.Name, err)
		}
	}
	return created, nil
}
