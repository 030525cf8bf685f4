package core_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/auditimport/internal/core"
)

func registerTemplate() core.TemplateInput {
	return core.TemplateInput{
		Name:        "Findings register",
		Description: "Monthly export",
		Entries: core.ColumnMapping{
			{SourceColumn: "Finding", TargetField: core.FieldNameTitle},
			{SourceColumn: "Grade", TargetField: core.FieldNameRiskRating},
			{SourceColumn: "Owner", TargetField: core.FieldNameOwner},
		},
	}
}

func TestTemplates_CRUD(t *testing.T) {
	ctx := core.ContextWithActor(context.Background(), "admin@example.com")
	h := newMemHarness(t)

	created, err := h.svc.CreateTemplate(ctx, registerTemplate())
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "admin@example.com", created.CreatedBy)
	require.Len(t, created.Entries, 3)
	assert.True(t, created.Entries[0].Required)

	got, err := h.svc.GetTemplate(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, got.Name)

	in := registerTemplate()
	in.Name = "Findings register v2"
	in.Entries = in.Entries[:2]
	updated, err := h.svc.UpdateTemplate(ctx, created.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "Findings register v2", updated.Name)
	assert.Len(t, updated.Entries, 2)

	list, err := h.svc.ListTemplates(ctx, core.TemplateFilter{NameContains: "v2"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, h.svc.DeleteTemplate(ctx, created.ID))
	_, err = h.svc.GetTemplate(ctx, created.ID)
	assert.ErrorIs(t, err, core.ErrTemplateNotFound)
	assert.ErrorIs(t, h.svc.DeleteTemplate(ctx, created.ID), core.ErrTemplateNotFound)

	assert.Equal(t, []core.AuditAction{
		core.ActionTemplateCreate, core.ActionTemplateUpdate, core.ActionTemplateDelete,
	}, h.sink.actions())
}

func TestTemplates_Rejections(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)

	_, err := h.svc.CreateTemplate(ctx, registerTemplate())
	require.NoError(t, err)

	dup := registerTemplate()
	dup.Name = strings.ToUpper(dup.Name)
	_, err = h.svc.CreateTemplate(ctx, dup)
	assert.ErrorIs(t, err, core.ErrTemplateExists)

	_, err = h.svc.CreateTemplate(ctx, core.TemplateInput{Name: "  "})
	assert.ErrorIs(t, err, core.ErrTemplateNameRequired)

	bad := registerTemplate()
	bad.Name = "Bad"
	bad.Entries = append(bad.Entries, core.MappingEntry{SourceColumn: "Colour", TargetField: "colour"})
	_, err = h.svc.CreateTemplate(ctx, bad)
	assert.ErrorIs(t, err, core.ErrUnknownTargetField)

	// Templates may be partial: no required field is needed.
	_, err = h.svc.CreateTemplate(ctx, core.TemplateInput{
		Name:    "Owners only",
		Entries: core.ColumnMapping{{SourceColumn: "Owner", TargetField: core.FieldNameOwner}},
	})
	assert.NoError(t, err)

	_, err = h.svc.UpdateTemplate(ctx, "missing", registerTemplate())
	assert.ErrorIs(t, err, core.ErrTemplateNotFound)
}

func TestTemplates_DrivesExecute(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	tmpl, err := h.svc.CreateTemplate(ctx, registerTemplate())
	require.NoError(t, err)

	job := h.upload(t, "register.csv", "Finding,Grade,Owner\nUnreconciled suspense account,critical,Controller\n")

	report, err := h.svc.Validate(ctx, job.ID, core.MappingOverride{TemplateID: tmpl.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ValidCount)
	entry, ok := report.ResolvedMapping.ForTarget(core.FieldNameRiskRating)
	require.True(t, ok)
	assert.Equal(t, "Grade", entry.SourceColumn)

	result, err := h.svc.Execute(ctx, job.ID, core.MappingOverride{TemplateID: tmpl.ID})
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, result.Status)

	obs := h.store.Observations(job.ID)
	require.Len(t, obs, 1)
	assert.Equal(t, core.RiskCritical, obs[0].RiskRating)
	assert.Equal(t, "Controller", obs[0].Owner)

	other := h.upload(t, "register.csv", "Finding,Grade\nX,LOW\n")
	_, err = h.svc.Validate(ctx, other.ID, core.MappingOverride{TemplateID: "missing"})
	assert.ErrorIs(t, err, core.ErrTemplateNotFound)
}

func TestMatchTemplates(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	_, err := h.svc.CreateTemplate(ctx, registerTemplate())
	require.NoError(t, err)

	tests := []struct {
		name    string
		headers []string
		want    int
	}{
		{name: "all columns", headers: []string{"finding", "GRADE", "Owner"}, want: 1},
		{name: "two of three below threshold", headers: []string{"Finding", "Grade"}, want: 0},
		{name: "none", headers: []string{"Title", "Risk"}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches, err := h.svc.MatchTemplates(ctx, tt.headers)
			require.NoError(t, err)
			assert.Len(t, matches, tt.want)
		})
	}
}

// ----------------------------------------------------------------------------
// Seeds
// ----------------------------------------------------------------------------

func TestDefaultTemplateSeeds(t *testing.T) {
	seeds := core.DefaultTemplateSeeds()
	require.Len(t, seeds, 2)
	for _, s := range seeds {
		assert.NotEmpty(t, s.Name)
		_, err := core.ObservationSchema.ApplyAndValidate(s.Entries)
		assert.NoError(t, err, "seed %q should map every required field", s.Name)
	}
}

func TestSeedTemplates_Idempotent(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)

	n, err := h.svc.SeedTemplates(ctx, core.DefaultTemplateSeeds())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = h.svc.SeedTemplates(ctx, core.DefaultTemplateSeeds())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLoadTemplateSeeds(t *testing.T) {
	seeds, err := core.LoadTemplateSeeds(strings.NewReader(`
templates:
  - name: Minimal
    mapping:
      - sourceColumn: Issue
        targetField: title
`))
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, "Issue", seeds[0].Entries[0].SourceColumn)

	_, err = core.LoadTemplateSeeds(strings.NewReader("templates:\n  - nmae: typo\n"))
	assert.Error(t, err, "unknown keys are rejected")

	seeds, err = core.LoadTemplateSeeds(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, seeds)
}
