package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/auditimport/internal/core"
)

func TestUpdateJob_CompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertJob(ctx, core.Job{ID: "j1", Status: core.StatusUploaded}))

	job, err := s.UpdateJob(ctx, "j1", []core.JobStatus{core.StatusUploaded}, func(j *core.Job) error {
		j.Status = core.StatusExecuting
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusExecuting, job.Status)

	current, err := s.UpdateJob(ctx, "j1", []core.JobStatus{core.StatusUploaded}, func(j *core.Job) error {
		t.Fatal("fn must not run on conflict")
		return nil
	})
	assert.ErrorIs(t, err, core.ErrStatusConflict)
	assert.Equal(t, core.StatusExecuting, current.Status)

	_, err = s.UpdateJob(ctx, "nope", nil, nil)
	assert.ErrorIs(t, err, core.ErrJobNotFound)

	assert.Error(t, s.InsertJob(ctx, core.Job{ID: "j1"}))
}

func TestInTx_DiscardsOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	obs := core.Observation{ID: uuid.New(), ImportJobID: "j1", Title: "A"}

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx core.Store) error {
		require.NoError(t, tx.CreateObservation(ctx, obs))
		require.NoError(t, tx.AppendManifest(ctx, []core.ManifestEntry{{JobID: "j1", Seq: 1, Kind: core.KindObservation, RecordID: obs.ID}}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetObservation(ctx, obs.ID)
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
	manifest, err := s.ListManifest(ctx, "j1")
	require.NoError(t, err)
	assert.Empty(t, manifest)
}

func TestInTx_Nested(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := core.Observation{ID: uuid.New(), ImportJobID: "j1"}
	b := core.Observation{ID: uuid.New(), ImportJobID: "j1"}

	err := s.InTx(ctx, func(tx core.Store) error {
		require.NoError(t, tx.CreateObservation(ctx, a))
		inner := tx.InTx(ctx, func(tx core.Store) error {
			require.NoError(t, tx.CreateObservation(ctx, b))
			return errors.New("inner failed")
		})
		assert.Error(t, inner)
		return nil
	})
	require.NoError(t, err)

	_, err = s.GetObservation(ctx, a.ID)
	assert.NoError(t, err)
	_, err = s.GetObservation(ctx, b.ID)
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
}

func TestDeletes(t *testing.T) {
	ctx := context.Background()
	s := New()
	obs := core.Observation{ID: uuid.New(), ImportJobID: "j1"}
	require.NoError(t, s.CreateObservation(ctx, obs))
	assert.Error(t, s.CreateObservation(ctx, obs), "duplicate id")

	removed, err := s.SoftDelete(ctx, core.KindObservation, obs.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.SoftDelete(ctx, core.KindObservation, obs.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, removed, "already soft-deleted")
	assert.Empty(t, s.Observations("j1"))

	removed, err = s.HardDelete(ctx, core.KindObservation, uuid.New())
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestListOutcomes_FilterAndPage(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.AppendOutcomes(ctx, "j1", []core.RowOutcome{
		{Row: 3, Outcome: core.OutcomeCreated},
		{Row: 1, Outcome: core.OutcomeRejected},
		{Row: 2, Outcome: core.OutcomeCreated},
	}))

	all, err := s.ListOutcomes(ctx, "j1", core.OutcomeFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{all[0].Row, all[1].Row, all[2].Row})

	created, err := s.ListOutcomes(ctx, "j1", core.OutcomeFilter{Outcome: core.OutcomeCreated, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, 3, created[0].Row)
}

func TestLookupReference(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := uuid.New()
	s.AddReference(core.Reference{Kind: core.RefEntity, ID: id, Name: "Treasury"})

	ref, err := s.LookupReference(ctx, core.RefEntity, id)
	require.NoError(t, err)
	got, ok := ref.Get()
	require.True(t, ok)
	assert.Equal(t, "Treasury", got.Name)

	ref, err = s.LookupReference(ctx, core.RefAudit, id)
	require.NoError(t, err)
	assert.False(t, ref.Present())
}
