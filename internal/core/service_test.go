package core_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/auditimport/internal/core"
	"github.com/JonMunkholm/auditimport/internal/objectstore"
	"github.com/JonMunkholm/auditimport/internal/store/memory"
	"github.com/JonMunkholm/auditimport/internal/tabular"
)

const scenarioCSV = "Title,Risk,Status\nA,HIGH,OPEN\nB,INVALID,OPEN\nC,LOW,CLOSED\n"

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// recordingSink keeps every audit event.
type recordingSink struct {
	mu     sync.Mutex
	events []core.AuditEvent
}

func (r *recordingSink) RecordAudit(_ context.Context, ev core.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) actions() []core.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.AuditAction, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Action
	}
	return out
}

type harness struct {
	svc   *core.Service
	store *memory.Store
	audit uuid.UUID
	sink  *recordingSink
}

func newHarness(t *testing.T, store core.Store, mem *memory.Store, opts core.Options) *harness {
	t.Helper()
	audit := uuid.New()
	mem.AddReference(core.Reference{Kind: core.RefAudit, ID: audit, Name: "FY26 Procurement"})

	sink := &recordingSink{}
	svc, err := core.NewService(core.Deps{
		Store:   store,
		Objects: objectstore.NewMemory(),
		Audit:   sink,
		Clock:   fixedClock{t: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)},
	}, opts)
	require.NoError(t, err)
	return &harness{svc: svc, store: mem, audit: audit, sink: sink}
}

func newMemHarness(t *testing.T) *harness {
	mem := memory.New()
	return newHarness(t, mem, mem, core.Options{})
}

func (h *harness) upload(t *testing.T, name, data string) core.Job {
	t.Helper()
	job, err := h.svc.Upload(context.Background(), core.UploadInput{
		FileName:      name,
		Data:          []byte(data),
		TargetAuditID: h.audit,
		UploadedBy:    "auditor@example.com",
	})
	require.NoError(t, err)
	return job
}

// ----------------------------------------------------------------------------
// End-to-end
// ----------------------------------------------------------------------------

func TestImport_EndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)

	job := h.upload(t, "findings.csv", scenarioCSV)
	assert.Equal(t, core.StatusUploaded, job.Status)
	assert.Equal(t, 3, job.TotalRows)
	assert.Equal(t, "imports/"+job.ID+"/findings.csv", job.FileKey)

	report, err := h.svc.Validate(ctx, job.ID, core.MappingOverride{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.TotalRows)
	assert.Equal(t, 2, report.ValidCount)
	assert.Equal(t, 1, report.InvalidCount)
	require.Len(t, report.SampleErrors, 1)
	assert.Equal(t, 2, report.SampleErrors[0].Row)
	assert.Empty(t, h.store.Observations(job.ID), "validate must not create records")

	result, err := h.svc.Execute(ctx, job.ID, core.MappingOverride{})
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, result.Status)
	assert.Equal(t, 3, result.TotalRows)
	assert.Equal(t, 2, result.SuccessfulRows)
	assert.Equal(t, 1, result.FailedRows)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 2, result.Errors[0].Row)

	created := h.store.Observations(job.ID)
	require.Len(t, created, 2)
	for _, obs := range created {
		assert.Equal(t, h.audit, obs.AuditID)
		assert.Equal(t, job.ID, obs.ImportJobID)
	}

	snap, err := h.svc.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, snap.Status)
	assert.Equal(t, snap.TotalRows, snap.SuccessfulRows+snap.FailedRows)
	assert.Len(t, snap.Errors, 1)

	rb, err := h.svc.Rollback(ctx, job.ID, "wrong audit selected", "lead@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, rb.Reversed)
	assert.Equal(t, 0, rb.Skipped)
	assert.Empty(t, h.store.Observations(job.ID))

	final, err := h.svc.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRolledBack, final.Status)
	assert.Equal(t, "wrong audit selected", final.RollbackReason)
	assert.Equal(t, "lead@example.com", final.RolledBackBy)
	assert.Equal(t, 2, final.RolledBackRows)
	assert.False(t, final.Active)

	assert.Equal(t, []core.AuditAction{
		core.ActionUpload, core.ActionValidate, core.ActionExecute, core.ActionRollback,
	}, h.sink.actions())
}

func TestExecute_OutcomesCoverEveryRow(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	job := h.upload(t, "findings.csv", scenarioCSV)

	_, err := h.svc.Execute(ctx, job.ID, core.MappingOverride{})
	require.NoError(t, err)

	outcomes, err := h.svc.ListOutcomes(ctx, job.ID, core.OutcomeFilter{})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	for i, o := range outcomes {
		assert.Equal(t, i+1, o.Row)
	}
	assert.Equal(t, core.OutcomeCreated, outcomes[0].Outcome)
	assert.NotEmpty(t, outcomes[0].RecordID)
	assert.Equal(t, core.OutcomeRejected, outcomes[1].Outcome)
	assert.Equal(t, core.OutcomeCreated, outcomes[2].Outcome)

	rejected, err := h.svc.ListOutcomes(ctx, job.ID, core.OutcomeFilter{Outcome: core.OutcomeRejected})
	require.NoError(t, err)
	assert.Len(t, rejected, 1)

	_, err = h.svc.ListOutcomes(ctx, job.ID, core.OutcomeFilter{Limit: 5000})
	assert.ErrorIs(t, err, core.ErrInvalidFilter)
}

func TestExecute_WithoutValidate(t *testing.T) {
	h := newMemHarness(t)
	job := h.upload(t, "findings.csv", scenarioCSV)

	result, err := h.svc.Execute(context.Background(), job.ID, core.MappingOverride{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessfulRows)
}

func TestExecute_ExplicitMapping(t *testing.T) {
	h := newMemHarness(t)
	job := h.upload(t, "export.csv", "Col A,Col B\nLate approvals,medium\n")

	_, err := h.svc.Validate(context.Background(), job.ID, core.MappingOverride{})
	var merr *core.MappingError
	require.ErrorAs(t, err, &merr)

	got, err := h.svc.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusUploaded, got.Status, "a failed validate leaves the job untouched")

	result, err := h.svc.Execute(context.Background(), job.ID, core.MappingOverride{
		Entries: core.ColumnMapping{
			{SourceColumn: "Col A", TargetField: core.FieldNameTitle},
			{SourceColumn: "Col B", TargetField: core.FieldNameRiskRating},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.SuccessfulRows)

	obs := h.store.Observations(job.ID)
	require.Len(t, obs, 1)
	assert.Equal(t, "Late approvals", obs[0].Title)
	assert.Equal(t, core.RiskMedium, obs[0].RiskRating)
}

func TestExecute_ReusesValidatedMapping(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	job := h.upload(t, "export.csv", "Col A,Col B\nLate approvals,medium\n")

	override := core.MappingOverride{Entries: core.ColumnMapping{
		{SourceColumn: "Col A", TargetField: core.FieldNameTitle},
		{SourceColumn: "Col B", TargetField: core.FieldNameRiskRating},
	}}
	_, err := h.svc.Validate(ctx, job.ID, override)
	require.NoError(t, err)

	result, err := h.svc.Execute(ctx, job.ID, core.MappingOverride{})
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, result.Status)
}

func TestExecute_NoValidRowsFails(t *testing.T) {
	h := newMemHarness(t)
	job := h.upload(t, "findings.csv", "Title,Risk\nA,nope\nB,\n")

	result, err := h.svc.Execute(context.Background(), job.ID, core.MappingOverride{})
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, result.Status)
	assert.Equal(t, 2, result.FailedRows)

	_, err = h.svc.Rollback(context.Background(), job.ID, "cleanup", "")
	assert.ErrorIs(t, err, core.ErrJobNotCompleted)
}

func TestExecute_HeaderOnlyFile(t *testing.T) {
	h := newMemHarness(t)
	job := h.upload(t, "findings.csv", "Title,Risk\n")

	result, err := h.svc.Execute(context.Background(), job.ID, core.MappingOverride{})
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, result.Status)
	assert.Equal(t, 0, result.TotalRows)
	assert.NotNil(t, result.Errors)
}

// ----------------------------------------------------------------------------
// State machine
// ----------------------------------------------------------------------------

func TestStateGuards(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	job := h.upload(t, "findings.csv", scenarioCSV)

	_, err := h.svc.Rollback(ctx, job.ID, "too early", "")
	assert.ErrorIs(t, err, core.ErrJobNotCompleted)

	_, err = h.svc.Execute(ctx, job.ID, core.MappingOverride{})
	require.NoError(t, err)

	_, err = h.svc.Execute(ctx, job.ID, core.MappingOverride{})
	assert.ErrorIs(t, err, core.ErrJobAlreadyCompleted)
	_, err = h.svc.Validate(ctx, job.ID, core.MappingOverride{})
	assert.ErrorIs(t, err, core.ErrJobAlreadyCompleted)

	_, err = h.svc.Rollback(ctx, job.ID, "  ", "")
	assert.ErrorIs(t, err, core.ErrRollbackReasonRequired)

	_, err = h.svc.Rollback(ctx, job.ID, "duplicate", "")
	require.NoError(t, err)

	_, err = h.svc.Rollback(ctx, job.ID, "again", "")
	assert.ErrorIs(t, err, core.ErrJobAlreadyRolledBack)
	_, err = h.svc.Execute(ctx, job.ID, core.MappingOverride{})
	assert.ErrorIs(t, err, core.ErrJobAlreadyRolledBack)

	_, err = h.svc.GetStatus(ctx, "no-such-job")
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestUpload_Rejections(t *testing.T) {
	mem := memory.New()
	h := newHarness(t, mem, mem, core.Options{MaxFileSize: 64})
	ctx := context.Background()

	_, err := h.svc.Upload(ctx, core.UploadInput{})
	assert.ErrorIs(t, err, core.ErrNoFile)

	_, err = h.svc.Upload(ctx, core.UploadInput{FileName: "notes.pdf", Data: []byte("x"), TargetAuditID: h.audit})
	assert.ErrorIs(t, err, tabular.ErrUnsupportedFormat)

	_, err = h.svc.Upload(ctx, core.UploadInput{FileName: "a.csv", Data: bytes.Repeat([]byte("a"), 65), TargetAuditID: h.audit})
	assert.ErrorIs(t, err, core.ErrFileTooLarge)

	_, err = h.svc.Upload(ctx, core.UploadInput{FileName: "a.csv", Data: []byte("Title\nA\n")})
	assert.ErrorIs(t, err, core.ErrTargetRequired)

	_, err = h.svc.Upload(ctx, core.UploadInput{FileName: "a.csv", Data: []byte("\n\n"), TargetAuditID: h.audit})
	assert.ErrorIs(t, err, tabular.ErrEmptyFile)
}

// ----------------------------------------------------------------------------
// Rollback
// ----------------------------------------------------------------------------

func TestRollback_SkipsMissingRecords(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	job := h.upload(t, "findings.csv", scenarioCSV)
	_, err := h.svc.Execute(ctx, job.ID, core.MappingOverride{})
	require.NoError(t, err)

	created := h.store.Observations(job.ID)
	require.Len(t, created, 2)
	removed, err := h.store.HardDelete(ctx, core.KindObservation, created[0].ID)
	require.NoError(t, err)
	require.True(t, removed)

	rb, err := h.svc.Rollback(ctx, job.ID, "cleanup", "")
	require.NoError(t, err)
	assert.Equal(t, 1, rb.Reversed)
	assert.Equal(t, 1, rb.Skipped)

	_, err = h.store.GetObservation(ctx, created[1].ID)
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
}

func TestRollbackManager_ReversesNewestFirst(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	job := h.upload(t, "findings.csv", "Title,Risk\nA,LOW\nB,LOW\nC,LOW\n")
	_, err := h.svc.Execute(ctx, job.ID, core.MappingOverride{})
	require.NoError(t, err)

	manifest, err := h.store.ListManifest(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, manifest, 3)
	for i, e := range manifest {
		assert.Equal(t, i+1, e.Seq)
	}

	var order []uuid.UUID
	spy := &deleteSpy{Store: h.store, order: &order}
	reversed, total, err := core.RollbackManager{}.Reverse(ctx, spy, job.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, reversed)
	assert.Equal(t, 3, total)
	assert.Equal(t, []uuid.UUID{manifest[2].RecordID, manifest[1].RecordID, manifest[0].RecordID}, order)
}

type deleteSpy struct {
	*memory.Store
	order *[]uuid.UUID
}

func (d *deleteSpy) SoftDelete(ctx context.Context, kind core.RecordKind, id uuid.UUID, at time.Time) (bool, error) {
	*d.order = append(*d.order, id)
	return d.Store.SoftDelete(ctx, kind, id, at)
}

// ----------------------------------------------------------------------------
// Concurrency
// ----------------------------------------------------------------------------

// gatedStore blocks the first transaction until released, holding a job in
// EXECUTING.
type gatedStore struct {
	*memory.Store
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gatedStore) InTx(ctx context.Context, fn func(tx core.Store) error) error {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	return g.Store.InTx(ctx, fn)
}

func TestExecute_ConcurrentCallsCreateOnce(t *testing.T) {
	mem := memory.New()
	gated := &gatedStore{Store: mem, started: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, gated, mem, core.Options{})
	job := h.upload(t, "findings.csv", scenarioCSV)

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Execute(context.Background(), job.ID, core.MappingOverride{})
		done <- err
	}()

	<-gated.started
	_, err := h.svc.Execute(context.Background(), job.ID, core.MappingOverride{})
	assert.ErrorIs(t, err, core.ErrJobAlreadyExecuting)

	snap, err := h.svc.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusExecuting, snap.Status)

	close(gated.release)
	require.NoError(t, <-done)
	assert.Len(t, mem.Observations(job.ID), 2)
}

func TestRollback_ConcurrentCallsReverseOnce(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	job := h.upload(t, "findings.csv", scenarioCSV)
	_, err := h.svc.Execute(ctx, job.ID, core.MappingOverride{})
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Rollback(ctx, job.ID, "duplicate import", "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, core.ErrJobAlreadyRolledBack)
	}
	assert.Equal(t, 1, ok)
}

// ----------------------------------------------------------------------------
// Executor fallback
// ----------------------------------------------------------------------------

// flakyStore fails CreateObservation for one title inside transactions.
type flakyStore struct {
	*memory.Store
	failTitle string
}

func (f *flakyStore) InTx(ctx context.Context, fn func(tx core.Store) error) error {
	return f.Store.InTx(ctx, func(tx core.Store) error {
		return fn(flakyTx{Store: tx, failTitle: f.failTitle})
	})
}

type flakyTx struct {
	core.Store
	failTitle string
}

func (t flakyTx) CreateObservation(ctx context.Context, obs core.Observation) error {
	if obs.Title == t.failTitle {
		return errors.New(`duplicate key value violates unique constraint "observations_pkey"`)
	}
	return t.Store.CreateObservation(ctx, obs)
}

func TestExecute_BatchFallsBackToRows(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	flaky := &flakyStore{Store: mem, failTitle: "C"}
	h := newHarness(t, flaky, mem, core.Options{BatchSize: 2})

	job := h.upload(t, "findings.csv", "Title,Risk\nA,LOW\nB,LOW\nC,LOW\nD,LOW\nE,LOW\n")
	result, err := h.svc.Execute(ctx, job.ID, core.MappingOverride{})
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, result.Status)
	assert.Equal(t, 4, result.SuccessfulRows)
	assert.Equal(t, 1, result.FailedRows)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 3, result.Errors[0].Row)
	assert.Equal(t, "DB001", result.Errors[0].Errors[0].Code)

	assert.Len(t, mem.Observations(job.ID), 4)

	manifest, err := mem.ListManifest(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, manifest, 4)
	for i, e := range manifest {
		assert.Equal(t, i+1, e.Seq, "manifest sequence has no gaps")
	}

	outcomes, err := mem.ListOutcomes(ctx, job.ID, core.OutcomeFilter{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, outcomes, 5)

	rb, err := h.svc.Rollback(ctx, job.ID, "bad batch", "")
	require.NoError(t, err)
	assert.Equal(t, 4, rb.Reversed)
}

func TestExecute_CountersAfterEachBatch(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	spy := &counterSpy{Store: mem}
	h := newHarness(t, spy, mem, core.Options{BatchSize: 2})

	job := h.upload(t, "findings.csv", "Title,Risk\nA,LOW\nB,\nC,LOW\nD,LOW\nE,LOW\n")
	spy.jobID = job.ID
	_, err := h.svc.Execute(ctx, job.ID, core.MappingOverride{})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 4, 5}, spy.processed)
}

// counterSpy records ProcessedRows after each committed transaction.
type counterSpy struct {
	*memory.Store
	jobID     string
	processed []int
}

func (c *counterSpy) InTx(ctx context.Context, fn func(tx core.Store) error) error {
	if err := c.Store.InTx(ctx, fn); err != nil {
		return err
	}
	if job, err := c.Store.GetJob(ctx, c.jobID); err == nil && job.Status == core.StatusExecuting {
		c.processed = append(c.processed, job.ProcessedRows)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Limiter
// ----------------------------------------------------------------------------

func TestExecute_LimiterBusy(t *testing.T) {
	mem := memory.New()
	h := newHarness(t, mem, mem, core.Options{MaxConcurrent: 1, MaxWait: 20 * time.Millisecond})
	job := h.upload(t, "findings.csv", scenarioCSV)

	require.True(t, h.svc.Limiter().TryAcquire())
	defer h.svc.Limiter().Release()

	_, err := h.svc.Execute(context.Background(), job.ID, core.MappingOverride{})
	assert.ErrorIs(t, err, core.ErrTooManyImports)

	snap, err := h.svc.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusUploaded, snap.Status)
}

func TestExecute_LimiterBusyKeepsValidatedMapping(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	h := newHarness(t, mem, mem, core.Options{MaxConcurrent: 1, MaxWait: 20 * time.Millisecond})
	job := h.upload(t, "findings.csv", scenarioCSV)

	_, err := h.svc.Validate(ctx, job.ID, core.MappingOverride{})
	require.NoError(t, err)
	before, err := h.svc.GetStatus(ctx, job.ID)
	require.NoError(t, err)

	require.True(t, h.svc.Limiter().TryAcquire())
	defer h.svc.Limiter().Release()

	_, err = h.svc.Execute(ctx, job.ID, core.MappingOverride{})
	assert.ErrorIs(t, err, core.ErrTooManyImports)

	after, err := h.svc.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusValidated, after.Status)
	assert.Equal(t, before.Mapping, after.Mapping)
	assert.Nil(t, after.ExecutedAt)
}

func TestExecute_SecondCallFailsFastWhileWaitingForSlot(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	h := newHarness(t, mem, mem, core.Options{MaxConcurrent: 1, MaxWait: 5 * time.Second})
	job := h.upload(t, "findings.csv", scenarioCSV)

	// Another import holds the only slot.
	require.True(t, h.svc.Limiter().TryAcquire())

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Execute(ctx, job.ID, core.MappingOverride{})
		done <- err
	}()

	require.Eventually(t, func() bool {
		snap, err := h.svc.GetStatus(ctx, job.ID)
		return err == nil && snap.Status == core.StatusExecuting
	}, time.Second, 5*time.Millisecond)

	start := time.Now()
	_, err := h.svc.Execute(ctx, job.ID, core.MappingOverride{})
	assert.ErrorIs(t, err, core.ErrJobAlreadyExecuting)
	assert.Less(t, time.Since(start), time.Second)

	h.svc.Limiter().Release()
	require.NoError(t, <-done)

	snap, err := h.svc.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, snap.Status)
	assert.Len(t, mem.Observations(job.ID), 2)
}

// ----------------------------------------------------------------------------
// Export / detect
// ----------------------------------------------------------------------------

func TestExportRejected(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	job := h.upload(t, "findings.csv", scenarioCSV)
	_, err := h.svc.Execute(ctx, job.ID, core.MappingOverride{})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := h.svc.ExportRejected(ctx, job.ID, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"Title", "Risk", "Status", "Row", "Errors"}, records[0])
	assert.Equal(t, []string{"B", "INVALID", "OPEN", "2"}, records[1][:4])
	assert.Contains(t, records[1][4], "Risk:")
}

func TestDetectColumns(t *testing.T) {
	ctx := context.Background()
	h := newMemHarness(t)
	_, err := h.svc.SeedTemplates(ctx, core.DefaultTemplateSeeds())
	require.NoError(t, err)

	data := "Finding,Condition,Risk Rating,Management Action,Action Owner,Target Date\n" +
		"Segregation of duties,AP clerk can approve,High,Split roles,CFO,2027-01-31\n"
	det, err := h.svc.DetectColumns(ctx, "register.csv", []byte(data))
	require.NoError(t, err)

	assert.Len(t, det.Headers, 6)
	assert.Equal(t, 1, det.TotalRows)
	assert.Len(t, det.SampleRows, 1)
	_, ok := det.AutoMapping.ForTarget(core.FieldNameTitle)
	assert.True(t, ok)
	require.NotEmpty(t, det.MatchingTemplates)
	assert.Equal(t, "Internal audit findings register", det.MatchingTemplates[0].Template.Name)
	assert.InDelta(t, 1.0, det.MatchingTemplates[0].MatchScore, 0.001)

	_, err = h.svc.DetectColumns(ctx, "register.csv", nil)
	assert.ErrorIs(t, err, core.ErrNoFile)
}
