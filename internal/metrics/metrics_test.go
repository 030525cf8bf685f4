package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/auditimport/internal/core"
)

func TestRecorder_PipelineMetrics(t *testing.T) {
	r := New()

	r.JobTransition(core.StatusExecuting)
	r.JobTransition(core.StatusCompleted)
	r.JobTransition(core.StatusCompleted)
	r.RowsProcessed(core.OutcomeCreated, 98)
	r.RowsProcessed(core.OutcomeRejected, 2)
	r.RowsProcessed(core.OutcomeRejected, 0)
	r.BatchCommitted(false, 10*time.Millisecond)
	r.BatchCommitted(true, 50*time.Millisecond)
	r.RecordsRolledBack(98)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.jobTransitions.WithLabelValues("COMPLETED")))
	assert.Equal(t, 98.0, testutil.ToFloat64(r.rows.WithLabelValues("CREATED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.rows.WithLabelValues("REJECTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.batches.WithLabelValues("per_row")))
	assert.Equal(t, 98.0, testutil.ToFloat64(r.rolledBack))
}

func TestRecorder_Instrument(t *testing.T) {
	r := New()
	h := r.Instrument("imports.get", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/imports/x", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/imports/y", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.httpRequests.WithLabelValues("imports.get", "4xx")))
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.JobTransition(core.StatusUploaded)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `auditimport_job_transitions_total{status="UPLOADED"} 1`))
}

func TestResultClass(t *testing.T) {
	assert.Equal(t, "2xx", resultClass(204))
	assert.Equal(t, "5xx", resultClass(503))
	assert.Equal(t, "42", resultClass(42))
}
