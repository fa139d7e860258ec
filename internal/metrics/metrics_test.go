package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observations(t *testing.T) {
	t.Parallel()

	m, err := New()
	require.NoError(t, err)

	m.ObserveSubmission("safe")
	m.ObserveSubmission("safe")
	m.ObserveSubmission("inappropriate")
	assert.InDelta(t, 2, testutil.ToFloat64(m.Submissions.WithLabelValues("safe")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Submissions.WithLabelValues("inappropriate")), 0)

	m.ObserveCollaborator("caption", 120*time.Millisecond, nil)
	m.ObserveCollaborator("classify", 80*time.Millisecond, errors.New("down"))
	assert.InDelta(t, 0, testutil.ToFloat64(m.CollaboratorErrors.WithLabelValues("caption")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CollaboratorErrors.WithLabelValues("classify")), 0)

	m.ObserveStore("append", nil)
	m.ObserveStore("append", errors.New("disk full"))
	assert.InDelta(t, 1, testutil.ToFloat64(m.StoreOperations.WithLabelValues("append", "error")), 0)

	m.ObserveCaptionCache(true)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CaptionCacheLookups.WithLabelValues("hit")), 0)

	m.SetRecords(42)
	assert.InDelta(t, 42, testutil.ToFloat64(m.Records), 0)
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m, err := New()
	require.NoError(t, err)
	m.ObserveSubmission("safe")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `safepost_submissions_total{classification="safe"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
