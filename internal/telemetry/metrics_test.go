package telemetry

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	JobsSent.WithLabelValues("refund").Inc()
	CronTicks.WithLabelValues(OutcomeRan).Inc()

	// Registration happens once; a second call must not panic.
	_ = Handler()
	h := Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `reconciler_jobs_sent_total{kind="refund"}`)
	assert.Contains(t, string(body), `reconciler_cron_ticks_total{outcome="ran"}`)
}
