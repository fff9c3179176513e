package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveNode("jira", "succeeded")
	ObserveJob("completed")
	ObservePageCall("confluence")
	ObserveRetry("drive")
	ObserveDuplicate("jira")
	ObserveThrottleDelay("jira", 50*time.Millisecond)
	ObserveFetchDuration("jira", 120*time.Millisecond)
	IncActiveWorkers()
	DecActiveWorkers()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "export_nodes_total")
	require.Contains(t, body, "export_jobs_total")
	require.Contains(t, body, "export_page_calls_total")
	require.Contains(t, body, "export_retries_total")
	require.Contains(t, body, "export_duplicates_total")
	require.Contains(t, body, "export_throttle_delay_seconds")
	require.Contains(t, body, "export_fetch_duration_seconds")
	require.Contains(t, body, "export_active_workers")
}
