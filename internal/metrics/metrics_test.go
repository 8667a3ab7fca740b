package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservers(t *testing.T) {
	before := testutil.ToFloat64(gateDecisions.WithLabelValues("denied"))
	ObserveGate("denied")
	assert.Equal(t, before+1, testutil.ToFloat64(gateDecisions.WithLabelValues("denied")))

	beforeUnchanged := testutil.ToFloat64(files.WithLabelValues("unchanged"))
	ObserveFiles(1, 2, 3)
	assert.Equal(t, beforeUnchanged+3, testutil.ToFloat64(files.WithLabelValues("unchanged")))

	ObserveExtraction("cursor", false)
	assert.GreaterOrEqual(t, testutil.ToFloat64(extractions.WithLabelValues("cursor", "skipped")), 1.0)

	SetSessions(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(sessionsStored))
}

func TestHandler(t *testing.T) {
	ObserveScan("ok", 20*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "sessionvault_scan_cycles_total")
}
