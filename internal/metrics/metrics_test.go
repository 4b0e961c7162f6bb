package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(GinMiddleware())
	router.GET("/api/audit/:report_id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/audit/:report_id", "404"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/audit/RPT-1", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/audit/:report_id", "404"))
	assert.Equal(t, before+1, after)
	assert.Equal(t, 0.0, testutil.ToFloat64(httpRequestsInFlight))
}

func TestPipelineCounters(t *testing.T) {
	before := testutil.ToFloat64(reportsProcessed.WithLabelValues("HIGH", "ESCALATE"))
	RecordReport("HIGH", "ESCALATE", 25*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(reportsProcessed.WithLabelValues("HIGH", "ESCALATE")))

	failures := testutil.ToFloat64(auditWriteFailures)
	RecordAuditWriteFailure()
	assert.Equal(t, failures+1, testutil.ToFloat64(auditWriteFailures))

	sent := testutil.ToFloat64(emailsTotal.WithLabelValues("sent"))
	RecordEmail("sent")
	assert.Equal(t, sent+1, testutil.ToFloat64(emailsTotal.WithLabelValues("sent")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordIndexUpsertFailure()

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "pv_index_upsert_failures_total"))
}
