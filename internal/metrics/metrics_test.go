package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("Should count retrieval errors per corpus", func(t *testing.T) {
		m := New()
		m.ObserveQuery("tabular", 10*time.Millisecond, nil)
		m.ObserveQuery("index", 10*time.Millisecond, errors.New("down"))
		m.ObserveQuery("index", 10*time.Millisecond, errors.New("down"))
		assert.Equal(t, 0.0, testutil.ToFloat64(m.queryErrors.WithLabelValues("tabular")))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.queryErrors.WithLabelValues("index")))
	})

	t.Run("Should count parse failures", func(t *testing.T) {
		m := New()
		m.ParseFailure()
		assert.Equal(t, 1.0, testutil.ToFloat64(m.parseFailures))
	})

	t.Run("Should be a no-op when nil", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.ObserveQuery("tabular", time.Second, nil)
			m.ObserveConditions(2)
			m.ObserveRanked(4)
			m.ParseFailure()
		})
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("Should expose collected series over HTTP", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		m := New()
		m.ObserveConditions(2)
		r := gin.New()
		r.Use(m.GinMiddleware())
		r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
		r.GET("/metrics", gin.WrapH(m.Handler()))
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "icdcoder_conditions_per_request_count 1")
		assert.Contains(t, body, `icdcoder_http_requests_total{route="/ping",status="204"} 1`)
	})
}
