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

func TestCollector_Counters(t *testing.T) {
	c := New()
	started := time.Now()

	c.ObserveMaps("routes", started, nil)
	c.ObserveMaps("routes", started, errors.New("timeout"))
	c.PushDelivered("eta5")
	c.PushSkippedReason("no_token")
	c.PushTokensRemoved(2)
	c.PushTokensRemoved(0)
	c.LiveUpload("throttled")
	c.Purged("daily", 7)
	c.Purged("receipts", 0)
	c.NATSSetConnected(true)
	c.NATSPublishedInc()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.MapsCalls.WithLabelValues("routes", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.MapsCalls.WithLabelValues("routes", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PushSent.WithLabelValues("eta5")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.PushTokensPurge))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.LiveUploads.WithLabelValues("throttled")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.CleanupPurged.WithLabelValues("daily")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.CleanupPurged), "zero purges add no series")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSPublished))
}

func TestCollector_NilIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveMaps("geocoding", time.Now(), nil)
		c.ObserveHTTP("GET", "/health", 200, time.Now())
		c.ResolverLookup("root", "hit")
		c.EtaComputed("fallback")
		c.GeocodeCacheResult("hit")
		c.PushDelivered("eta15")
		c.PushSkippedReason("duplicate")
		c.PushTokensRemoved(1)
		c.LiveUpload("accepted")
		c.Purged("daily", 1)
		c.NATSPublishedInc()
		c.NATSPublishErrInc()
		c.NATSSetConnected(false)
	})
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.ObserveHTTP("GET", "/api/live/:route", 200, time.Now())

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `bustracker_http_requests_total{method="GET",route="/api/live/:route",status="200"} 1`)
}
