package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTimer(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	first := timer.Duration()
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)
	assert.Greater(t, timer.Duration(), first)
}

func TestTimerObserve(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_timer_seconds",
	})
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_timer_vec_seconds",
	}, []string{"command"})

	timer := NewTimer()
	timer.ObserveDuration(histogram)
	timer.ObserveDurationVec(vec, "info")
	timer.ObserveDurationVec(vec, "edges")

	assert.Equal(t, 1, testutil.CollectAndCount(histogram))
	assert.Equal(t, 2, testutil.CollectAndCount(vec))
}

func TestSetWorkerRunning(t *testing.T) {
	SetWorkerRunning("fileserver", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(WorkersRunning.WithLabelValues("fileserver")))

	SetWorkerRunning("fileserver", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(WorkersRunning.WithLabelValues("fileserver")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	WorkerStartsTotal.WithLabelValues("edge", "ok").Inc()
	SetWorkerRunning("edge", true)

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `lanlink_worker_starts_total{result="ok",worker="edge"}`)
	assert.Contains(t, w.Body.String(), "lanlink_workers_running")
}
