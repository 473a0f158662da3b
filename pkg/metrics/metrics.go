package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkersRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lanlink_workers_running",
			Help: "Whether a supervised worker is running (1) or not (0)",
		},
		[]string{"worker"},
	)

	WorkerStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lanlink_worker_starts_total",
			Help: "Total number of worker start attempts by result",
		},
		[]string{"worker", "result"},
	)

	WorkerExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lanlink_worker_exits_total",
			Help: "Total number of worker processes that exited without being stopped",
		},
		[]string{"worker"},
	)

	// Control-plane metrics
	ControlRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lanlink_control_requests_total",
			Help: "Total number of edge management requests by command and result",
		},
		[]string{"command", "result"},
	)

	ControlRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lanlink_control_request_duration_seconds",
			Help:    "Edge management request round trip in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2, 3},
		},
		[]string{"command"},
	)

	StaleDatagramsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lanlink_control_stale_datagrams_total",
			Help: "Total number of management datagrams discarded for a tag mismatch",
		},
	)

	// NAT metrics
	NATDetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lanlink_nat_detections_total",
			Help: "Total number of NAT classifications by result",
		},
		[]string{"result"},
	)

	NATDetectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lanlink_nat_detection_duration_seconds",
			Help:    "Time taken to classify the NAT in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 8, 16, 32},
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lanlink_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lanlink_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(WorkersRunning)
	prometheus.MustRegister(WorkerStartsTotal)
	prometheus.MustRegister(WorkerExitsTotal)
	prometheus.MustRegister(ControlRequestsTotal)
	prometheus.MustRegister(ControlRequestDuration)
	prometheus.MustRegister(StaleDatagramsTotal)
	prometheus.MustRegister(NATDetectionsTotal)
	prometheus.MustRegister(NATDetectionDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time in a histogram vec
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}

// SetWorkerRunning updates the running gauge for a worker
func SetWorkerRunning(worker string, running bool) {
	v := 0.0
	if running {
		v = 1
	}
	WorkersRunning.WithLabelValues(worker).Set(v)
}
