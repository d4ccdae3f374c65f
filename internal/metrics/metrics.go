package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oncue_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oncue_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "oncue_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "oncue_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "oncue_db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "oncue_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oncue_executions_total",
			Help: "Total number of finished executions",
		},
		[]string{"job", "status"},
	)

	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oncue_execution_duration_seconds",
			Help:    "Script execution time in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300, 600},
		},
		[]string{"job"},
	)

	firesClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oncue_fires_claimed_total",
			Help: "Total number of job fires claimed for execution",
		},
		[]string{"trigger"},
	)

	rescheduleRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oncue_scheduler_reschedule_retries_total",
			Help: "Total number of retried next-fire persistence attempts",
		},
	)

	executorTasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oncue_executor_tasks",
			Help: "Number of tasks held by the executor pool",
		},
		[]string{"state"},
	)

	jobsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oncue_jobs",
			Help: "Number of registered jobs",
		},
		[]string{"state"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func IncrementInFlight() {
	httpRequestsInFlight.Inc()
}

func DecrementInFlight() {
	httpRequestsInFlight.Dec()
}

func UpdateDBStats(open, inUse, idle int) {
	dbConnectionsOpen.Set(float64(open))
	dbConnectionsInUse.Set(float64(inUse))
	dbConnectionsIdle.Set(float64(idle))
}

func RecordExecution(job, status string, duration time.Duration) {
	executionsTotal.WithLabelValues(job, status).Inc()
	executionDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func RecordFireClaimed(trigger string) {
	firesClaimed.WithLabelValues(trigger).Inc()
}

func RecordRescheduleRetry() {
	rescheduleRetries.Inc()
}

func UpdateExecutorStats(queued, overflow, running int) {
	executorTasks.WithLabelValues("queued").Set(float64(queued))
	executorTasks.WithLabelValues("overflow").Set(float64(overflow))
	executorTasks.WithLabelValues("running").Set(float64(running))
}

func UpdateJobStats(total, enabled, degraded int64) {
	jobsByState.WithLabelValues("total").Set(float64(total))
	jobsByState.WithLabelValues("enabled").Set(float64(enabled))
	jobsByState.WithLabelValues("degraded").Set(float64(degraded))
}

// NormalizePath rewrites a routing pattern like /api/jobs/{id} to
// /api/jobs/:id so label values stay readable and bounded.
func NormalizePath(path string) string {
	if len(path) > 100 {
		path = path[:100]
	}

	var b strings.Builder
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '{':
			b.WriteByte(':')
		case '}':
		default:
			b.WriteByte(path[i])
		}
	}
	return b.String()
}
