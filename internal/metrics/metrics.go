package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const prefix = "orchestrator_"

var jobsCreated = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: prefix + "jobs_created_total",
		Help: "Number of jobs accepted for execution",
	},
)

var jobsFinished = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "jobs_finished_total",
		Help: "Number of jobs that reached a terminal status",
	},
	[]string{"status"},
)

var stageDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    prefix + "stage_duration_seconds",
		Help:    "Wall time of one stage execution including within-stage retries",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 15),
	},
	[]string{"stage", "outcome"},
)

var stageRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "stage_retries_total",
		Help: "Number of within-stage retries after a transient provider error",
	},
	[]string{"stage"},
)

var sseClients = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: prefix + "sse_clients",
		Help: "Number of connected event stream clients",
	},
)

func RecordJobCreated() {
	jobsCreated.Inc()
}

func RecordJobFinished(status string) {
	jobsFinished.WithLabelValues(status).Inc()
}

func RecordStage(stage, outcome string, d time.Duration) {
	stageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

func RecordStageRetry(stage string) {
	stageRetries.WithLabelValues(stage).Inc()
}

func StreamConnected() {
	sseClients.Inc()
}

func StreamDisconnected() {
	sseClients.Dec()
}
