// Package metrics provides Prometheus-based metrics recording for the
// deployment service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records deployment and conversation metrics.
type Recorder struct {
	deploymentsTotal   *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	chatTurnsTotal     *prometheus.CounterVec
	logEntriesTotal    *prometheus.CounterVec
	deploymentDuration *prometheus.HistogramVec
}

//nolint:gochecknoglobals // promauto registers into the default registry, so
// the recorder must be process-wide.
var (
	defaultRecorder *Recorder
	defaultOnce     sync.Once
)

// Default returns the process-wide recorder, creating it on first use.
func Default() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = newRecorder()
	})
	return defaultRecorder
}

func newRecorder() *Recorder {
	return &Recorder{
		deploymentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infraagent_deployments_total",
				Help: "Total number of deployments created, by environment",
			},
			[]string{"environment"},
		),
		transitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infraagent_deployment_transitions_total",
				Help: "Total number of deployment status transitions",
			},
			[]string{"environment", "status"},
		),
		chatTurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infraagent_chat_turns_total",
				Help: "Total number of chat turns, by resolution outcome",
			},
			[]string{"result"},
		),
		logEntriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infraagent_deployment_log_entries_total",
				Help: "Total number of deployment log entries appended",
			},
			[]string{"level"},
		),
		deploymentDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "infraagent_deployment_duration_seconds",
				Help:    "Wall-clock time from creation to terminal status",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"environment"},
		),
	}
}

// DeploymentCreated records a new deployment record.
func (r *Recorder) DeploymentCreated(environment string) {
	r.deploymentsTotal.WithLabelValues(environment).Inc()
}

// DeploymentTransition records a successful status transition.
func (r *Recorder) DeploymentTransition(environment, status string) {
	r.transitionsTotal.WithLabelValues(environment, status).Inc()
}

// ChatTurn records one resolved chat turn and its outcome, e.g.
// "needs_repo_url", "needs_environment", or "dispatched".
func (r *Recorder) ChatTurn(result string) {
	r.chatTurnsTotal.WithLabelValues(result).Inc()
}

// LogEntryAppended records one deployment log append.
func (r *Recorder) LogEntryAppended(level string) {
	r.logEntriesTotal.WithLabelValues(level).Inc()
}

// DeploymentFinished records the total runtime of a deployment that reached
// a terminal status.
func (r *Recorder) DeploymentFinished(environment string, duration time.Duration) {
	r.deploymentDuration.WithLabelValues(environment).Observe(duration.Seconds())
}
