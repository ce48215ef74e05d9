// Package metrics exposes the Prometheus counters, gauges and
// histograms the dispatch service reports: attempts, winners,
// no-candidate outcomes and operation latency (spec.md §4.6), plus
// queue depth, broadcast hub occupancy and notifier outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_attempts_total",
		Help: "Total number of dispatch(request_id) invocations.",
	})

	DispatchWinnersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_winners_total",
		Help: "Total number of dispatch attempts that committed a winning user.",
	})

	DispatchNoCandidatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_no_candidates_total",
		Help: "Total number of dispatch attempts with no eligible candidate.",
	})

	DispatchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_duration_seconds",
		Help:    "Duration of a dispatch(request_id) call, in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Current number of requests pending in the dispatch queue.",
	})

	QueueRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_retries_total",
		Help: "Total number of retried queue deliveries, by outcome.",
	}, []string{"outcome"})

	BroadcastClientsConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "broadcast_clients_connected",
		Help: "Current number of WebSocket clients connected per group.",
	}, []string{"group"})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of operator notifications sent, by channel and outcome.",
	}, []string{"channel", "outcome"})
)

// RecordDispatchAttempt increments the attempt counter.
func RecordDispatchAttempt() { DispatchAttemptsTotal.Inc() }

// RecordDispatchWinner increments the winner counter.
func RecordDispatchWinner() { DispatchWinnersTotal.Inc() }

// RecordDispatchNoCandidates increments the no-candidates counter.
func RecordDispatchNoCandidates() { DispatchNoCandidatesTotal.Inc() }

// RecordDispatchDuration observes one sample of dispatch latency.
func RecordDispatchDuration(seconds float64) { DispatchDurationSeconds.Observe(seconds) }

// SetQueueDepth reports the queue's current length.
func SetQueueDepth(n float64) { QueueDepth.Set(n) }

// RecordQueueRetry records one retried delivery, labeled by outcome
// ("retried", "requeued", "acked_terminal").
func RecordQueueRetry(outcome string) { QueueRetriesTotal.WithLabelValues(outcome).Inc() }

// SetBroadcastClients reports the current connection count for group.
func SetBroadcastClients(group string, n float64) {
	BroadcastClientsConnected.WithLabelValues(group).Set(n)
}

// RecordNotificationSent records one notifier delivery outcome
// ("sent", "suppressed", "error").
func RecordNotificationSent(channel, outcome string) {
	NotificationsSentTotal.WithLabelValues(channel, outcome).Inc()
}

// Timer measures elapsed wall time for a single dispatch call.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer { return &Timer{start: time.Now()} }

// Elapsed returns the time since the Timer was created.
func (t *Timer) Elapsed() time.Duration { return time.Since(t.start) }

// RecordDispatchDuration observes the elapsed time against
// DispatchDurationSeconds.
func (t *Timer) RecordDispatchDuration() { RecordDispatchDuration(t.Elapsed().Seconds()) }

// Recorder adapts the package-level collectors to the narrow
// pkg/dispatcher.Metrics interface so cmd/dispatcherd can wire this
// package in without dispatcher importing it directly.
type Recorder struct{}

// NewRecorder constructs a Recorder.
func NewRecorder() Recorder { return Recorder{} }

func (Recorder) ObserveDispatchAttempt()      { RecordDispatchAttempt() }
func (Recorder) ObserveDispatchWinner()       { RecordDispatchWinner() }
func (Recorder) ObserveDispatchNoCandidates() { RecordDispatchNoCandidates() }
func (Recorder) ObserveDispatchDuration(seconds float64) {
	RecordDispatchDuration(seconds)
}

// ObserveQueueRetry adapts RecordQueueRetry to pkg/queue.Metrics.
func (Recorder) ObserveQueueRetry(outcome string) { RecordQueueRetry(outcome) }
