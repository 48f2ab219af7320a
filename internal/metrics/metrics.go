// Package metrics exports replog observations to Prometheus. One Metrics
// value serves as the hook for every adaptor (logview.MetricsHook), the
// pebble backend (pebblestore.MetricsHook) and the host.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzbill/replog/internal/storage"
)

const namespace = "replog"

// Metrics holds the registered collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	commits         prometheus.Counter
	commitEvents    prometheus.Counter
	writeSeconds    prometheus.Histogram
	writeConflicts  prometheus.Counter
	eventsFolded    prometheus.Counter
	foldFaults      prometheus.Counter
	notifications   *prometheus.CounterVec
	buffered        *prometheus.GaugeVec
	snapshots       *prometheus.CounterVec
	activations     prometheus.Gauge
	storageSeconds  *prometheus.HistogramVec
	storageBytes    *prometheus.CounterVec
	gossipSent      *prometheus.CounterVec
	publishFailures prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWith(reg, reg)
}

// NewWith registers the collectors on reg and serves them from g.
func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: g,
		commits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_written_total",
			Help:      "Number of batches committed by local writers",
		}),
		commitEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_events_total",
			Help:      "Number of events in locally committed batches",
		}),
		writeSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_duration_seconds",
			Help:      "Latency of the write procedure from summary bump to fold",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		writeConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_conflicts_total",
			Help:      "Conditional writes that lost a race",
		}),
		eventsFolded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_folded_total",
			Help:      "Events folded into confirmed views",
		}),
		foldFaults: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fold_faults_total",
			Help:      "Events skipped because they could not be decoded or folded",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Update notifications by outcome",
		}, []string{"outcome"}),
		buffered: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications_buffered",
			Help:      "Notifications waiting on a version gap",
		}, []string{"stream"}),
		snapshots: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshot saves by result",
		}, []string{"result"}),
		activations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "activations",
			Help:      "Streams currently activated on this node",
		}),
		storageSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "op_duration_seconds",
			Help:      "Storage operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 16),
		}, []string{"op", "kind"}),
		storageBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "bytes_total",
			Help:      "Bytes moved by storage operations",
		}, []string{"op", "kind"}),
		gossipSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gossip",
			Name:      "sent_total",
			Help:      "Notifications sent to peers by result",
		}, []string{"result"}),
		publishFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Post-commit publish failures",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// logview hooks

func (m *Metrics) CommitWritten(_ string, events int, took time.Duration) {
	m.commits.Inc()
	m.commitEvents.Add(float64(events))
	m.writeSeconds.Observe(took.Seconds())
}

func (m *Metrics) WriteConflict(string)         { m.writeConflicts.Inc() }
func (m *Metrics) EventsFolded(_ string, n int) { m.eventsFolded.Add(float64(n)) }
func (m *Metrics) FoldFault(string)             { m.foldFaults.Inc() }

func (m *Metrics) NotificationApplied(string) {
	m.notifications.WithLabelValues("applied").Inc()
}

func (m *Metrics) NotificationDiscarded(string) {
	m.notifications.WithLabelValues("discarded").Inc()
}

func (m *Metrics) NotificationMerged(string) {
	m.notifications.WithLabelValues("merged").Inc()
}

func (m *Metrics) NotificationsBuffered(stream string, n int) {
	m.buffered.WithLabelValues(stream).Set(float64(n))
}

func (m *Metrics) SnapshotSaved(_ string, err error) {
	if err != nil {
		m.snapshots.WithLabelValues("error").Inc()
		return
	}
	m.snapshots.WithLabelValues("ok").Inc()
}

// host hooks

// Activated tracks a stream activation.
func (m *Metrics) Activated(string) { m.activations.Inc() }

// Deactivated drops the stream's per-stream series.
func (m *Metrics) Deactivated(stream string) {
	m.activations.Dec()
	m.buffered.DeleteLabelValues(stream)
}

// pebble hooks

func (m *Metrics) ObserveWrite(kind storage.Kind, elapsed time.Duration, bytes int) {
	m.storageSeconds.WithLabelValues("write", string(kind)).Observe(elapsed.Seconds())
	m.storageBytes.WithLabelValues("write", string(kind)).Add(float64(bytes))
}

func (m *Metrics) ObserveRead(kind storage.Kind, elapsed time.Duration, bytes int) {
	m.storageSeconds.WithLabelValues("read", string(kind)).Observe(elapsed.Seconds())
	m.storageBytes.WithLabelValues("read", string(kind)).Add(float64(bytes))
}

// gossip and publish hooks

// GossipSent counts one notification delivery attempt to a peer.
func (m *Metrics) GossipSent(err error) {
	if err != nil {
		m.gossipSent.WithLabelValues("error").Inc()
		return
	}
	m.gossipSent.WithLabelValues("ok").Inc()
}

// PublishFailed counts a post-commit publish failure.
func (m *Metrics) PublishFailed() { m.publishFailures.Inc() }
