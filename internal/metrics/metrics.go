// Package metrics wires the counters, meters, gauges, and timer named in
// spec.md §6 onto Prometheus client_golang collectors, following the shape
// of adapters/repos/db's Metrics type in the teacher repo (label-curried
// vectors built once at construction, guarded for a nil registry).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the update-core counters/meters/gauges/timer. A nil
// *Metrics (returned by New with a nil registerer) is safe to call every
// method on; it simply does nothing, so callers never need a nil check.
type Metrics struct {
	shardLabel prometheus.Labels

	adds           prometheus.Counter
	deletesByID    prometheus.Counter
	deletesByQuery prometheus.Counter
	errors         prometheus.Counter
	errorsAdd      prometheus.Counter
	errorsDelete   prometheus.Counter
	errorsDBQ      prometheus.Counter

	commits        prometheus.Counter
	softCommits    prometheus.Counter
	optimizes      prometheus.Counter
	rollbacks      prometheus.Counter
	splits         prometheus.Counter
	mergeIndexes   prometheus.Counter
	expungeDeletes prometheus.Counter

	docsPending        prometheus.Gauge
	autoCommits        prometheus.Gauge
	softAutoCommits    prometheus.Gauge
	txnLogsTotalSize   prometheus.Gauge
	txnLogsTotalNumber prometheus.Gauge

	peerSyncTime     prometheus.Observer
	peerSyncErrors   prometheus.Counter
	peerSyncSkipped  prometheus.Counter
}

// New builds a Metrics bound to reg under the given class/shard labels. A
// nil reg yields a no-op Metrics (as in the teacher's NewMetrics with a
// nil *monitoring.PrometheusMetrics).
func New(reg prometheus.Registerer, className, shardName string) *Metrics {
	if reg == nil {
		return nil
	}

	labels := prometheus.Labels{"class_name": className, "shard_name": shardName}

	counters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "updatecore",
		Name:      "update_total",
		Help:      "Number of update-core operations by kind.",
	}, []string{"class_name", "shard_name", "kind"})
	reg.MustRegister(counters)

	errorCounters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "updatecore",
		Name:      "errors_total",
		Help:      "Number of update-core errors by operation kind.",
	}, []string{"class_name", "shard_name", "kind"})
	reg.MustRegister(errorCounters)

	commitMeters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "updatecore",
		Name:      "commits_total",
		Help:      "Number of commit-phase operations by kind.",
	}, []string{"class_name", "shard_name", "kind"})
	reg.MustRegister(commitMeters)

	gauges := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "updatecore",
		Name:      "state",
		Help:      "Update-core gauges by kind.",
	}, []string{"class_name", "shard_name", "kind"})
	reg.MustRegister(gauges)

	peerSyncTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "updatecore",
		Name:      "peersync_duration_seconds",
		Help:      "Time spent in a single peer sync run.",
	}, []string{"class_name", "shard_name"})
	reg.MustRegister(peerSyncTime)

	peerSyncCounters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "updatecore",
		Name:      "peersync_total",
		Help:      "Peer sync outcomes by kind.",
	}, []string{"class_name", "shard_name", "kind"})
	reg.MustRegister(peerSyncCounters)

	curry := func(v *prometheus.CounterVec, kind string) prometheus.Counter {
		return v.MustCurryWith(labels).WithLabelValues(kind)
	}
	curryGauge := func(v *prometheus.GaugeVec, kind string) prometheus.Gauge {
		return v.MustCurryWith(labels).WithLabelValues(kind)
	}

	return &Metrics{
		shardLabel: labels,

		adds:           curry(counters, "add"),
		deletesByID:    curry(counters, "delete_by_id"),
		deletesByQuery: curry(counters, "delete_by_query"),
		errors:         curry(errorCounters, "all"),
		errorsAdd:      curry(errorCounters, "add"),
		errorsDelete:   curry(errorCounters, "delete"),
		errorsDBQ:      curry(errorCounters, "delete_by_query"),

		commits:        curry(commitMeters, "hard_commit"),
		softCommits:    curry(commitMeters, "soft_commit"),
		optimizes:      curry(commitMeters, "optimize"),
		rollbacks:      curry(commitMeters, "rollback"),
		splits:         curry(commitMeters, "split"),
		mergeIndexes:   curry(commitMeters, "merge_indexes"),
		expungeDeletes: curry(commitMeters, "expunge_deletes"),

		docsPending:        curryGauge(gauges, "docs_pending"),
		autoCommits:        curryGauge(gauges, "auto_commits"),
		softAutoCommits:    curryGauge(gauges, "soft_auto_commits"),
		txnLogsTotalSize:   curryGauge(gauges, "txn_logs_total_size"),
		txnLogsTotalNumber: curryGauge(gauges, "txn_logs_total_number"),

		peerSyncTime:    peerSyncTime.MustCurryWith(labels).WithLabelValues(),
		peerSyncErrors:  peerSyncCounters.MustCurryWith(labels).WithLabelValues("errors"),
		peerSyncSkipped: peerSyncCounters.MustCurryWith(labels).WithLabelValues("skipped"),
	}
}

func (m *Metrics) AddDoc() {
	if m == nil {
		return
	}
	m.adds.Inc()
}

func (m *Metrics) DeleteByID() {
	if m == nil {
		return
	}
	m.deletesByID.Inc()
}

func (m *Metrics) DeleteByQuery() {
	if m == nil {
		return
	}
	m.deletesByQuery.Inc()
}

// ErrorKind enumerates the operation an error occurred under, for the
// per-kind sub-counters named in SPEC_FULL.md's supplemented features.
type ErrorKind int

const (
	ErrorKindAdd ErrorKind = iota
	ErrorKindDelete
	ErrorKindDeleteByQuery
)

func (m *Metrics) Error(kind ErrorKind) {
	if m == nil {
		return
	}
	m.errors.Inc()
	switch kind {
	case ErrorKindAdd:
		m.errorsAdd.Inc()
	case ErrorKindDelete:
		m.errorsDelete.Inc()
	case ErrorKindDeleteByQuery:
		m.errorsDBQ.Inc()
	}
}

func (m *Metrics) Commit(soft bool) {
	if m == nil {
		return
	}
	if soft {
		m.softCommits.Inc()
		return
	}
	m.commits.Inc()
}

func (m *Metrics) Optimize() {
	if m == nil {
		return
	}
	m.optimizes.Inc()
}

func (m *Metrics) Rollback() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}

func (m *Metrics) Split() {
	if m == nil {
		return
	}
	m.splits.Inc()
}

func (m *Metrics) MergeIndexes() {
	if m == nil {
		return
	}
	m.mergeIndexes.Inc()
}

func (m *Metrics) ExpungeDeletes() {
	if m == nil {
		return
	}
	m.expungeDeletes.Inc()
}

func (m *Metrics) SetDocsPending(n int) {
	if m == nil {
		return
	}
	m.docsPending.Set(float64(n))
}

func (m *Metrics) SetAutoCommitsScheduled(n int) {
	if m == nil {
		return
	}
	m.autoCommits.Set(float64(n))
}

func (m *Metrics) SetSoftAutoCommitsScheduled(n int) {
	if m == nil {
		return
	}
	m.softAutoCommits.Set(float64(n))
}

func (m *Metrics) SetTxnLogsTotalSize(bytes int64) {
	if m == nil {
		return
	}
	m.txnLogsTotalSize.Set(float64(bytes))
}

func (m *Metrics) SetTxnLogsTotalNumber(n int) {
	if m == nil {
		return
	}
	m.txnLogsTotalNumber.Set(float64(n))
}

// PeerSyncTimer starts timing a peer sync run; call the returned func when
// the run completes.
func (m *Metrics) PeerSyncTimer() func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.peerSyncTime.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) PeerSyncError() {
	if m == nil {
		return
	}
	m.peerSyncErrors.Inc()
}

func (m *Metrics) PeerSyncSkipped(n int) {
	if m == nil {
		return
	}
	for i := 0; i < n; i++ {
		m.peerSyncSkipped.Inc()
	}
}
