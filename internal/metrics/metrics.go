// Package metrics exposes prometheus collectors for the indexer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ethernal_indexer"

// Ingestion
var (
	IngestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Ingestion units by outcome",
		},
		[]string{"result"}, // ingested, already_ingested, quota_exceeded, retryable, invalid
	)

	IngestionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingestion_duration_seconds",
			Help:      "Duration of one ingestion unit",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	DerivedRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "derived_rows_total",
			Help:      "Token transfers and balance changes written",
		},
		[]string{"kind"},
	)

	QuotaRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Admissions refused because the window quota is used up",
		},
	)
)

// Monitoring
var (
	RpcProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_probes_total",
			Help:      "RPC reachability probes",
		},
		[]string{"result"}, // reachable, unreachable
	)

	SyncStopsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_stops_total",
			Help:      "Stop-sync signals sent to the control plane",
		},
	)

	IntegrityStatusGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "integrity_recovering",
			Help:      "1 while a workspace is recovering from a gap",
		},
		[]string{"workspace_id"},
	)

	OrbitTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orbit_transitions_total",
			Help:      "Rollup finality transitions by target state and outcome",
		},
		[]string{"state", "result"}, // result: updated, unchanged, rejected
	)

	DedupRowsRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_rows_removed_total",
			Help:      "Duplicate balance changes removed",
		},
	)
)

// Messaging and jobs
var (
	KafkaMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_total",
			Help:      "Kafka messages by topic and direction",
		},
		[]string{"topic", "direction"},
	)

	JobExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_executions_total",
			Help:      "Scheduled job runs",
		},
		[]string{"job", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Scheduled job duration",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"job"},
	)
)

func RecordIngestion(result string, seconds float64) {
	IngestionsTotal.WithLabelValues(result).Inc()
	IngestionDuration.Observe(seconds)
}

func RecordDerived(transfers, balanceChanges int) {
	DerivedRowsTotal.WithLabelValues("token_transfer").Add(float64(transfers))
	DerivedRowsTotal.WithLabelValues("token_balance_change").Add(float64(balanceChanges))
}

func RecordRpcProbe(reachable bool) {
	if reachable {
		RpcProbesTotal.WithLabelValues("reachable").Inc()
		return
	}
	RpcProbesTotal.WithLabelValues("unreachable").Inc()
}

func RecordKafkaMessage(topic string, produced bool) {
	direction := "consumed"
	if produced {
		direction = "produced"
	}
	KafkaMessagesTotal.WithLabelValues(topic, direction).Inc()
}

func RecordJob(job, status string, seconds float64) {
	JobExecutionsTotal.WithLabelValues(job, status).Inc()
	JobDuration.WithLabelValues(job).Observe(seconds)
}
