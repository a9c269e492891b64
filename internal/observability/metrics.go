package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector of the ledger.
type Metrics struct {
	// --- Core processing ---
	CoreOpsApplied  *prometheus.CounterVec
	CoreOpsRejected *prometheus.CounterVec
	CoreOpDuration  *prometheus.HistogramVec
	CoreSequence    prometheus.Gauge

	// --- Risk ---
	HealthChecks             *prometheus.CounterVec
	StaleCollateralTolerated prometheus.Counter
	HealthQueries            *prometheus.CounterVec
	LiquidationsCompleted    *prometheus.CounterVec
	BankruptciesHandled      *prometheus.CounterVec

	// --- Oracle feeds ---
	OracleFeedUpdates     *prometheus.CounterVec
	OracleFeedStoreErrors prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates  *prometheus.CounterVec
	IdempotencyLRUSize     prometheus.Gauge
	IdempotencyTier2Errors prometheus.Counter

	// --- Ingestion ---
	IngestMessages *prometheus.CounterVec
	IngestToApply  *prometheus.HistogramVec

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PersistBackpressure prometheus.Counter

	// --- Persistence ---
	PersistOpsWritten   prometheus.Counter
	PersistBatchSize    prometheus.Histogram
	PersistBatchDur     prometheus.Histogram
	PersistErrors       *prometheus.CounterVec
	PersistRetry        prometheus.Counter
	PersistLastSequence prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge

	// --- Projection / outbound ---
	ProjectionDrops        prometheus.Counter
	ProjectionLastSequence prometheus.Gauge
	PublishDrops           prometheus.Counter
	PublishErrors          prometheus.Counter

	// --- WebSocket stream ---
	StreamDrops       prometheus.Counter
	StreamSlowClients prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics registers every collector with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers every collector with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}
	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core processing
		CoreOpsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_core_ops_applied_total",
			Help: "Operations committed by the core",
		}, []string{"op"}),

		CoreOpsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_core_ops_rejected_total",
			Help: "Operations rejected (duplicate or error code)",
		}, []string{"op", "reason"}),

		CoreOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_core_op_apply_duration_seconds",
			Help:    "Time to apply a single operation in core",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "margin_core_sequence",
			Help: "Last committed sequence number",
		}),

		// Risk
		HealthChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_risk_health_checks_total",
			Help: "Risk gate evaluations",
		}, []string{"regime", "result"}),

		StaleCollateralTolerated: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_risk_stale_collateral_tolerated_total",
			Help: "Initial checks that counted a collateral balance at zero after a feed failure",
		}),

		HealthQueries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_risk_health_queries_total",
			Help: "Read-only health evaluations",
		}, []string{"result"}),

		LiquidationsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_liquidations_total",
			Help: "Liquidations committed, by liability bank",
		}, []string{"bank_id"}),

		BankruptciesHandled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_bankruptcies_total",
			Help: "Bad-debt settlements committed",
		}, []string{"bank_id"}),

		// Oracle feeds
		OracleFeedUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_oracle_feed_updates_total",
			Help: "Oracle images received (kept/stale)",
		}, []string{"result"}),

		OracleFeedStoreErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_oracle_feed_store_errors_total",
			Help: "Failures mirroring oracle images to the feed store",
		}),

		// Idempotency
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"op", "tier"}),

		IdempotencyLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "margin_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		IdempotencyTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		// Ingestion
		IngestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_ingest_messages_total",
			Help: "Messages consumed from NATS",
		}, []string{"subject", "result"}),

		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_ingest_to_apply_seconds",
			Help:    "NATS receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"op"}),

		// Channel & backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "margin_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "margin_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "margin_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Persistence
		PersistOpsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_persist_ops_written_total",
			Help: "Operations written to the Postgres operation log",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "margin_persist_batch_size",
			Help:    "Operations per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "margin_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "margin_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "margin_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "margin_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "margin_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_projection_drops_total",
			Help: "Flushed batches dropped by a lagging projection",
		}),

		ProjectionLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "margin_projection_last_sequence",
			Help: "Last sequence reflected in projection tables",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_publish_drops_total",
			Help: "Outbound notifications dropped on a full buffer",
		}),

		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_publish_errors_total",
			Help: "Outbound publish failures",
		}),

		// WebSocket stream
		StreamDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_stream_drops_total",
			Help: "Flushed batches the stream hub dropped on a full buffer",
		}),
		StreamSlowClients: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_stream_slow_clients_total",
			Help: "Stream messages not delivered to a client that fell behind",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
