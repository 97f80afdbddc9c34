package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the escrow service.
type Metrics struct {
	// --- Registry ---
	OpsApplied      *prometheus.CounterVec
	OpsRejected     *prometheus.CounterVec
	OpDuration      *prometheus.HistogramVec
	JournalsWritten *prometheus.CounterVec
	Sequence        prometheus.Gauge
	TradesByState   *prometheus.GaugeVec
	EscrowedBalance *prometheus.GaugeVec
	FeesCollected   *prometheus.CounterVec
	PausedGauge     prometheus.Gauge

	// --- Channels & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDrops    prometheus.Counter
	PublishDrops       prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge

	// --- Ingestion ---
	IngestReceived *prometheus.CounterVec
	IngestInvalid  *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Projection ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionLastSeq   prometheus.Gauge

	// --- Keeper ---
	KeeperRuns    prometheus.Counter
	KeeperSettled *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in the daemon and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_ops_applied_total",
			Help: "Mutating operations applied by the registry",
		}, []string{"op"}),

		OpsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_ops_rejected_total",
			Help: "Mutating operations rejected (kind/reason)",
		}, []string{"op", "kind"}),

		OpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_op_apply_duration_seconds",
			Help:    "Time to apply a single operation",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		JournalsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		Sequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_sequence",
			Help: "Current global sequence number",
		}),

		TradesByState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "escrow_trades",
			Help: "Trades by state",
		}, []string{"state"}),

		EscrowedBalance: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "escrow_custody_balance",
			Help: "Collateral held in custody (base units)",
		}, []string{"collateral"}),

		FeesCollected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_fees_collected_total",
			Help: "Protocol fees paid to the receiver (base units)",
		}, []string{"collateral"}),

		PausedGauge: f.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_paused",
			Help: "1 while the circuit breaker is active",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "escrow_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "escrow_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "escrow_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_publish_drops_total",
			Help: "Events that failed to publish",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"op", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		IngestReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_ingest_received_total",
			Help: "Commands received from NATS",
		}, []string{"op"}),

		IngestInvalid: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_ingest_invalid_total",
			Help: "Commands that failed to parse",
		}, []string{"subject"}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_persist_events_written_total",
			Help: "Envelopes written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "escrow_persist_batch_size",
			Help:    "Outputs per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "escrow_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		ProjectionLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_projection_last_sequence",
			Help: "Last sequence applied to projections",
		}),

		KeeperRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "escrow_keeper_runs_total",
			Help: "Keeper sweeps executed",
		}),

		KeeperSettled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_keeper_settle_total",
			Help: "Keeper settle attempts by outcome",
		}, []string{"outcome"}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_query_duration_seconds",
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
