package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the settlement core.
type Metrics struct {
	// --- Core processing ---
	EventsApplied  *prometheus.CounterVec
	EventsRejected *prometheus.CounterVec
	EventDuration  *prometheus.HistogramVec
	CoreSequence   prometheus.Gauge

	// --- Settlement ---
	AccountsSettled   *prometheus.CounterVec
	EpochsOutOfOrder  *prometheus.CounterVec
	VersionsCommitted *prometheus.CounterVec
	ProtectionApplied *prometheus.CounterVec
	ProtectionIgnored *prometheus.CounterVec
	ConservationDrift *prometheus.GaugeVec

	// --- Fee waterfall ---
	FeeBucketTotal *prometheus.CounterVec

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge

	// --- Channels & persistence ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	PersistBatchDur    prometheus.Histogram
	PersistRowsWritten prometheus.Counter
	PersistErrors      prometheus.Counter

	// --- Ingestion ---
	IngestParsed      *prometheus.CounterVec
	IngestParseErrors *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_core_events_applied_total",
			Help: "Events applied by the settlement core, by type.",
		}, []string{"event_type"}),
		EventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_core_events_rejected_total",
			Help: "Events rejected by the settlement core, by type and reason.",
		}, []string{"event_type", "reason"}),
		EventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settle_core_event_duration_seconds",
			Help:    "Time to apply one event, by type.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"event_type"}),
		CoreSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "settle_core_sequence",
			Help: "Last sequence applied by the core.",
		}),

		AccountsSettled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_accounts_settled_total",
			Help: "Account settlements applied, by market.",
		}, []string{"market"}),
		EpochsOutOfOrder: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_epochs_out_of_order_total",
			Help: "Account settlements rejected for non-monotonic epochs, by market.",
		}, []string{"market"}),
		VersionsCommitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_versions_committed_total",
			Help: "Oracle versions committed, by market and validity.",
		}, []string{"market", "valid"}),
		ProtectionApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_protection_applied_total",
			Help: "Liquidation-protection latches set, by market.",
		}, []string{"market"}),
		ProtectionIgnored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_protection_ignored_total",
			Help: "Stale or duplicate protection attempts ignored, by market.",
		}, []string{"market"}),
		ConservationDrift: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settle_conservation_drift",
			Help: "Non-zero value-accumulation sum observed at an epoch boundary.",
		}, []string{"market"}),

		FeeBucketTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_fee_bucket_total",
			Help: "Fee amounts credited to waterfall buckets, by market and bucket.",
		}, []string{"market", "bucket"}),

		IdempotencyDuplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_idempotency_duplicates_total",
			Help: "Duplicate events skipped, by type and tier.",
		}, []string{"event_type", "tier"}),
		DedupLRUSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "settle_dedup_lru_size",
			Help: "Entries in the idempotency LRU.",
		}),

		ChannelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settle_channel_size",
			Help: "Buffered entries per channel.",
		}, []string{"channel"}),
		ChannelCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settle_channel_capacity",
			Help: "Capacity per channel.",
		}, []string{"channel"}),
		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "settle_persist_batch_duration_seconds",
			Help:    "Time to flush one persistence batch.",
			Buckets: prometheus.ExponentialBuckets(1e-4, 4, 10),
		}),
		PersistRowsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "settle_persist_rows_written_total",
			Help: "Rows written by the persistence worker.",
		}),
		PersistErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "settle_persist_errors_total",
			Help: "Persistence flush failures.",
		}),

		IngestParsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_ingest_parsed_total",
			Help: "Raw events parsed, by type.",
		}, []string{"event_type"}),
		IngestParseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_ingest_parse_errors_total",
			Help: "Raw events dropped for parse failures, by type.",
		}, []string{"event_type"}),
	}
}
