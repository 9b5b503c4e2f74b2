package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playforge_redis_errors_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// WebSocketConnectionsTotal is the gauge of active WebSocket connections per hub.
	WebSocketConnectionsTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playforge_websocket_connections",
		Help: "Number of active WebSocket connections",
	}, []string{"hub"})

	// WebSocketEventsTotal counts WebSocket events by hub and type.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playforge_websocket_events_total",
		Help: "Total WebSocket events by type",
	}, []string{"hub", "event_type"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playforge_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// GenerationJobsTotal counts generation jobs reaching a status.
	GenerationJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playforge_generation_jobs_total",
		Help: "Generation jobs by resulting status",
	}, []string{"status"})

	// UpstreamLatency records third-party API latency.
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playforge_upstream_latency_seconds",
		Help:    "Latency of calls to third-party providers",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"provider", "outcome"})

	// PushSendsTotal counts push notification deliveries by result.
	PushSendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playforge_push_sends_total",
		Help: "Push notification sends by result",
	}, []string{"result"})

	// MatchmakingPairsTotal counts matches created.
	MatchmakingPairsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playforge_matchmaking_pairs_total",
		Help: "Total number of match sessions created by pairing",
	})

	// CoinLedgerDelta sums coin movements by reason.
	CoinLedgerDelta = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playforge_coin_ledger_abs_delta_total",
		Help: "Absolute coin movement by ledger reason",
	}, []string{"reason"})
)

// ObserveUpstream records latency for a provider call started at start.
func ObserveUpstream(provider string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	UpstreamLatency.WithLabelValues(provider, outcome).Observe(time.Since(start).Seconds())
}

// RecordLedger adds |delta| to the coin movement counter.
func RecordLedger(reason string, delta int64) {
	if delta < 0 {
		delta = -delta
	}
	CoinLedgerDelta.WithLabelValues(reason).Add(float64(delta))
}
