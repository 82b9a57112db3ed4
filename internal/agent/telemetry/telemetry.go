package telemetry

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohammad-safakhou/converse/config"
)

// Telemetry tracks turn outcomes, phase latencies and compaction runs,
// both as in-process aggregates for periodic logging and as prometheus
// series for the /metrics endpoint.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger

	mu      sync.RWMutex
	metrics Metrics

	turnsTotal        *prometheus.CounterVec
	fallbacksTotal    *prometheus.CounterVec
	phaseLatency      *prometheus.HistogramVec
	toolInvocations   *prometheus.CounterVec
	compactionsTotal  *prometheus.CounterVec
	compactionLatency prometheus.Histogram
}

// Metrics holds in-process aggregates.
type Metrics struct {
	TotalTurns      int64         `json:"total_turns"`
	SuccessfulTurns int64         `json:"successful_turns"`
	FallbackTurns   int64         `json:"fallback_turns"`
	FailedTurns     int64         `json:"failed_turns"`
	AverageTurnTime time.Duration `json:"average_turn_time_ns"`
}

// TurnEvent describes one completed request/response cycle.
type TurnEvent struct {
	ConversationID string
	StartTime      time.Time
	EndTime        time.Time
	State          string // terminal phase state
	FallbackKind   string
	ToolsUsed      []string
	Success        bool
	Error          string
}

var (
	registerOnce sync.Once
	shared       struct {
		turns      *prometheus.CounterVec
		fallbacks  *prometheus.CounterVec
		phases     *prometheus.HistogramVec
		tools      *prometheus.CounterVec
		compacts   *prometheus.CounterVec
		compactHis prometheus.Histogram
	}
)

// NewTelemetry creates a telemetry instance. Prometheus collectors are
// process-wide and registered once.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	out := log.Writer()
	if cfg.LogFile != "" {
		if f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			out = f
		}
	}
	registerOnce.Do(func() {
		shared.turns = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "converse_turns_total",
			Help: "Completed conversation turns by terminal state.",
		}, []string{"state"})
		shared.fallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "converse_fallbacks_total",
			Help: "Quality gate fallbacks by kind.",
		}, []string{"kind"})
		shared.phases = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "converse_phase_seconds",
			Help:    "Pipeline phase latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"phase"})
		shared.tools = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "converse_tool_invocations_total",
			Help: "Tool invocations by tool and status.",
		}, []string{"tool", "status"})
		shared.compacts = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "converse_compactions_total",
			Help: "Compaction runs by outcome.",
		}, []string{"status"})
		shared.compactHis = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "converse_compaction_seconds",
			Help:    "Compaction run latency.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		})
	})
	return &Telemetry{
		config:            cfg,
		logger:            log.New(out, "[TELEMETRY] ", log.LstdFlags),
		turnsTotal:        shared.turns,
		fallbacksTotal:    shared.fallbacks,
		phaseLatency:      shared.phases,
		toolInvocations:   shared.tools,
		compactionsTotal:  shared.compacts,
		compactionLatency: shared.compactHis,
	}
}

// RecordTurn records one completed turn.
func (t *Telemetry) RecordTurn(event TurnEvent) {
	if t == nil {
		return
	}
	elapsed := event.EndTime.Sub(event.StartTime)

	t.mu.Lock()
	t.metrics.TotalTurns++
	switch {
	case !event.Success:
		t.metrics.FailedTurns++
	case event.FallbackKind != "":
		t.metrics.FallbackTurns++
	default:
		t.metrics.SuccessfulTurns++
	}
	n := t.metrics.TotalTurns
	t.metrics.AverageTurnTime = time.Duration((int64(t.metrics.AverageTurnTime)*(n-1) + int64(elapsed)) / n)
	t.mu.Unlock()

	t.turnsTotal.WithLabelValues(event.State).Inc()
	if event.FallbackKind != "" {
		t.fallbacksTotal.WithLabelValues(event.FallbackKind).Inc()
	}
	if t.config.PeriodicLogs {
		t.logger.Printf("turn conv=%s state=%s tools=%d elapsed=%s", event.ConversationID, event.State, len(event.ToolsUsed), elapsed)
	}
}

// RecordPhase records one phase's latency.
func (t *Telemetry) RecordPhase(phase string, elapsed time.Duration) {
	if t == nil {
		return
	}
	t.phaseLatency.WithLabelValues(phase).Observe(elapsed.Seconds())
}

// RecordToolInvocation records one tool call outcome.
func (t *Telemetry) RecordToolInvocation(tool, status string) {
	if t == nil {
		return
	}
	t.toolInvocations.WithLabelValues(tool, status).Inc()
}

// RecordCompaction records one compaction attempt.
func (t *Telemetry) RecordCompaction(status string, elapsed time.Duration) {
	if t == nil {
		return
	}
	t.compactionsTotal.WithLabelValues(status).Inc()
	t.compactionLatency.Observe(elapsed.Seconds())
}

// Snapshot returns a copy of the in-process aggregates.
func (t *Telemetry) Snapshot() Metrics {
	if t == nil {
		return Metrics{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.metrics
}
