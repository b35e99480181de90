// Package metrics holds the Prometheus collectors of the federator.
// Every method is safe on a nil *Metrics so components can run without them.
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "federator"

	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

type Metrics struct {
	cycles          *prometheus.CounterVec
	cycleDuration   *prometheus.HistogramVec
	events          *prometheus.CounterVec
	cursor          *prometheus.GaugeVec
	heartbeats      *prometheus.CounterVec
	lastHeartbeat   *prometheus.GaugeVec
	versionFallback *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cycles_total",
			Help:      "Direction runs by result",
		}, []string{"direction", "result"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one direction run",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900},
		}, []string{"direction"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_total",
			Help:      "Cross events handled by outcome",
		}, []string{"direction", "outcome"}),
		cursor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "cursor_block",
			Help:      "Last fully handled source block",
		}, []string{"direction", "chain_id"}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "heartbeat_emissions_total",
			Help:      "Heartbeat submissions by chain and result",
		}, []string{"chain", "result"}),
		lastHeartbeat: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_heartbeat_block",
			Help:      "Block of the last HeartBeat event seen per sender",
		}, []string{"chain_id", "sender"}),
		versionFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "contract_version_fallback_total",
			Help:      "Contracts whose version could not be detected and defaulted to the newest",
		}, []string{"chain", "contract"}),
	}

	err := errors.Join(
		reg.Register(m.cycles),
		reg.Register(m.cycleDuration),
		reg.Register(m.events),
		reg.Register(m.cursor),
		reg.Register(m.heartbeats),
		reg.Register(m.lastHeartbeat),
		reg.Register(m.versionFallback),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecordCycle records the result and duration of one direction run.
func (m *Metrics) RecordCycle(direction string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.cycles.WithLabelValues(direction, result).Inc()
	m.cycleDuration.WithLabelValues(direction).Observe(durationSeconds)
}

// RecordSkippedCycle counts a direction run skipped by a gate (node syncing).
func (m *Metrics) RecordSkippedCycle(direction string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(direction, ResultSkipped).Inc()
}

// RecordEvent counts one handled event. outcome is a vote outcome or "failed".
func (m *Metrics) RecordEvent(direction, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(direction, outcome).Inc()
}

// SetCursor exports a saved cursor.
func (m *Metrics) SetCursor(direction string, chainID, block uint64) {
	if m == nil {
		return
	}
	m.cursor.WithLabelValues(direction, strconv.FormatUint(chainID, 10)).Set(float64(block))
}

// RecordHeartbeat counts one heartbeat emission attempt.
func (m *Metrics) RecordHeartbeat(chain, result string) {
	if m == nil {
		return
	}
	m.heartbeats.WithLabelValues(chain, result).Inc()
}

// SetLastHeartbeat exports the block of the latest HeartBeat event of sender.
func (m *Metrics) SetLastHeartbeat(chainID uint64, sender string, block uint64) {
	if m == nil {
		return
	}
	m.lastHeartbeat.WithLabelValues(strconv.FormatUint(chainID, 10), sender).Set(float64(block))
}

// IncVersionFallback counts a contract whose version defaulted to the newest.
func (m *Metrics) IncVersionFallback(chain, contract string) {
	if m == nil {
		return
	}
	m.versionFallback.WithLabelValues(chain, contract).Inc()
}
