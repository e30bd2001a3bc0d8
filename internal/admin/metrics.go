// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package admin is the small ops-facing HTTP surface that sits next to
// the operator websocket: health, Prometheus metrics, and a read-only
// inventory snapshot for curl/monitoring use. It never mutates
// anything the engine task owns.
package admin

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects the counters and gauges the engine task updates as
// it runs. The zero value is not usable; build one with NewMetrics and
// register it with a Server.
type Metrics struct {
	FramesTotal          *prometheus.CounterVec
	IntrosCompletedTotal prometheus.Counter
	CrcDriftTotal        prometheus.Counter
	GatewayPorts         prometheus.Gauge
	ConfigWritesTotal    prometheus.Counter
}

// NewMetrics builds a Metrics registered against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canmaster_frames_total",
			Help: "CAN frames received from the bus, by arbitration ID range.",
		}, []string{"id_range"}),
		IntrosCompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canmaster_intros_completed_total",
			Help: "Node interviews that reached IntroComplete.",
		}),
		CrcDriftTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canmaster_crc_drift_total",
			Help: "Node re-intros whose configCRC differed from the stored snapshot.",
		}),
		GatewayPorts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "canmaster_gateway_ports",
			Help: "Operator websocket connections currently registered.",
		}),
		ConfigWritesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canmaster_config_writes_total",
			Help: "UPDATE_NODE_CONFIG requests that produced a persisted change.",
		}),
	}
	reg.MustRegister(m.FramesTotal, m.IntrosCompletedTotal, m.CrcDriftTotal, m.GatewayPorts, m.ConfigWritesTotal)
	return m
}

// IDRangeLabel buckets an arbitration ID into the label FramesTotal is
// keyed on, per the ranges internal/protocol defines.
func IDRangeLabel(id uint32) string {
	switch {
	case id >= 0x780:
		return "node_intro"
	case id >= 0x700:
		return "submod_intro"
	case id >= 0x100 && id <= 0x104:
		return "fixed"
	default:
		return "other"
	}
}
