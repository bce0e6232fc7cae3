// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package perf

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	model "github.com/prometheus/client_model/go"
)

const (
	metricsSubSystemGW  = "gateway"
	metricsSubSystemWS  = "ws"
	metricsSubSystemRPC = "rpc"
)

type Metrics struct {
	registry *prometheus.Registry

	Sessions      *prometheus.GaugeVec
	JoinCounters  *prometheus.CounterVec
	ErrorCounters *prometheus.CounterVec

	WSConnections     *prometheus.GaugeVec
	WSMessageCounters *prometheus.CounterVec

	RPCCounters   *prometheus.CounterVec
	RPCLatencyObs *prometheus.HistogramVec
}

func NewMetrics(namespace string, registry *prometheus.Registry) *Metrics {
	var m Metrics

	if registry != nil {
		m.registry = registry
	} else {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
			Namespace: namespace,
		}))
		m.registry.MustRegister(collectors.NewGoCollector())
	}

	m.Sessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemGW,
			Name:      "sessions_total",
			Help:      "Total number of active signaling sessions",
		},
		[]string{"roomID"},
	)
	m.registry.MustRegister(m.Sessions)

	m.JoinCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemGW,
			Name:      "joins_total",
			Help:      "Total number of join attempts by outcome",
		},
		[]string{"status"},
	)
	m.registry.MustRegister(m.JoinCounters)

	m.ErrorCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemGW,
			Name:      "errors_total",
			Help:      "Total number of client facing errors by code",
		},
		[]string{"code"},
	)
	m.registry.MustRegister(m.ErrorCounters)

	m.WSConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemWS,
			Name:      "connections_total",
			Help:      "Total number of active WebSocket connections",
		},
		[]string{"clientID"},
	)
	m.registry.MustRegister(m.WSConnections)

	m.WSMessageCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemWS,
			Name:      "messages_total",
			Help:      "Total number of sent/received WebSocket messages",
		},
		[]string{"clientID", "type", "direction"},
	)
	m.registry.MustRegister(m.WSMessageCounters)

	m.RPCCounters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRPC,
			Name:      "requests_total",
			Help:      "Total number of backend RPC requests",
		},
		[]string{"service", "status"},
	)
	m.registry.MustRegister(m.RPCCounters)

	m.RPCLatencyObs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemRPC,
			Name:      "request_duration_seconds",
			Help:      "Backend RPC request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	m.registry.MustRegister(m.RPCLatencyObs)

	return &m
}

func (m *Metrics) IncSessions(roomID string) {
	m.Sessions.With(prometheus.Labels{"roomID": roomID}).Inc()
}

func (m *Metrics) DecSessions(roomID string) {
	m.Sessions.With(prometheus.Labels{"roomID": roomID}).Dec()
}

func (m *Metrics) IncJoins(status string) {
	m.JoinCounters.With(prometheus.Labels{"status": status}).Inc()
}

func (m *Metrics) IncErrors(code string) {
	m.ErrorCounters.With(prometheus.Labels{"code": code}).Inc()
}

func (m *Metrics) IncWSConnections(clientID string) {
	m.WSConnections.With(prometheus.Labels{"clientID": clientID}).Inc()
}

func (m *Metrics) DecWSConnections(clientID string) {
	m.WSConnections.With(prometheus.Labels{"clientID": clientID}).Dec()
}

func (m *Metrics) IncWSMessages(clientID, msgType, direction string) {
	m.WSMessageCounters.With(prometheus.Labels{"clientID": clientID, "type": msgType, "direction": direction}).Inc()
}

func (m *Metrics) IncRPCRequests(service, status string) {
	m.RPCCounters.With(prometheus.Labels{"service": service, "status": status}).Inc()
}

func (m *Metrics) ObserveRPCLatency(service string, secs float64) {
	m.RPCLatencyObs.With(prometheus.Labels{"service": service}).Observe(secs)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionsTotal returns the number of active signaling sessions across all
// rooms.
func (m *Metrics) SessionsTotal() float64 {
	ch := make(chan prometheus.Metric)
	go func() {
		m.Sessions.Collect(ch)
		close(ch)
	}()
	var total float64
	for metric := range ch {
		var pb model.Metric
		if err := metric.Write(&pb); err == nil {
			total += pb.Gauge.GetValue()
		}
	}
	return total
}
