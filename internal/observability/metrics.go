// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package observability exposes the daemon's Prometheus metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API metrics
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stevedore_api_requests_total",
			Help: "Total number of API requests processed",
		},
		[]string{"method", "route", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stevedore_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Container metrics
	containersByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stevedore_containers",
			Help: "Number of containers by state",
		},
		[]string{"state"},
	)

	containerRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stevedore_container_restarts_total",
			Help: "Total automatic container restarts",
		},
	)

	// Orchestrator metrics
	reconcilePassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stevedore_reconcile_passes_total",
			Help: "Total reconciliation passes by outcome",
		},
		[]string{"outcome"},
	)

	tasksByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stevedore_tasks",
			Help: "Number of swarm tasks by current state",
		},
		[]string{"state"},
	)

	// Storage metrics
	storageOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stevedore_storage_op_duration_seconds",
			Help:    "Storage-driver operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"driver", "op"},
	)

	layersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stevedore_layers_active",
			Help: "Number of layers in the layer store",
		},
	)

	// Prune metrics
	pruneReclaimedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stevedore_prune_reclaimed_bytes_total",
			Help: "Bytes reclaimed by prune operations",
		},
		[]string{"class"},
	)
)

// Collector is the daemon's metrics surface.
type Collector struct {
	startTime time.Time
}

// NewCollector creates a metrics collector.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// RecordRequest records one API request.
func (c *Collector) RecordRequest(method, route string, status int, duration time.Duration) {
	requestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetContainerStates replaces the per-state container gauges.
func (c *Collector) SetContainerStates(counts map[string]int) {
	containersByState.Reset()
	for state, n := range counts {
		containersByState.WithLabelValues(state).Set(float64(n))
	}
}

// RecordRestart counts one automatic container restart.
func (c *Collector) RecordRestart() {
	containerRestartsTotal.Inc()
}

// RecordReconcilePass counts one reconcile pass.
func (c *Collector) RecordReconcilePass(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	reconcilePassesTotal.WithLabelValues(outcome).Inc()
}

// SetTaskStates replaces the per-state task gauges.
func (c *Collector) SetTaskStates(counts map[string]int) {
	tasksByState.Reset()
	for state, n := range counts {
		tasksByState.WithLabelValues(state).Set(float64(n))
	}
}

// ObserveStorageOp records a storage-driver operation latency.
func (c *Collector) ObserveStorageOp(driver, op string, duration time.Duration) {
	storageOpDuration.WithLabelValues(driver, op).Observe(duration.Seconds())
}

// SetActiveLayers sets the layer-store gauge.
func (c *Collector) SetActiveLayers(n int) {
	layersActive.Set(float64(n))
}

// RecordReclaimed counts bytes reclaimed by a prune pass.
func (c *Collector) RecordReclaimed(class string, bytes int64) {
	if bytes > 0 {
		pruneReclaimedBytes.WithLabelValues(class).Add(float64(bytes))
	}
}

// Uptime reports how long the daemon has been up.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
