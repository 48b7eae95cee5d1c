// Copyright (C) 2025 ScribeWorks AI (oss@scribeworks.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the assist
// streaming pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics.
const metricsNamespace = "scribeworks"

// StreamingMetrics holds the instruments for assist streaming endpoints.
//
// Label conventions:
//   - endpoint: "assist_sse" or "assist_ws"
//   - status: "ok", "error", "rate_limited", "quota_exhausted", "unavailable"
type StreamingMetrics struct {
	// RequestsTotal counts stream requests by endpoint and final status.
	RequestsTotal *prometheus.CounterVec

	// TokensTotal counts display-text deltas forwarded to clients.
	TokensTotal *prometheus.CounterVec

	// InstructionsTotal counts dispatched instructions by name and outcome.
	InstructionsTotal *prometheus.CounterVec

	// DroppedFramesTotal counts frame payloads that never parsed and were
	// dropped at stream end.
	DroppedFramesTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures stream start to first token.
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures full stream duration.
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams gauges currently open streams.
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts stream failures by endpoint and kind.
	ErrorsTotal *prometheus.CounterVec

	// KeepAlivesTotal counts SSE keep-alive comments sent.
	KeepAlivesTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts streams ended by the client.
	ClientDisconnectsTotal *prometheus.CounterVec
}

// DefaultMetrics is the shared instance used by the handlers. Populated by
// InitMetrics at service start; nil-checked by users so tests can run
// without registration.
var DefaultMetrics *StreamingMetrics

// InitMetrics registers all streaming metrics with the default Prometheus
// registry and installs the result as DefaultMetrics. Call once at startup;
// promauto panics on duplicate registration.
func InitMetrics() *StreamingMetrics {
	DefaultMetrics = &StreamingMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "streaming",
				Name:      "requests_total",
				Help:      "Total assist stream requests by endpoint and status.",
			},
			[]string{"endpoint", "status"},
		),
		TokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "streaming",
				Name:      "tokens_total",
				Help:      "Total display tokens forwarded to clients.",
			},
			[]string{"endpoint"},
		),
		InstructionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "streaming",
				Name:      "instructions_total",
				Help:      "Total dispatched instructions by name and outcome.",
			},
			[]string{"name", "outcome"},
		),
		DroppedFramesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "streaming",
				Name:      "dropped_frames_total",
				Help:      "Frame payloads dropped after failing to parse.",
			},
			[]string{"endpoint"},
		),
		TimeToFirstTokenSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "streaming",
				Name:      "time_to_first_token_seconds",
				Help:      "Latency from stream start to first token.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		),
		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "streaming",
				Name:      "stream_duration_seconds",
				Help:      "Total duration of assist streams.",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"endpoint"},
		),
		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "streaming",
				Name:      "active_streams",
				Help:      "Currently open assist streams.",
			},
			[]string{"endpoint"},
		),
		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "streaming",
				Name:      "errors_total",
				Help:      "Stream failures by endpoint and kind.",
			},
			[]string{"endpoint", "kind"},
		),
		KeepAlivesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "streaming",
				Name:      "keepalives_total",
				Help:      "SSE keep-alive comments sent.",
			},
			[]string{"endpoint"},
		),
		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "streaming",
				Name:      "client_disconnects_total",
				Help:      "Streams terminated by client disconnect.",
			},
			[]string{"endpoint"},
		),
	}
	return DefaultMetrics
}

// CountDroppedFrames adds n to the dropped-frame counter for an endpoint.
// Safe to call before InitMetrics; drops the observation when metrics are
// not registered.
func CountDroppedFrames(endpoint string, n int) {
	if DefaultMetrics != nil && n > 0 {
		DefaultMetrics.DroppedFramesTotal.WithLabelValues(endpoint).Add(float64(n))
	}
}
