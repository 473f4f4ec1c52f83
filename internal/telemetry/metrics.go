/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry holds the Prometheus collectors and OpenTelemetry
// tracing setup shared across the service.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestsTotal counts HTTP requests by method, route, and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_vision_api_requests_total",
		Help: "Total HTTP API requests",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration tracks HTTP handler latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grimnir_vision_api_request_duration_seconds",
		Help:    "HTTP API request latency",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections gauges in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_vision_api_active_connections",
		Help: "In-flight HTTP API requests",
	})

	// APIWebSocketConnections gauges live state-feed sockets.
	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_vision_api_websocket_connections",
		Help: "Connected state-feed websockets",
	})

	// ActiveSessions gauges live playback sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_vision_active_sessions",
		Help: "Live playback sessions",
	})

	// StreamsOpenedTotal counts stream opens by media kind.
	StreamsOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_vision_streams_opened_total",
		Help: "Streams opened, by media kind",
	}, []string{"kind"})

	// PlaybackErrorsTotal counts playback failures by stage.
	PlaybackErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_vision_playback_errors_total",
		Help: "Playback failures by stage",
	}, []string{"stage"})

	// ScrubGesturesTotal counts completed scrub gestures.
	ScrubGesturesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grimnir_vision_scrub_gestures_total",
		Help: "Completed scrub gestures",
	})

	// BufferingEpisodesTotal counts entries into the buffering state.
	BufferingEpisodesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grimnir_vision_buffering_episodes_total",
		Help: "Playback stalls observed",
	})

	// MeshRebuildsTotal counts projection mesh rebuilds by outcome.
	MeshRebuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_vision_mesh_rebuilds_total",
		Help: "Projection mesh rebuilds by outcome",
	}, []string{"status"})

	// MeshVertices gauges the vertex count of the live mesh.
	MeshVertices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_vision_mesh_vertices",
		Help: "Vertices in the most recently applied projection mesh",
	})

	// ManifestFetchesTotal counts variant manifest downloads by outcome.
	ManifestFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_vision_manifest_fetches_total",
		Help: "Variant manifest fetches by outcome",
	}, []string{"status"})

	// ManifestCacheHitsTotal counts variant cache hits.
	ManifestCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grimnir_vision_manifest_cache_hits_total",
		Help: "Variant list cache hits",
	})

	// ManifestCacheMissesTotal counts variant cache misses.
	ManifestCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grimnir_vision_manifest_cache_misses_total",
		Help: "Variant list cache misses",
	})

	// EngineRestartsTotal counts supervised engine restarts by reason.
	EngineRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_vision_engine_restarts_total",
		Help: "Supervised engine restarts by reason",
	}, []string{"reason"})

	// CacheOperationsTotal counts Redis cache traffic by entity and outcome.
	CacheOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_vision_cache_operations_total",
		Help: "Cache operations by entity and outcome",
	}, []string{"entity", "outcome"})

	// DBQueryDuration observes database operation latency by operation and table.
	DBQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grimnir_vision_db_query_duration_seconds",
		Help:    "Database operation latency",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"operation", "table"})

	// DBErrorsTotal counts database operation errors.
	DBErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_vision_db_errors_total",
		Help: "Database operation errors by operation and kind",
	}, []string{"operation", "kind"})

	// DBConnectionsActive gauges open database connections in use.
	DBConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_vision_db_connections_active",
		Help: "Database connections currently in use",
	})

	// DBConnectionsIdle gauges idle pooled database connections.
	DBConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_vision_db_connections_idle",
		Help: "Idle pooled database connections",
	})

	// EventRelayPublishesTotal counts cross-node event relay publishes.
	EventRelayPublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_vision_event_relay_publishes_total",
		Help: "Cross-node event relay publishes by backend and outcome",
	}, []string{"backend", "outcome"})

	// MediaProbesTotal counts media probe operations by outcome.
	MediaProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_vision_media_probes_total",
		Help: "Media probes by outcome",
	}, []string{"outcome"})
)

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
