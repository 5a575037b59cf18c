// Package metrics holds the Prometheus collectors exported by the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Spaces is the number of live space instances on this relay.
	Spaces = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spacerelay_spaces",
		Help: "Number of space instances currently held by this relay",
	})

	// Watchers is the number of connected watcher sockets.
	Watchers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spacerelay_watchers",
		Help: "Number of connected watchers",
	})

	// Mutations counts directory mutations by kind and origin (local or remote).
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacerelay_mutations_total",
		Help: "Directory mutations applied, by kind and origin",
	}, []string{"kind", "origin"})

	// FanoutEvents counts messages emitted to watchers by live fan-out.
	FanoutEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacerelay_fanout_events_total",
		Help: "Presence events emitted to watchers, by kind",
	}, []string{"kind"})

	// DeltaEvents counts synthesized events produced by filter changes.
	DeltaEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacerelay_delta_events_total",
		Help: "Synthetic add/remove events sent after a filter change",
	}, []string{"kind"})

	// ForwardErrors counts failed writes to the backend connection.
	ForwardErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spacerelay_forward_errors_total",
		Help: "Backend writes that returned an error",
	})

	// DroppedEvents counts watcher events discarded because the outbox was full.
	DroppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spacerelay_dropped_events_total",
		Help: "Watcher events dropped for slow consumers",
	})

	// BatchSize observes how many events a watcher flush carries.
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spacerelay_batch_size",
		Help:    "Events per flushed watcher batch",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})
)
