package terminal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tandem",
		Subsystem: "terminal",
		Name:      "sessions_active",
		Help:      "Terminal sessions currently registered",
	})

	spawnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tandem",
		Subsystem: "terminal",
		Name:      "spawns_total",
		Help:      "Shell processes started, including respawns",
	})

	spawnFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tandem",
		Subsystem: "terminal",
		Name:      "spawn_failures_total",
		Help:      "Shell processes that failed to start",
	})

	respawnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tandem",
		Subsystem: "terminal",
		Name:      "respawns_total",
		Help:      "Shells restarted after exiting",
	})

	outputBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tandem",
		Subsystem: "terminal",
		Name:      "output_bytes_total",
		Help:      "Bytes of shell output forwarded to clients",
	})
)
