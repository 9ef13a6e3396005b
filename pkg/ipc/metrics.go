package ipc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tandem",
		Name:      "ws_clients",
		Help:      "Connected WebSocket clients.",
	})
	metricDroppedClients = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tandem",
		Name:      "ws_clients_dropped_total",
		Help:      "Clients disconnected because their send queue was full.",
	})
	metricBroadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tandem",
		Name:      "broadcasts_total",
		Help:      "Events broadcast to all clients, by type.",
	}, []string{"type"})
	metricFileOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tandem",
		Name:      "file_ops_total",
		Help:      "File API operations, by operation and result.",
	}, []string{"op", "result"})
	metricScriptRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tandem",
		Name:      "script_runs_total",
		Help:      "Rebuild and sync script runs, by script and result.",
	}, []string{"script", "result"})
)

func observeFileOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metricFileOps.WithLabelValues(op, result).Inc()
}
