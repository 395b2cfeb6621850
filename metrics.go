// metrics.go
// Prometheus counters for hub activity. The /metrics endpoint is only
// served when -metrics_addr is set; the collectors themselves are always
// registered and cheap to update.
//go:build !client

package main

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chathub_active_sessions",
		Help: "Number of currently authenticated sessions.",
	})
	loginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chathub_logins_total",
		Help: "Login attempts by outcome.",
	}, []string{"result"})
	broadcastsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chathub_broadcasts_total",
		Help: "Broadcast fan-outs performed.",
	})
	transfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chathub_file_transfers_total",
		Help: "File operations by kind.",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(activeSessions, loginsTotal, broadcastsTotal, transfersTotal)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Printf("[Metrics] listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("[Metrics] server error: %v", err)
	}
}
