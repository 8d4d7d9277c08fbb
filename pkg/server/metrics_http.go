package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format, /healthz and a JSON /presence
// snapshot. It runs in the background and shuts down when the server
// context is cancelled. An empty Config.MetricsAddr disables it.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.metricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

func (s *Server) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/presence", s.handlePresence)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// presenceSnapshot is the /presence response body.
type presenceSnapshot struct {
	Console string   `json:"console"`
	Online  []string `json:"online"`
}

func (s *Server) handlePresence(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(presenceSnapshot{
		Console: s.cfg.Name,
		Online:  s.registry.Names(),
	})
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("openchat_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("openchat_users_online", "Registered names, console included.", "gauge",
		int64(s.registry.Len()))

	write("openchat_connections_active", "Current open stream connections.", "gauge",
		m.ActiveConnections.Load())
	write("openchat_connections_total", "Lifetime stream connections accepted.", "counter",
		m.TotalConnections.Load())
	write("openchat_handshake_failures_total", "Stream handshakes rejected or abandoned.", "counter",
		m.HandshakeFailures.Load())
	write("openchat_disconnects_total", "Stream connections closed.", "counter",
		m.TotalDisconnects.Load())

	write("openchat_datagrams_in_total", "Datagram frames received.", "counter",
		m.DatagramsIn.Load())
	write("openchat_datagrams_rejected_total", "Datagram frames rejected.", "counter",
		m.DatagramsRejected.Load())

	write("openchat_public_messages_total", "Public broadcasts routed.", "counter",
		m.PublicMessages.Load())
	write("openchat_private_messages_total", "Private messages routed.", "counter",
		m.PrivateMessages.Load())
	write("openchat_deliveries_total", "Successful endpoint sends.", "counter",
		m.MessagesDelivered.Load())
	write("openchat_delivery_failures_total", "Failed endpoint sends.", "counter",
		m.DeliveryFailures.Load())
	write("openchat_endpoints_pruned_total", "Stream entries pruned after a failed send.", "counter",
		m.EndpointsPruned.Load())
	write("openchat_unknown_targets_total", "Private messages to names not online.", "counter",
		m.UnknownTargets.Load())
	write("openchat_malformed_commands_total", "Private-message commands without target or body.", "counter",
		m.MalformedCommands.Load())

	write("openchat_joins_total", "Users joined.", "counter", m.Joins.Load())
	write("openchat_leaves_total", "Users left.", "counter", m.Leaves.Load())
	write("openchat_expirations_total", "Datagram users timed out.", "counter", m.Expirations.Load())
}
