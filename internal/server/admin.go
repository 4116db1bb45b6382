package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"topsail/internal/config"
	"topsail/internal/game"
	"topsail/internal/protocol"
)

// AdminServer is the read-only HTTP surface: JSON status endpoints plus
// the Prometheus scrape target.
type AdminServer struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	metrics  *Metrics
	registry *Registry
	sim      *Simulator
	udp      *UDPServer

	startedAt time.Time
}

func NewAdminServer(cfg *config.Config, log *zap.SugaredLogger, metrics *Metrics, registry *Registry, sim *Simulator, udp *UDPServer) *AdminServer {
	return &AdminServer{
		cfg:       cfg,
		log:       log,
		metrics:   metrics,
		registry:  registry,
		sim:       sim,
		udp:       udp,
		startedAt: time.Now(),
	}
}

// ListenAndServe runs the admin endpoint until ctx is cancelled.
func (a *AdminServer) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/map", a.handleMap)
	mux.HandleFunc("/api/messages", a.handleMessages)
	mux.HandleFunc("/api/physics", a.handlePhysics)
	mux.HandleFunc("/api/network", a.handleNetwork)
	mux.HandleFunc("/api/performance", a.handlePerformance)
	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics.Registry, promhttp.HandlerOpts{}))

	hs := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.AdminPort),
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()

	a.log.Infow("admin endpoint listening", "port", a.cfg.AdminPort)
	if err := hs.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *AdminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := a.sim.Stats()
	writeJSON(w, map[string]interface{}{
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		"tick":           stats.Tick,
		"tick_rate_hz":   a.cfg.TickRateHz,
		"sessions":       a.registry.Count(),
		"udp_peers":      a.udp.PeerCount(),
		"players":        stats.Players,
		"ships":          stats.Ships,
		"world_bounds":   a.cfg.WorldBounds,
	})
}

// handleMap returns a full world snapshot, captured on the simulation
// goroutine so the admin never reads torn state.
func (a *AdminServer) handleMap(w http.ResponseWriter, r *http.Request) {
	var gs protocol.GameState
	a.sim.DoSync(func(world *game.WorldState) {
		gs = protocol.SnapshotFromWorld(world)
	})
	writeJSON(w, gs)
}

func (a *AdminServer) handleMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"inputs_accepted":  counterValue(a.metrics.InputsAccepted),
		"inputs_rejected":  counterValue(a.metrics.InputsRejected),
		"rate_limited":     counterValue(a.metrics.RateLimited),
		"unknown_messages": counterValue(a.metrics.UnknownMessages),
		"malformed_frames": counterValue(a.metrics.MalformedFrames),
	})
}

func (a *AdminServer) handlePhysics(w http.ResponseWriter, r *http.Request) {
	stats := a.sim.Stats()
	writeJSON(w, map[string]interface{}{
		"tick":              stats.Tick,
		"ships":             stats.Ships,
		"players":           stats.Players,
		"projectiles":       stats.Projectiles,
		"numeric_anomalies": stats.NumericAnomalies,
	})
}

func (a *AdminServer) handleNetwork(w http.ResponseWriter, r *http.Request) {
	stats := a.sim.Stats()
	writeJSON(w, map[string]interface{}{
		"sessions":            a.registry.Count(),
		"udp_peers":           a.udp.PeerCount(),
		"snapshot_rate_hz":    stats.SnapshotRateHz,
		"last_snapshot_bytes": stats.LastSnapshotSize,
		"snapshots_sent":      counterValue(a.metrics.SnapshotsSent),
		"snapshot_bytes":      counterValue(a.metrics.SnapshotBytes),
	})
}

func (a *AdminServer) handlePerformance(w http.ResponseWriter, r *http.Request) {
	stats := a.sim.Stats()
	writeJSON(w, map[string]interface{}{
		"last_tick_us": stats.LastTickMicros,
		"avg_tick_us":  stats.AvgTickMicros,
		"tick_rate_hz": a.cfg.TickRateHz,
		"tick_budget_us": time.Second.Microseconds() /
			int64(a.cfg.TickRateHz),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

// counterValue reads a prometheus counter for the JSON endpoints.
func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
