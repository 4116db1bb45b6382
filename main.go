package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"topsail/internal/config"
	"topsail/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger, err := buildLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Errorw("configuration error", "err", err)
		return 1
	}
	log.Infow("starting",
		"ws_port", cfg.WSPort, "game_port", cfg.GamePort, "admin_port", cfg.AdminPort,
		"tick_rate", cfg.TickRateHz, "max_sessions", cfg.MaxSessions)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := server.NewMetrics()
	registry := server.NewRegistry(cfg.MaxSessions)
	sim := server.NewSimulator(log, metrics, registry, cfg.TickRateHz, cfg.SnapshotRateHz)
	gateway := server.NewServer(cfg, log, metrics, registry, sim)
	udp := server.NewUDPServer(log, metrics, sim, cfg.GamePort)
	admin := server.NewAdminServer(cfg, log, metrics, registry, sim, udp)

	listenErr := make(chan error, 3)
	go func() { listenErr <- gateway.ListenAndServe(ctx) }()
	go func() { listenErr <- udp.ListenAndServe(ctx) }()
	go func() { listenErr <- admin.ListenAndServe(ctx) }()
	simErr := make(chan error, 1)
	go func() { simErr <- sim.Run(ctx) }()

	select {
	case <-ctx.Done():
		log.Infow("shutting down")
		return 0
	case err := <-listenErr:
		if err != nil {
			log.Errorw("listener failed", "err", err)
			return 1
		}
		return 0
	case err := <-simErr:
		if err != nil {
			log.Errorw("simulation failed", "err", err)
			return 2
		}
		return 0
	}
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
