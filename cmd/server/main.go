package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tyrowin/chatrelay/internal/logger"
	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/Tyrowin/chatrelay/internal/store/postgres"
)

func main() {
	// --- config ---
	cfg, err := server.LoadConfig(slog.Default(), "")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := logger.DetectEnv()
	if cfg.Logging.Env != "" {
		env = logger.ParseEnv(cfg.Logging.Env)
	}
	lg := logger.Init(logger.Config{
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Env:       env,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     logger.ParseLevel(cfg.Logging.Level),
		Debug:     cfg.Logging.Debug,
		AddSource: cfg.Logging.AddSource,
	})
	lg.Info("Starting chatrelay",
		slog.String("addr", cfg.Server.Addr),
		slog.String("membership", cfg.Membership.Source))

	// --- membership ---
	var resolver server.MembershipResolver
	if cfg.Membership.Source == server.MembershipPostgres {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:             cfg.Membership.DSN,
			MaxConns:        cfg.Membership.MaxConns,
			ApplicationName: cfg.Logging.Service,
		})
		cancel()
		if err != nil {
			lg.Error("Postgres unavailable", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		resolver = postgres.NewMembershipStore(pool)
	}

	// --- hub & http ---
	hub := server.NewHub(lg)
	server.StartHub(hub)

	handler := server.NewHandler(hub, cfg, resolver, lg)
	httpSrv := server.CreateServer(cfg.Server.Addr, server.NewRouter(handler))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpSrv, lg)
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		lg.Info("Shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			lg.Error("Server error", slog.Any("error", err))
		}
	}

	if err := server.ShutdownServer(httpSrv, cfg.Server.ShutdownTimeout, lg); err != nil {
		lg.Warn("HTTP shutdown incomplete", slog.Any("error", err))
	}
	if err := hub.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		lg.Warn("Hub shutdown incomplete", slog.Any("error", err))
	}
	lg.Info("Stopped")
}
