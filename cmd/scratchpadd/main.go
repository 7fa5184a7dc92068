package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Krakaw/scratchpad/internal/compose"
	"github.com/Krakaw/scratchpad/internal/docker"
	httpx "github.com/Krakaw/scratchpad/internal/http"
	"github.com/Krakaw/scratchpad/internal/service/ingress"
	"github.com/Krakaw/scratchpad/internal/service/scratch"
	"github.com/Krakaw/scratchpad/internal/service/shared"
	"github.com/Krakaw/scratchpad/internal/ws"
	"github.com/Krakaw/scratchpad/pkg/config"
	"github.com/Krakaw/scratchpad/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New("scratchpadd", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime, err := docker.New(cfg.Docker)
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer runtime.Close()
	if err := runtime.Ping(ctx); err != nil {
		log.Error("docker ping failed", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub(log)
	go hub.RunCleanup(ctx, cfg.Server.CleanupInterval)

	poller := ws.NewPoller(hub, runtime, cfg.Docker.LabelPrefix, cfg.Server.PollInterval, log)
	go poller.Run(ctx)

	runner := compose.NewRunner(log)
	provisioner := shared.NewProvisioner(runtime, cfg, log)
	databases := shared.NewDatabases(cfg, log)
	ingressSvc := ingress.New(runtime, ingress.DirLister(cfg.Server.ReleasesDir), cfg, log)
	scratchSvc := scratch.New(runtime, provisioner, databases, runner, ingressSvc, cfg, log)

	if cfg.Proxy.Enabled {
		if err := ingressSvc.Regenerate(ctx); err != nil {
			log.Warn("initial routing generation failed", "error", err)
		}
	}

	router := httpx.NewRouter(log, scratchSvc, provisioner, databases, ingressSvc, hub, runtime.Ping)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("scratchpad server starting", "addr", cfg.Server.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("scratchpad server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
