package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ddevcap/streamgate/api"
	"github.com/ddevcap/streamgate/api/handler"
	"github.com/ddevcap/streamgate/catalog"
	"github.com/ddevcap/streamgate/config"
	"github.com/ddevcap/streamgate/hls"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	stores := handler.NewStores(cfg)
	defer stores.Stop()

	var servers []*http.Server
	var hlsManager *hls.Manager

	if cfg.StreamMode == config.ModeFrontend || cfg.StreamMode == config.ModeDual {
		resolver := handler.NewResolver(cfg, catalog.NewEmbyClient(cfg.CatalogURL), stores)
		servers = append(servers, newServer(cfg.FrontendListenAddr, api.NewFrontendRouter(cfg, resolver)))
	}
	if cfg.StreamMode == config.ModeBackend || cfg.StreamMode == config.ModeDual {
		hlsManager = hls.NewManager(hls.Config{
			Root:           cfg.TranscodeRoot,
			SegmentSeconds: cfg.SegmentDuration,
			IdleEviction:   cfg.HLSIdleEviction,
		})
		streamer := handler.NewStreamer(cfg, stores)
		hlsHandler := handler.NewHLS(hlsManager, stores.HLSSources)
		servers = append(servers, newServer(cfg.BackendListenAddr, api.NewBackendRouter(cfg, streamer, hlsHandler)))
	}

	for _, srv := range servers {
		srv := srv
		go func() {
			slog.Info("streamgate listening", "addr", srv.Addr, "mode", string(cfg.StreamMode))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("server error", "addr", srv.Addr, "error", err)
				os.Exit(1)
			}
		}()
	}

	// Wait for interrupt or SIGTERM (e.g. from container orchestration).
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "addr", srv.Addr, "error", err)
		}
	}
	if hlsManager != nil {
		hlsManager.Stop()
	}
	slog.Info("stopped")
}

// newServer applies the shared server hardening: header read and idle
// timeouts plus a header size cap. No write timeout — streams are long.
func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}
}
