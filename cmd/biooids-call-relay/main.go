package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/biooids/web-rtc-biooids/internal/config"
	"github.com/biooids/web-rtc-biooids/internal/httpserver"
	"github.com/biooids/web-rtc-biooids/internal/metrics"
	"github.com/biooids/web-rtc-biooids/internal/relay"
	"github.com/biooids/web-rtc-biooids/internal/room"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting biooids-call-relay",
		"listen_addr", cfg.ListenAddr,
		"allowed_origins", cfg.AllowedOrigins,
		"max_signaling_message_bytes", cfg.MaxMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxMessagesPerSecond,
		"ws_ping_interval", cfg.WSPingInterval,
		"ws_pong_timeout", cfg.WSPongTimeout,
		"send_queue_size", cfg.SendQueueSize,
	)

	if len(cfg.AllowedOrigins) == 0 {
		logger.Warn("no ALLOWED_ORIGINS configured; browser clients are limited to same-host origins")
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	met := metrics.New()
	relaySrv := relay.NewServer(relay.Config{
		Logger:               logger,
		Rooms:                room.NewRegistry(),
		Metrics:              met,
		AllowedOrigins:       cfg.AllowedOrigins,
		MaxMessageBytes:      cfg.MaxMessageBytes,
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		PingInterval:         cfg.WSPingInterval,
		PongTimeout:          cfg.WSPongTimeout,
		SendQueueSize:        cfg.SendQueueSize,
	})

	srv := httpserver.New(cfg, logger, resolveBuildInfo(buildCommit, buildTime), relaySrv, met)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) httpserver.BuildInfo {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}
	return httpserver.BuildInfo{Commit: commit, BuildTime: buildTime}
}
