// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-core-stack/mcp-session-gateway/pkg/auth"
	"github.com/go-core-stack/mcp-session-gateway/pkg/channel"
	"github.com/go-core-stack/mcp-session-gateway/pkg/config"
	"github.com/go-core-stack/mcp-session-gateway/pkg/dispatch"
	"github.com/go-core-stack/mcp-session-gateway/pkg/gateway"
	"github.com/go-core-stack/mcp-session-gateway/pkg/routing"
	"github.com/go-core-stack/mcp-session-gateway/pkg/upstream"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("log_level", cfg.LogLevel).Msg("invalid log level")
	}
	log.Logger = log.Level(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Transport == config.TransportStdio {
		runStdio(ctx, cfg)
		return
	}

	gw, err := gateway.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct gateway")
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      gw,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}

	go func() {
		log.Info().
			Str("listen_addr", cfg.ListenAddr).
			Int("upstreams", len(cfg.Upstreams)).
			Str("auth_mode", string(cfg.AuthMode)).
			Msg("starting MCP session gateway")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("gateway server exited unexpectedly")
		}
	}()

	waitForShutdown(ctx, server, gw, cfg.GracefulShutdownTimeout)
}

// runStdio serves the single implicit, sessionless channel on the process
// streams. The resolver's result is the one process-wide identity; session
// registry and backend selection are bypassed in favour of the default
// upstream.
func runStdio(ctx context.Context, cfg config.Config) {
	selector := routing.NewSelector(cfg.Upstreams, false, log.Logger)

	binding := &implicitBinding{
		identity: auth.NewIdentity(auth.ProvenanceStatic, "", cfg.StaticToken, nil),
		target:   selector.Default(),
	}

	executor := upstream.NewClient(cfg, log.Logger)
	dispatcher := dispatch.New(executor, nil, cfg.WarmupTimeout, log.Logger)
	ch := channel.NewStdio(os.Stdin, os.Stdout, log.Logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("upstream", binding.target.URL.String()).Msg("starting MCP session gateway on stdio")

	if err := dispatcher.Serve(ctx, ch, binding); err != nil {
		log.Error().Err(err).Msg("stdio dispatch loop failed")
	}
	_ = ch.Close()
	log.Info().Msg("gateway stopped")
}

// implicitBinding is the fixed identity/target pair used on sessionless
// transports.
type implicitBinding struct {
	identity *auth.Identity
	target   routing.Target
}

func (b *implicitBinding) Identity() *auth.Identity       { return b.identity }
func (b *implicitBinding) Target() (routing.Target, bool) { return b.target, true }

func waitForShutdown(ctx context.Context, srv *http.Server, gw *gateway.Gateway, timeout time.Duration) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop

	log.Info().Msg("shutting down MCP session gateway")

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Closing sessions first cancels in-flight calls and unblocks any open
	// event streams so Shutdown can drain.
	gw.Registry().CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed; forcing close")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("forced close failed")
		}
	}

	log.Info().Msg("gateway stopped")
}
