package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	grpcapi "voice-relay-service/internal/api/grpc"
	"voice-relay-service/internal/app"
	"voice-relay-service/internal/config"
	apihttp "voice-relay-service/internal/http"
	"voice-relay-service/internal/observability"
	"voice-relay-service/internal/observability/metrics"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	obs := observability.NewServer(":" + cfg.Service.MetricsPort)
	obs.Start()

	var health *grpcapi.Server
	if cfg.Service.GRPCHealth {
		lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
		if err != nil {
			log.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("Failed to listen for gRPC")
		}
		health = grpcapi.New(metrics.DefaultMetrics)
		go func() {
			log.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC health server started")
			if err := health.Serve(lis); err != nil {
				log.Error().Err(err).Msg("gRPC serve failed")
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           apihttp.NewRouter(application),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Service.HTTPPort).Msg("Voice relay service started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	if health != nil {
		health.SetServing(application.RecognizerLoaded())
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down voice relay service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()

	obs.SetReady(false)
	if health != nil {
		health.Shutdown()
	}
	// Hijacked WebSocket connections are not tracked by Shutdown; the
	// application ends their sessions.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Application shutdown")
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Observability server shutdown")
	}
}
