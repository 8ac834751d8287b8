package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	jobhandler "github.com/petbotlabs/room-render/internal/api/handlers/job"
	"github.com/petbotlabs/room-render/internal/api/router"
	"github.com/petbotlabs/room-render/internal/api/server"
	"github.com/petbotlabs/room-render/internal/artifact"
	"github.com/petbotlabs/room-render/internal/compositor"
	"github.com/petbotlabs/room-render/internal/config"
	"github.com/petbotlabs/room-render/internal/events"
	"github.com/petbotlabs/room-render/internal/fetch"
	"github.com/petbotlabs/room-render/internal/imagecache"
	jobrepo "github.com/petbotlabs/room-render/internal/repository/job"
	"github.com/petbotlabs/room-render/internal/resolve"
	rendersvc "github.com/petbotlabs/room-render/internal/service/render"
)

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad("./config/config.yml")

	if cfg.Log.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Optional S3-compatible artifact mirror.
	var mirror *artifact.Mirror
	if cfg.Artifacts.Minio.Endpoint != "" {
		var err error
		mirror, err = artifact.NewMirror(
			ctx,
			cfg.Artifacts.Minio.Endpoint,
			cfg.Artifacts.Minio.AccessKey,
			cfg.Artifacts.Minio.SecretKey,
			cfg.Artifacts.Minio.Bucket,
			cfg.Artifacts.Minio.UseSSL,
		)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to connect to artifact mirror")
		}
	}

	// Optional Kafka notifier for terminal job transitions.
	var notifier *events.Notifier
	if len(cfg.Kafka.Brokers) > 0 {
		strategy := retry.Strategy{
			Attempts: cfg.Retry.Attempts,
			Delay:    cfg.Retry.Delay,
			Backoff:  cfg.Retry.Backoff,
		}
		notifier = events.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, strategy)
	}

	// Render pipeline: fetcher -> decoder cache -> compositor -> artifacts.
	fetcher := fetch.New(fetch.Config{
		Timeout:         cfg.Assets.FetchTimeout,
		MaxConnsPerHost: cfg.Assets.MaxConnsPerHost,
		CacheTTL:        cfg.Assets.CacheTTL,
		CacheMaxItems:   cfg.Assets.CacheMaxItems,
	})
	decoder := imagecache.New(cfg.Assets.CacheTTL, cfg.Assets.ImageCacheMaxItems)
	comp := compositor.New(fetcher, decoder, cfg.Render.StaticFetchConcurrency, cfg.Render.FrameFetchConcurrency)
	store := artifact.NewStore(cfg.Artifacts.Dir, cfg.Server.PublicBaseURL, mirror)

	// Job registry with background eviction of terminal records.
	repo := jobrepo.NewRepository()
	repo.StartSweeper(ctx, time.Minute, cfg.Render.JobTTL)

	service := rendersvc.NewService(
		ctx,
		repo,
		store,
		comp,
		resolve.New(cfg.Assets.BaseURL),
		cfg.Render.Concurrency,
		notifier,
		rendersvc.Limits{
			MaxWidth:  cfg.Render.MaxWidth,
			MaxHeight: cfg.Render.MaxHeight,
			MaxLayers: cfg.Render.MaxLayers,
			MaxFrames: cfg.Render.MaxFrames,
		},
	)

	// HTTP surface.
	h := jobhandler.NewHandler(service, store)
	r := router.Setup(h, router.Options{
		APIToken:     cfg.Server.APIToken,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	s := server.New(cfg.Server.HTTPPort, r)

	go func() {
		zlog.Logger.Info().Str("addr", cfg.Server.HTTPPort).Msg("starting server")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Graceful shutdown with timeout for HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	// Close the Kafka producer client.
	if notifier != nil {
		if err := notifier.Client.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
		}
	}
}
