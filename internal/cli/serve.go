package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/usnavy13/codebox/internal/api"
	"github.com/usnavy13/codebox/internal/config"
	"github.com/usnavy13/codebox/internal/events"
	"github.com/usnavy13/codebox/internal/orchestrator"
	"github.com/usnavy13/codebox/internal/pool"
	"github.com/usnavy13/codebox/internal/registry"
	"github.com/usnavy13/codebox/internal/sandbox"
	"github.com/usnavy13/codebox/internal/store"
)

const cleanupWorkerCount = 8

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the codebox execution server",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	RootCmd.AddCommand(serveCmd)
}

func runServer() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().Str("listen_addr", cfg.ListenAddr).Str("env", cfg.Env).Msg("🗳️  starting codebox server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	mgr, err := sandbox.NewManager(cfg.SandboxBaseDir, cfg.SandboxRunner, cfg.MaxOutputBytes)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize sandbox manager")
	}
	if !mgr.IsAvailable() {
		log.Fatal().Msg("sandbox runner binary unavailable")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to reach redis")
	}
	defer redisClient.Close()

	minioClient, err := minio.New(cfg.BlobEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.BlobAccessKey, cfg.BlobSecretKey, ""),
		Secure: cfg.BlobUseSSL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize blob store client")
	}

	cold, err := store.NewColdStore(ctx, minioClient, cfg.BlobBucket, cfg.GzipOutputsEnabled, cfg.GzipMinBytes)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize cold store")
	}
	hot := store.NewHotStore(redisClient)

	sessions := registry.NewSessionRegistry(redisClient)
	files := registry.NewFileRegistry(redisClient, cold)

	bus := events.NewBus()
	defer bus.Close()

	p := pool.New(cfg, mgr, bus, log.Logger)
	p.Start(ctx)
	defer p.Stop()

	orch := orchestrator.New(cfg, p, mgr, sessions, files, hot, cold, bus, log.Logger)
	orch.StartCleanupWorkers(ctx, cleanupWorkerCount)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	h := api.NewHandler(orch, sessions, files, mgr, apiKey, log.Logger)
	h.RegisterRoutes(e)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("listen_addr", cfg.ListenAddr).Msg("🚀 server listening")
		serverErr <- e.Start(cfg.ListenAddr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
		}
	case err := <-serverErr:
		log.Fatal().Err(err).Msg("server startup failed")
	}
}
