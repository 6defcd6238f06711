// Package integration exercises a fully-wired server (sandbox manager +
// pool + orchestrator + registries + stores) the same way the teacher's
// tests/integration package exercised a real Docker daemon: TestMain probes
// the live backends this package needs and skips the whole run, rather than
// failing, when they are unreachable.
//
// Grounded on the teacher's tests/integration/main_test.go (docker-ping
// skip idiom, os.Chdir to project root, background echo.Start + graceful
// teardown).
package integration

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/usnavy13/codebox/internal/api"
	"github.com/usnavy13/codebox/internal/config"
	"github.com/usnavy13/codebox/internal/events"
	"github.com/usnavy13/codebox/internal/orchestrator"
	"github.com/usnavy13/codebox/internal/pool"
	"github.com/usnavy13/codebox/internal/registry"
	"github.com/usnavy13/codebox/internal/sandbox"
	"github.com/usnavy13/codebox/internal/store"
)

const (
	ServerPort = "8091" // different from config's default to avoid conflicting with a dev server
	BaseURL    = "http://localhost:" + ServerPort
)

func TestMain(m *testing.M) {
	os.Chdir("../..") // so the sandbox manager can find the runner binary/base dir relative to the module root

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		fmt.Printf("redis unreachable, skipping integration tests: %v\n", err)
		os.Exit(0)
	}

	minioClient, err := minio.New(cfg.BlobEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.BlobAccessKey, cfg.BlobSecretKey, ""),
		Secure: cfg.BlobUseSSL,
	})
	if err != nil || !minioReachable(ctx, minioClient) {
		fmt.Println("blob store unreachable, skipping integration tests")
		os.Exit(0)
	}

	mgr, err := sandbox.NewManager(cfg.SandboxBaseDir, cfg.SandboxRunner, cfg.MaxOutputBytes)
	if err != nil || !mgr.IsAvailable() {
		fmt.Println("sandbox runner unavailable, skipping integration tests")
		os.Exit(0)
	}

	cold, err := store.NewColdStore(ctx, minioClient, cfg.BlobBucket, cfg.GzipOutputsEnabled, cfg.GzipMinBytes)
	if err != nil {
		fmt.Printf("failed to init cold store: %v\n", err)
		os.Exit(1)
	}
	hot := store.NewHotStore(redisClient)
	sessions := registry.NewSessionRegistry(redisClient)
	files := registry.NewFileRegistry(redisClient, cold)

	bus := events.NewBus()
	defer bus.Close()

	log := zerolog.Nop()
	p := pool.New(cfg, mgr, bus, log)
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	p.Start(runCtx)
	defer p.Stop()

	orch := orchestrator.New(cfg, p, mgr, sessions, files, hot, cold, bus, log)
	orch.StartCleanupWorkers(runCtx, 4)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	h := api.NewHandler(orch, sessions, files, mgr, "", log)
	h.RegisterRoutes(e)

	go func() {
		if err := e.Start(":" + ServerPort); err != nil && err != http.ErrServerClosed {
			fmt.Printf("server failed: %v\n", err)
			os.Exit(1)
		}
	}()

	if !waitForServer() {
		fmt.Println("timeout waiting for test server")
		os.Exit(1)
	}

	code := m.Run()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	e.Shutdown(shutdownCtx)
	os.Exit(code)
}

func minioReachable(ctx context.Context, c *minio.Client) bool {
	_, err := c.ListBuckets(ctx)
	return err == nil
}

func waitForServer() bool {
	for i := 0; i < 10; i++ {
		resp, err := http.Get(BaseURL + "/files/nonexistent-session")
		if err == nil {
			resp.Body.Close()
			return true
		}
		time.Sleep(500 * time.Millisecond)
	}
	return false
}
