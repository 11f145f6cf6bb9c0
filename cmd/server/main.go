package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/specterlabs/handoff/internal/api"
	"github.com/specterlabs/handoff/internal/browser"
	"github.com/specterlabs/handoff/internal/config"
	"github.com/specterlabs/handoff/internal/provider"
	"github.com/specterlabs/handoff/internal/ratelimit"
	"github.com/specterlabs/handoff/internal/session"
	"github.com/specterlabs/handoff/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, using system environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration", "error", err)
	}

	launcher, cleanup, err := buildLauncher(cfg)
	if err != nil {
		log.Fatal("failed to set up browser launcher", "error", err)
	}
	defer cleanup()

	st, err := store.New(cfg.StorageDir)
	if err != nil {
		log.Fatal("failed to open session store", "error", err)
	}

	registry := session.NewRegistry(launcher, st, cfg)
	limiter := ratelimit.NewLimiter(cfg.RateLimit, cfg.RateBurst)

	handler := api.NewHandler(registry, st, launcher)
	router := handler.SetupRoutes(limiter, cfg.RateLimit)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
		// No WriteTimeout: the stream endpoint holds its connection open
		// for the whole session.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server listening",
			"addr", cfg.Addr,
			"launch_mode", cfg.LaunchMode,
			"providers", provider.Keys(),
			"viewport", fmt.Sprintf("%dx%d", cfg.ViewportWidth, cfg.ViewportHeight))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	registry.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", "error", err)
		return
	}
	log.Info("server stopped")
}

// buildLauncher wires the configured browser acquisition mode.
func buildLauncher(cfg *config.Config) (browser.Launcher, func(), error) {
	switch cfg.LaunchMode {
	case config.LaunchDocker:
		dl, err := browser.NewDockerLauncher(cfg.DockerImage, cfg.JPEGQuality)
		if err != nil {
			return nil, nil, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		log.Info("ensuring browser image is available", "image", cfg.DockerImage)
		if err := dl.EnsureImage(ctx); err != nil {
			dl.Close()
			return nil, nil, err
		}
		return dl, func() { dl.Close() }, nil

	default:
		ll := browser.NewLocalLauncher(browser.LocalConfig{
			Headless:    cfg.Headless,
			NoSandbox:   cfg.NoSandbox,
			Stealth:     cfg.Stealth,
			JPEGQuality: cfg.JPEGQuality,
		})
		return ll, func() {}, nil
	}
}
