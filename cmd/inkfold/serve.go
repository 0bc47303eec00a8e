package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/inkfold/inkfold/coord"
	"github.com/inkfold/inkfold/detect"
	"github.com/inkfold/inkfold/history"
	"github.com/inkfold/inkfold/notify"
	"github.com/inkfold/inkfold/queue"
	"github.com/inkfold/inkfold/server"
	"github.com/inkfold/inkfold/shield"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the conversion HTTP service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := loadConfig(cfgPath)
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func init() {
	serveCmd.Flags().String("config", "", "YAML config file (env vars override)")
	rootCmd.AddCommand(serveCmd)
}

func serve(cfg fileConfig) error {
	logger := slog.Default()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log, err := history.Open(cfg.HistoryDB, history.Config{Logger: logger})
	if err != nil {
		return err
	}
	defer log.Close()

	bus := notify.NewBus(cfg.EventBuffer)
	hub := server.NewHub(logger)
	defer hub.Close()
	sink := notify.Fanout{bus, hub}

	det := detect.New(detect.Config{Logger: logger})
	registry := buildRegistry(det, logger)

	scheduler := queue.New(queue.Config{
		MaxConcurrent: cfg.MaxConcurrent,
		Detector:      det,
		Registry:      registry,
		Sink:          sink,
		Logger:        logger,
	})
	coordinator := coord.New(coord.Config{
		Ceiling:  cfg.Ceiling,
		Detector: det,
		Registry: registry,
		Sink:     sink,
		History:  log,
		Logger:   logger,
	})

	var limits map[string]shield.RateLimitConfig
	if cfg.RateLimit > 0 {
		limits = map[string]shield.RateLimitConfig{
			"POST /files":   {MaxRequests: cfg.RateLimit, WindowSeconds: 60},
			"POST /convert": {MaxRequests: cfg.RateLimit, WindowSeconds: 60},
		}
	}

	srv := server.New(server.Config{
		Scheduler:   scheduler,
		Coordinator: coordinator,
		Bus:         bus,
		Hub:         hub,
		History:     log,
		UploadDir:   cfg.UploadDir,
		AuthUser:    cfg.AuthUser,
		AuthHash:    cfg.AuthPassHash,
		RateLimits:  limits,
		Logger:      logger,
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("server stopped")
	return nil
}
