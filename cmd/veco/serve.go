package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"veco-ner/cmd"
	"veco-ner/internal/api"
	"veco-ner/internal/config"
	"veco-ner/internal/database"
	"veco-ner/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the model server",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.envFile)
			if err != nil {
				return err
			}
			return serve(c.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	cmd.InitOnnx(cfg)

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	m := metrics.New()

	manager, reg, err := cmd.NewModelManager(cfg, db, m, os.Stderr)
	if err != nil {
		return err
	}
	defer manager.Close()

	if len(cfg.PreloadModels) > 0 {
		if err := manager.Preload(ctx, cfg.PreloadModels); err != nil {
			return err
		}
	}

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	api.NewModelService(db, reg, manager, m).AddRoutes(r)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("api server listening", "port", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("could not listen on %d: %w", cfg.APIPort, err)
	}

	slog.Info("server stopped")
	return nil
}
