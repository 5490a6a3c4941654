package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/MaartenRingburg/Pathoscope-V5/internal/cache"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/config"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/deg"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/history"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/logging"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/report"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/sources"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	gin.SetMode(cfg.GinMode)

	logger := logging.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	store, db, err := openHistory(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics := web.NewMetrics()
	responses := cache.New[[]byte](cfg.CacheTTL, cfg.CacheSize)
	defer responses.Stop()
	metrics.WatchCache("responses", responses.Stats)

	srv, err := web.NewServer(web.Deps{
		Analyzer: report.NewPipeline(newCollaborators(cfg, responses, logger, metrics), store, logger),
		History:  store,
		DB:       db,
		PDF:      &report.ChromeRenderer{ExecPath: cfg.ChromePath, Timeout: cfg.PDFTimeout},
		Metrics:  metrics,
		Logger:   logger,
		Defaults: deg.Options{
			Thresholds: deg.Thresholds{FoldChange: cfg.FoldChangeThreshold, PValue: cfg.PValueThreshold},
			Heatmap:    deg.HeatmapOptions{MaxRows: cfg.HeatmapRows},
		},
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("server listening", slog.String("addr", server.Addr), slog.Bool("db", cfg.EnableDB))
	return waitForShutdown(server, errCh, logger)
}

// openHistory picks Postgres when ENABLE_DB is set and the local bbolt file
// otherwise. The returned HealthChecker is nil without a database.
func openHistory(ctx context.Context, cfg *config.Config) (history.Store, web.HealthChecker, error) {
	if cfg.EnableDB {
		pg, err := history.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		return pg, pg, nil
	}
	bolt, err := history.OpenBolt(cfg.HistoryPath)
	if err != nil {
		return nil, nil, err
	}
	return bolt, nil, nil
}

func newCollaborators(cfg *config.Config, responses *cache.TTL[[]byte], logger *slog.Logger, metrics *web.Metrics) report.Collaborators {
	fetcher := sources.NewFetcher(sources.FetcherConfig{
		Client:   &http.Client{},
		Timeout:  cfg.HTTPTimeout,
		Cache:    responses,
		Logger:   logger,
		Observer: metrics.ObserveCollaborator,
	})
	kegg := fetcher.WithLimiter(rate.NewLimiter(rate.Limit(cfg.KEGGRate), 1))

	return report.Collaborators{
		Pathways:   sources.NewKEGG(kegg, ""),
		Network:    sources.NewSTRING(fetcher, ""),
		Enrichment: sources.NewGProfiler(fetcher, ""),
		Explainer:  sources.NewGemini(fetcher, "", cfg.GeminiModel, cfg.GeminiAPIKey),
		Drugs:      sources.NewDGIdb(fetcher, ""),
	}
}

func waitForShutdown(server *http.Server, errCh <-chan error, logger *slog.Logger) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-stop:
	}

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
