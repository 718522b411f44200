package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"persona-eval/internal/config"
	"persona-eval/internal/db"
	apihttp "persona-eval/internal/http"
	"persona-eval/internal/repository"
	"persona-eval/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	plan, err := config.LoadPlan(cfg.PlanPath)
	if err != nil {
		logger.Fatal("load plan", zap.Error(err))
	}

	var nearest apihttp.NearestFinder
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()

		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := db.Ping(ctxPing, pool); err != nil {
			logger.Warn("db ping failed, /api/similar disabled", zap.Error(err))
		} else {
			nearest = repository.NewPgSummaryRepository(pool)
		}
		cancel()
	}

	jwtSvc := service.NewJWTService(cfg.JWTSecret, time.Duration(cfg.JWTAccessTTLHours)*time.Hour)
	if !jwtSvc.Enabled() {
		logger.Warn("jwt secret not configured, results api is public")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	resultsHandler := apihttp.NewResultsHandler(
		logger,
		cfg.RunsDir,
		filepath.Join(cfg.RunsDir, "summary.csv"),
		service.NewChecksService(service.DefaultThresholds, logger),
		plan,
		nearest,
	)
	router := apihttp.NewRouter(logger, resultsHandler, jwtSvc, reg)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort), zap.String("runs_dir", cfg.RunsDir))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down server")
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
