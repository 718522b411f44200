package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"persona-eval/internal/config"
	"persona-eval/internal/db"
	"persona-eval/internal/domain"
	"persona-eval/internal/repository"
	"persona-eval/internal/service"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:          "mpieval",
	Short:        "Personality inventory evaluation for persona-conditioned dialog models",
	Long:         "Runs the MPI inventory against a dialog endpoint, aggregates trait scores, orchestrates condition x seed x order experiments and validates the results.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		c, err := config.LoadConfig()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		l, err := config.NewLogger(cfg.LogLevel)
		if err != nil {
			return eris.Wrap(err, "init logger")
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd, aggregateCmd, experimentCmd, summarizeCmd, checkCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// summaryPath es la tabla consolidada: el flag si vino, si no <runs>/summary.csv.
func summaryPath(flag, runsDir string) string {
	return orDefault(flag, filepath.Join(runsDir, "summary.csv"))
}

// optionalIntFlag interpreta "", "None" y "null" como ausencia de valor.
func optionalIntFlag(cmd *cobra.Command, name string) (*int, error) {
	raw, _ := cmd.Flags().GetString(name)
	v, err := domain.ParseOptionalInt(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "flag --%s", name)
	}
	return v, nil
}

// newBaselineCache usa Redis cuando REDIS_ADDR esta configurado y responde; si no, memoria.
func newBaselineCache(ctx context.Context) (service.BaselineCache, func()) {
	if cfg.RedisAddr == "" {
		return service.NewMemoryBaselineCache(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		logger.Warn("redis ping failed, using in-memory baseline cache", zap.Error(err))
		_ = client.Close()
		return service.NewMemoryBaselineCache(), func() {}
	}
	return service.NewRedisBaselineCache(client, 0), func() { _ = client.Close() }
}

// newSummaryMirror abre el espejo Postgres cuando DATABASE_URL esta configurado.
func newSummaryMirror(ctx context.Context) (*repository.PgSummaryRepository, *pgxpool.Pool) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Warn("db connect failed, summary mirror disabled", zap.Error(err))
		return nil, nil
	}
	repo := repository.NewPgSummaryRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Warn("summary mirror schema failed, mirror disabled", zap.Error(err))
		pool.Close()
		return nil, nil
	}
	return repo, pool
}

// metricsPath resuelve METRICS_FILE; "" si esta desactivado.
func metricsPath(setting, runsDir string) string {
	if setting == "off" {
		return ""
	}
	return orDefault(setting, filepath.Join(runsDir, "metrics.prom"))
}

// writeRunnerMetrics deja el registry en un archivo de texto para el textfile collector de node_exporter.
func writeRunnerMetrics(g prometheus.Gatherer, path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "create metrics dir")
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return eris.Wrap(err, "write metrics")
	}
	return nil
}

// flushRunnerMetrics se usa con defer al final de run y experiment; un error solo se registra.
func flushRunnerMetrics(g prometheus.Gatherer, runsDir string) {
	path := metricsPath(cfg.MetricsFile, runsDir)
	if err := writeRunnerMetrics(g, path); err != nil {
		logger.Warn("runner metrics not written", zap.String("path", path), zap.Error(err))
	}
}
