package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del evaluador y de la API de resultados.
type Config struct {
	DialogURL       string        `env:"DIALOG_URL" envDefault:"http://localhost:5002"`
	PersonaStoreURL string        `env:"PERSONA_STORE_URL" envDefault:"http://localhost:5001"`
	InventoryPath   string        `env:"INVENTORY_PATH" envDefault:"inventories/mpi_120.csv"`
	RunsDir         string        `env:"RUNS_DIR" envDefault:"runs"`
	PlanPath        string        `env:"PLAN_PATH"`
	DialogTimeout   time.Duration `env:"DIALOG_TIMEOUT" envDefault:"30s"`
	PersonaTimeout  time.Duration `env:"PERSONA_TIMEOUT" envDefault:"10s"`
	ItemDelay       time.Duration `env:"ITEM_DELAY" envDefault:"100ms"`
	FormatID        string        `env:"FORMAT_ID" envDefault:"MPI-120"`
	StrictOutput    bool          `env:"STRICT_OUTPUT" envDefault:"true"`
	RetryOnUnknown  bool          `env:"RETRY_ON_UNKNOWN" envDefault:"true"`

	// MetricsFile recibe las metricas del runner en formato texto; vacio usa <runs>/metrics.prom, "off" lo desactiva.
	MetricsFile string `env:"METRICS_FILE"`

	DatabaseURL   string `env:"DATABASE_URL"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	HTTPPort          string `env:"HTTP_PORT" envDefault:"8080"`
	JWTSecret         string `env:"JWT_SECRET"`
	JWTAccessTTLHours int    `env:"JWT_ACCESS_TTL_HOURS" envDefault:"24"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
