// Package config loads server settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	GinMode     string `envconfig:"GIN_MODE" default:"release"`
	EnableDB    bool   `envconfig:"ENABLE_DB" default:"false"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	HistoryPath string `envconfig:"HISTORY_PATH" default:"data/history.db"`

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`
	GeminiModel  string `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`
	CacheTTL    time.Duration `envconfig:"CACHE_TTL" default:"30m"`
	CacheSize   int           `envconfig:"CACHE_SIZE" default:"512"`
	KEGGRate    float64       `envconfig:"KEGG_RATE" default:"3"`

	FoldChangeThreshold float64 `envconfig:"FOLD_CHANGE_THRESHOLD" default:"1"`
	PValueThreshold     float64 `envconfig:"P_VALUE_THRESHOLD" default:"0.05"`
	HeatmapRows         int     `envconfig:"HEATMAP_ROWS" default:"50"`

	MaxUploadBytes int64         `envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`
	ChromePath     string        `envconfig:"CHROME_PATH"`
	PDFTimeout     time.Duration `envconfig:"PDF_TIMEOUT" default:"30s"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.EnableDB && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required when ENABLE_DB=true"))
	}
	if c.FoldChangeThreshold < 0 || math.IsNaN(c.FoldChangeThreshold) || math.IsInf(c.FoldChangeThreshold, 0) {
		errs = append(errs, fmt.Errorf("FOLD_CHANGE_THRESHOLD must be a finite value >= 0, got %v", c.FoldChangeThreshold))
	}
	if !(c.PValueThreshold > 0 && c.PValueThreshold <= 1) {
		errs = append(errs, fmt.Errorf("P_VALUE_THRESHOLD must be in (0, 1], got %v", c.PValueThreshold))
	}
	if c.HeatmapRows < 0 {
		errs = append(errs, fmt.Errorf("HEATMAP_ROWS must be >= 0, got %d", c.HeatmapRows))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes))
	}
	if c.KEGGRate <= 0 {
		errs = append(errs, fmt.Errorf("KEGG_RATE must be positive, got %v", c.KEGGRate))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout))
	}
	return errors.Join(errs...)
}
