package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL" envDefault:"veco-ner.db"`
	APIPort     int    `env:"API_PORT" envDefault:"8001"`

	ModelCacheDir  string `env:"MODEL_CACHE_DIR" envDefault:"./model-cache"`
	OnnxRuntimeLib string `env:"ONNX_RUNTIME_LIB"`

	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`

	// PreloadModels are loaded at startup instead of on first request.
	PreloadModels  []string `env:"PRELOAD_MODELS" envSeparator:","`
	PredictWorkers int      `env:"PREDICT_WORKERS" envDefault:"4"`
}

// S3Enabled reports whether remote checkpoints can be resolved.
func (c Config) S3Enabled() bool {
	return c.S3EndpointURL != "" || (c.S3AccessKeyID != "" && c.S3SecretAccessKey != "")
}

// Load reads the environment, first applying envFile if it is set. Values
// already present in the environment take precedence over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		slog.Info("loading env from file", "path", envFile)
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("error loading env file '%s': %w", envFile, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config: %w", err)
	}

	if cfg.S3EndpointURL != "" && (cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "") {
		slog.Warn("S3_ENDPOINT_URL is set, but AWS_ACCESS_KEY_ID or AWS_SECRET_ACCESS_KEY are missing")
	}
	if cfg.PredictWorkers <= 0 {
		return Config{}, fmt.Errorf("PREDICT_WORKERS must be positive, got %d", cfg.PredictWorkers)
	}

	return cfg, nil
}
