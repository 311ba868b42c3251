package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"

	"github.com/mcuadros/go-defaults"
	"github.com/naoina/toml"
	"github.com/sethvargo/go-envconfig"
)

// MaxUploadBytes is the default upload limit, 5 MiB.
const MaxUploadBytes = 5 << 20

type Config struct {
	Server struct {
		Port                 int    `env:"PORT" default:"8080"`
		MaxUploadBytes       int64  `env:"GARBAGE_API_MAX_UPLOAD_BYTES" default:"5242880"`
		ReadHeaderTimeoutSec int    `env:"GARBAGE_API_READ_HEADER_TIMEOUT_SEC" default:"10"`
		ShutdownTimeoutSec   int    `env:"GARBAGE_API_SHUTDOWN_TIMEOUT_SEC" default:"5"`

		// comma separated, "*" allows every origin
		AllowOrigins string `env:"GARBAGE_API_CORS_ALLOW_ORIGINS" default:"*"`
	}

	Model struct {
		Path              string `env:"GARBAGE_API_MODEL_PATH" default:"models/garbage_cnn_model.onnx"`
		ClassesPath       string `env:"GARBAGE_API_CLASSES_PATH" default:"models/classes.json"`
		SharedLibraryPath string `env:"ONNXRUNTIME_SHARED_LIBRARY_PATH"`
		InputName         string `env:"GARBAGE_API_MODEL_INPUT_NAME"`
		OutputName        string `env:"GARBAGE_API_MODEL_OUTPUT_NAME"`
		TopK              int    `env:"GARBAGE_API_TOP_K" default:"3"`
	}

	Log struct {
		Level  string `env:"GARBAGE_API_LOG_LEVEL" default:"info"`
		Format string `env:"GARBAGE_API_LOG_FORMAT" default:"json"`

		// File additionally receives every record when set.
		File string `env:"GARBAGE_API_LOG_FILE"`
	}

	Metrics struct {
		Enable bool   `env:"GARBAGE_API_METRICS_ENABLE" default:"true"`
		Path   string `env:"GARBAGE_API_METRICS_PATH" default:"/metrics"`
	}
}

// Load applies struct defaults, then the optional TOML file, then the
// environment. Environment values win over the file; missing file keys keep
// their defaults.
func Load(ctx context.Context, file string) (*Config, error) {
	defer slog.Debug("end load config")
	slog.Debug("start load config", slog.String("file", file))

	cfg := &Config{}
	defaults.SetDefaults(cfg)
	toml.DefaultConfig.MissingField = func(typ reflect.Type, key string) error {
		return nil
	}

	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := toml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:           cfg,
		DefaultOverwrite: true,
	}); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535 (got %d)", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be > 0 (got %d)", c.Server.MaxUploadBytes)
	}
	if c.Model.Path == "" {
		return errors.New("model path must be set")
	}
	if c.Model.TopK <= 0 {
		return fmt.Errorf("top_k must be > 0 (got %d)", c.Model.TopK)
	}
	if c.Server.ShutdownTimeoutSec <= 0 {
		c.Server.ShutdownTimeoutSec = 5
	}
	if c.Server.ReadHeaderTimeoutSec <= 0 {
		c.Server.ReadHeaderTimeoutSec = 10
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	return nil
}
