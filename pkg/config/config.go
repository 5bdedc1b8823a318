// Package config loads catalog settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-catalog/pkg/catalog"
	"github.com/dd0wney/cluso-catalog/pkg/logging"
	"github.com/dd0wney/cluso-catalog/pkg/metrics"
)

// validate is a singleton validator instance
var validate = validator.New()

// Config is the on-disk form of catalog.Options plus tool settings
type Config struct {
	Dir             string `yaml:"dir" validate:"required"`
	Stride          int    `yaml:"stride" validate:"omitempty,min=1,max=65536"`
	KeyOrder        string `yaml:"key_order" validate:"omitempty,oneof=text hash"`
	Compress        bool   `yaml:"compress"`
	BufferCapacity  int    `yaml:"buffer_capacity" validate:"min=0"`
	CacheSize       int    `yaml:"cache_size" validate:"min=0"`
	WriteBufferSize int    `yaml:"write_buffer_size" validate:"min=0,max=67108864"`
	FinishOnClose   bool   `yaml:"finish_on_close"`
	QueueSize       int    `yaml:"queue_size" validate:"min=0"`
	LogLevel        string `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	MetricsFile     string `yaml:"metrics_file"`
}

// Option adjusts a Config after it is read and before it is validated
type Option func(*Config)

// WithDir overrides the catalog directory
func WithDir(dir string) Option {
	return func(c *Config) {
		if dir != "" {
			c.Dir = dir
		}
	}
}

// Default returns the settings used when no file is given
func Default() Config {
	opts := catalog.DefaultOptions()
	return Config{
		BufferCapacity: opts.BufferCapacity,
		CacheSize:      opts.CacheSize,
		FinishOnClose:  opts.FinishOnClose,
		QueueSize:      catalog.DefaultQueueSize,
		LogLevel:       "info",
	}
}

// Load reads path over the defaults, applies overrides, and validates the
// result. An empty path skips the file.
func Load(path string, overrides ...Option) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	for _, o := range overrides {
		o(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// Options converts the config to catalog options. Stride and key order are
// left zero when unset so an existing catalog keeps its layout.
func (c *Config) Options(logger logging.Logger, reg *metrics.Registry) catalog.Options {
	return catalog.Options{
		Stride:          c.Stride,
		KeyOrder:        c.KeyOrder,
		Compress:        c.Compress,
		BufferCapacity:  c.BufferCapacity,
		CacheSize:       c.CacheSize,
		WriteBufferSize: c.WriteBufferSize,
		FinishOnClose:   c.FinishOnClose,
		Logger:          logger,
		Metrics:         reg,
	}
}

// Level returns the configured log level
func (c *Config) Level() logging.Level {
	return logging.ParseLevel(c.LogLevel)
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	// Report the first failure
	for _, e := range validationErrs {
		field := e.Field()
		param := e.Param()

		switch e.Tag() {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "oneof":
			return fmt.Errorf("%s: must be one of [%s]", field, param)
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
		}
	}
	return err
}
