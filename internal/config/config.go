// Package config provides unified configuration loading for DocGuard.
// Supports YAML files, .env files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nowusman/DocGuard/internal/domain"
)

// Config holds all configuration for DocGuard.
type Config struct {
	Processing    ProcessingConfig    `yaml:"processing"`
	PII           PIIConfig           `yaml:"pii"`
	OCR           OCRConfig           `yaml:"ocr"`
	NER           NERConfig           `yaml:"ner"`
	Limits        LimitsConfig        `yaml:"limits"`
	Server        ServerConfig        `yaml:"server"`
	Sink          SinkConfig          `yaml:"sink"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ProcessingConfig holds the defaults for every batch's processing options.
type ProcessingConfig struct {
	MaxWorkers           int      `yaml:"max_workers"`
	MaxImagesPerDocument int      `yaml:"max_images_per_document"`
	RenderScale          float64  `yaml:"render_scale"`
	HeaderFooterRatio    float64  `yaml:"header_footer_ratio"`
	MaxCacheItems        int      `yaml:"max_cache_items"`
	ThroughputMode       bool     `yaml:"throughput_mode"`
	EnableOCR            bool     `yaml:"enable_ocr"`
	Anonymize            bool     `yaml:"anonymize"`
	RemovePII            bool     `yaml:"remove_pii"`
	ExtractStructured    bool     `yaml:"extract_structured"`
	AnonymizeTerms       []string `yaml:"anonymize_terms"`
	Replacement          *string  `yaml:"replacement"`
}

// PIIConfig overrides or extends the built-in PII patterns, keyed by kind.
type PIIConfig struct {
	Patterns map[string]string `yaml:"patterns"`
}

// OCRConfig holds OCR engine settings.
type OCRConfig struct {
	Engine          string        `yaml:"engine"` // tesseract or none
	Languages       []string      `yaml:"languages"`
	TessdataPrefix  string        `yaml:"tessdata_prefix"`
	PerImageTimeout time.Duration `yaml:"per_image_timeout"`
	MaxConcurrency  int           `yaml:"max_concurrency"`
}

// NERConfig holds named-entity engine settings.
type NERConfig struct {
	Driver     string        `yaml:"driver"` // http or none
	Endpoint   string        `yaml:"endpoint"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// LimitsConfig holds upload limits.
type LimitsConfig struct {
	MaxFileSizeMB  int `yaml:"max_file_size_mb"`
	MaxBatchSizeMB int `yaml:"max_batch_size_mb"`
	MaxFiles       int `yaml:"max_files"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

// SinkConfig holds result fan-out settings.
type SinkConfig struct {
	Driver  string      `yaml:"driver"` // none or redis
	Channel string      `yaml:"channel"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigError("validate config", err)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files (default ".env") into
// the process environment. Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Processing: ProcessingConfig{
			MaxWorkers:           defaultWorkers(),
			MaxImagesPerDocument: domain.DefaultMaxImagesPerDocument,
			RenderScale:          domain.DefaultRenderScale,
			HeaderFooterRatio:    domain.DefaultHeaderFooterRatio,
			MaxCacheItems:        domain.DefaultMaxCacheItems,
			EnableOCR:            true,
		},
		OCR: OCRConfig{
			Engine:          "tesseract",
			Languages:       []string{"eng"},
			PerImageTimeout: 30 * time.Second,
			MaxConcurrency:  2,
		},
		NER: NERConfig{
			Driver:     "none",
			Endpoint:   "http://localhost:8090/v1/entities",
			Timeout:    60 * time.Second,
			MaxRetries: 3,
		},
		Limits: LimitsConfig{
			MaxFileSizeMB:  20,
			MaxBatchSizeMB: 100,
			MaxFiles:       10,
		},
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8086,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Minute,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
			AllowedOrigins:   []string{"*"},
		},
		Sink: SinkConfig{
			Driver:  "none",
			Channel: "docguard:results",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "console",
			ServiceName: "docguard",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	p := c.Processing
	if p.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1, got %d", p.MaxWorkers)
	}
	if p.MaxImagesPerDocument < 0 {
		return fmt.Errorf("max_images_per_document must not be negative")
	}
	if p.RenderScale <= 0 || p.RenderScale > 8 {
		return fmt.Errorf("render_scale must be in (0, 8], got %v", p.RenderScale)
	}
	if p.HeaderFooterRatio < 0 || p.HeaderFooterRatio >= 0.5 {
		return fmt.Errorf("header_footer_ratio must be in [0, 0.5), got %v", p.HeaderFooterRatio)
	}
	if p.MaxCacheItems < 0 {
		return fmt.Errorf("max_cache_items must not be negative")
	}

	for kind, expr := range c.PII.Patterns {
		if _, err := regexp.Compile(expr); err != nil {
			return fmt.Errorf("invalid pii pattern %q: %w", kind, err)
		}
	}

	if c.OCR.Engine != "tesseract" && c.OCR.Engine != "none" {
		return fmt.Errorf("invalid ocr engine: %s", c.OCR.Engine)
	}
	if c.NER.Driver != "http" && c.NER.Driver != "none" {
		return fmt.Errorf("invalid ner driver: %s", c.NER.Driver)
	}
	if c.NER.Driver == "http" && c.NER.Endpoint == "" {
		return fmt.Errorf("ner endpoint required for http driver")
	}
	if c.Sink.Driver != "none" && c.Sink.Driver != "redis" {
		return fmt.Errorf("invalid sink driver: %s", c.Sink.Driver)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Limits.MaxFiles < 1 || c.Limits.MaxFileSizeMB < 1 || c.Limits.MaxBatchSizeMB < 1 {
		return fmt.Errorf("limits must be positive")
	}

	return nil
}

// ProcessingOptions builds the immutable options value handed to the core.
func (c *Config) ProcessingOptions() domain.Options {
	p := c.Processing
	opts := domain.Options{
		Anonymize:            p.Anonymize,
		RemovePII:            p.RemovePII,
		ExtractStructured:    p.ExtractStructured,
		EnableOCR:            p.EnableOCR && c.OCR.Engine != "none",
		ThroughputMode:       p.ThroughputMode,
		MaxImagesPerDocument: p.MaxImagesPerDocument,
		RenderScale:          p.RenderScale,
		MaxCacheItems:        p.MaxCacheItems,
		MaxWorkers:           p.MaxWorkers,
		HeaderFooterRatio:    p.HeaderFooterRatio,
		AnonymizeTerms:       append([]string(nil), p.AnonymizeTerms...),
		Replacement:          domain.DefaultReplacement,
	}
	if p.Replacement != nil {
		opts.Replacement = *p.Replacement
	}
	return opts.Normalized()
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v, ok := envBool("THROUGHPUT_MODE"); ok {
		cfg.Processing.ThroughputMode = v
	}
	if v, ok := envInt("OCR_MAX_IMAGES_PER_DOC"); ok {
		cfg.Processing.MaxImagesPerDocument = v
	}
	if v, ok := envFloat("OCR_RENDER_SCALE"); ok {
		cfg.Processing.RenderScale = v
	}
	if v, ok := envInt("MAX_CACHE_ITEMS"); ok {
		cfg.Processing.MaxCacheItems = v
	}
	if v, ok := envInt("MAX_WORKERS"); ok {
		cfg.Processing.MaxWorkers = v
	}
	if v, ok := envFloat("HEADER_FOOTER_RATIO"); ok {
		cfg.Processing.HeaderFooterRatio = v
	}

	if v := os.Getenv("OCR_ENGINE"); v != "" {
		cfg.OCR.Engine = v
	}
	if v := os.Getenv("TESSDATA_PREFIX"); v != "" {
		cfg.OCR.TessdataPrefix = v
	}

	if v := os.Getenv("NER_ENDPOINT"); v != "" {
		cfg.NER.Driver = "http"
		cfg.NER.Endpoint = v
	}

	if v, ok := envInt("MAX_FILE_SIZE_MB"); ok {
		cfg.Limits.MaxFileSizeMB = v
	}
	if v, ok := envInt("MAX_BATCH_SIZE_MB"); ok {
		cfg.Limits.MaxBatchSizeMB = v
	}
	if v, ok := envInt("MAX_FILES"); ok {
		cfg.Limits.MaxFiles = v
	}

	if v, ok := envInt("SERVER_PORT"); ok {
		cfg.Server.Port = v
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Sink.Driver = "redis"
		cfg.Sink.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
	if v, ok := envBool("VERBOSE_LOGGING"); ok && v {
		cfg.Observability.LogLevel = "debug"
	}
}

func envBool(key string) (bool, bool) {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
