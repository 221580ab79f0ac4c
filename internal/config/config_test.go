package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nowusman/DocGuard/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Processing.MaxImagesPerDocument)
	assert.Equal(t, 1.25, cfg.Processing.RenderScale)
	assert.Equal(t, 0.08, cfg.Processing.HeaderFooterRatio)
	assert.Equal(t, 64, cfg.Processing.MaxCacheItems)
	assert.Equal(t, 30*time.Second, cfg.OCR.PerImageTimeout)
	assert.Equal(t, 20, cfg.Limits.MaxFileSizeMB)
	assert.Equal(t, 100, cfg.Limits.MaxBatchSizeMB)
	assert.Equal(t, 10, cfg.Limits.MaxFiles)
	assert.GreaterOrEqual(t, cfg.Processing.MaxWorkers, 1)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docguard.yaml")
	content := `
processing:
  max_workers: 3
  anonymize: true
  anonymize_terms: ["Acme", "acme", "Globex"]
  replacement: ""
ocr:
  engine: none
pii:
  patterns:
    employee_id: 'EMP-\d{6}'
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Processing.MaxWorkers)
	assert.Equal(t, "none", cfg.OCR.Engine)
	assert.Contains(t, cfg.PII.Patterns, "employee_id")

	opts := cfg.ProcessingOptions()
	assert.True(t, opts.Anonymize)
	assert.False(t, opts.EnableOCR, "ocr engine none disables OCR")
	assert.Equal(t, []string{"Globex", "Acme"}, opts.AnonymizeTerms)
	assert.Equal(t, "", opts.Replacement)
	assert.Equal(t, " ", opts.EffectiveReplacement())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("THROUGHPUT_MODE", "true")
	t.Setenv("OCR_MAX_IMAGES_PER_DOC", "4")
	t.Setenv("OCR_RENDER_SCALE", "2")
	t.Setenv("MAX_CACHE_ITEMS", "0")
	t.Setenv("NER_ENDPOINT", "http://ner.local/v1/entities")
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("VERBOSE_LOGGING", "1")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Processing.ThroughputMode)
	assert.Equal(t, 4, cfg.Processing.MaxImagesPerDocument)
	assert.Equal(t, 2.0, cfg.Processing.RenderScale)
	assert.Equal(t, 0, cfg.Processing.MaxCacheItems)
	assert.Equal(t, "http", cfg.NER.Driver)
	assert.Equal(t, "redis", cfg.Sink.Driver)
	assert.Equal(t, "cache:6379", cfg.Sink.Redis.Addr)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestLoad_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Processing.MaxWorkers = 0 }},
		{"ratio too big", func(c *Config) { c.Processing.HeaderFooterRatio = 0.5 }},
		{"bad pattern", func(c *Config) { c.PII.Patterns = map[string]string{"x": "("} }},
		{"bad ocr engine", func(c *Config) { c.OCR.Engine = "easyocr" }},
		{"bad sink", func(c *Config) { c.Sink.Driver = "kafka" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("DOCGUARD_TEST_VAR=from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("DOCGUARD_TEST_VAR") })

	LoadDotEnv(path, filepath.Join(dir, "absent.env"))
	assert.Equal(t, "from-dotenv", os.Getenv("DOCGUARD_TEST_VAR"))
}

func TestLoad_ValidationErrorKind(t *testing.T) {
	t.Setenv("MAX_WORKERS", "0")
	_, err := Load("")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorKindConfig, domain.KindOf(err))
}
