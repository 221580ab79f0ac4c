// Package app wires configuration into a ready-to-use Orchestrator for the
// command-line and HTTP entry points.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nowusman/DocGuard/internal/batch"
	"github.com/nowusman/DocGuard/internal/config"
	"github.com/nowusman/DocGuard/internal/domain"
	"github.com/nowusman/DocGuard/internal/ner"
	"github.com/nowusman/DocGuard/internal/observability"
	"github.com/nowusman/DocGuard/internal/ocr"
	"github.com/nowusman/DocGuard/internal/ocr/tesseract"
	"github.com/nowusman/DocGuard/internal/pii"
	"github.com/nowusman/DocGuard/internal/sink"
	"github.com/nowusman/DocGuard/internal/validation"
)

// App holds the long-lived services built from a Config.
type App struct {
	Config       *config.Config
	Logger       *observability.Logger
	Orchestrator *batch.Orchestrator
	Limits       validation.Limits

	closers []io.Closer
}

// NewLogger builds the logger described by cfg.
func NewLogger(cfg *config.Config, output io.Writer, noColor bool) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		Output:      output,
		ServiceName: cfg.Observability.ServiceName,
		NoColor:     noColor,
	})
}

// New builds the engines, the optional result sink and the Orchestrator.
// Engines are not checked here; checks run per batch.
func New(cfg *config.Config, logger *observability.Logger) (*App, error) {
	logger = observability.OrNop(logger)
	a := &App{
		Config: cfg,
		Logger: logger,
		Limits: validation.NewLimits(cfg.Limits.MaxFileSizeMB, cfg.Limits.MaxBatchSizeMB, cfg.Limits.MaxFiles),
	}

	patterns, err := pii.NewPatternSet(cfg.PII.Patterns)
	if err != nil {
		return nil, err
	}

	// Step 1: OCR engine
	var ocrEngine domain.OCREngine
	if cfg.OCR.Engine == "tesseract" {
		eng := tesseract.New(tesseract.Config{
			Languages:      cfg.OCR.Languages,
			TessdataPrefix: cfg.OCR.TessdataPrefix,
			PoolSize:       cfg.OCR.MaxConcurrency * cfg.Processing.MaxWorkers,
		})
		ocrEngine = eng
		a.closers = append(a.closers, eng)
	}

	// Step 2: named-entity engine
	var recognizer domain.EntityRecognizer
	if cfg.NER.Driver == "http" {
		recognizer = ner.NewClient(cfg.NER.Endpoint, cfg.NER.Timeout, cfg.NER.MaxRetries, logger)
	}

	// Step 3: result sink
	var opts []batch.Option
	if cfg.Sink.Driver == "redis" {
		rs, err := sink.NewRedisSink(sink.RedisConfig{
			Addr:     cfg.Sink.Redis.Addr,
			Password: cfg.Sink.Redis.Password,
			DB:       cfg.Sink.Redis.DB,
			PoolSize: cfg.Sink.Redis.PoolSize,
			Channel:  cfg.Sink.Channel,
		}, logger)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("create result sink: %w", err)
		}
		opts = append(opts, batch.WithSink(rs))
		a.closers = append(a.closers, rs)
	}

	ocrCfg := ocr.DefaultConfig()
	if cfg.OCR.PerImageTimeout > 0 {
		ocrCfg.PerImageTimeout = cfg.OCR.PerImageTimeout
	}
	if cfg.OCR.MaxConcurrency > 0 {
		ocrCfg.MaxConcurrency = cfg.OCR.MaxConcurrency
	}

	a.Orchestrator = batch.New(ocrEngine, recognizer, batch.Config{
		OCR:      ocrCfg,
		Patterns: patterns,
	}, logger, opts...)

	logger.Info().
		Str("ocr_engine", cfg.OCR.Engine).
		Str("ner_driver", cfg.NER.Driver).
		Str("sink", cfg.Sink.Driver).
		Int("max_workers", cfg.Processing.MaxWorkers).
		Msg("application initialized")

	return a, nil
}

// Submit validates docs against the configured limits and starts a batch.
func (a *App) Submit(ctx context.Context, docs []domain.Document, opts domain.Options) (*batch.Batch, error) {
	if err := a.Limits.ValidateBatch(docs); err != nil {
		return nil, err
	}
	return a.Orchestrator.ProcessBatch(ctx, docs, opts)
}

// Close releases engine and sink resources.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
