package ocr

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nowusman/DocGuard/internal/domain"
	"github.com/nowusman/DocGuard/internal/observability"
)

// Config tunes a Scheduler.
type Config struct {
	PerImageTimeout time.Duration
	MaxConcurrency  int
	// Policy overrides DefaultPolicy when non-nil; its MaxImages is replaced
	// by the per-batch option.
	Policy *Policy
}

// DefaultConfig returns a 30s per-image timeout and concurrency of two.
func DefaultConfig() Config {
	return Config{PerImageTimeout: 30 * time.Second, MaxConcurrency: 2}
}

// Scheduler gates images and recognizes the survivors. It belongs to one
// worker; the engine is shared by at most Concurrency() goroutines.
//
// slots holds one token per engine call in progress. A call abandoned at its
// timeout keeps its token until the engine actually returns, so engines that
// ignore ctx cannot exceed the bound.
type Scheduler struct {
	engine domain.OCREngine
	cfg    Config
	limit  int
	slots  chan struct{}
	logger *observability.Logger
}

// NewScheduler creates a Scheduler. A nil engine makes every image a
// disabled skip.
func NewScheduler(engine domain.OCREngine, cfg Config, logger *observability.Logger) *Scheduler {
	if cfg.PerImageTimeout <= 0 {
		cfg.PerImageTimeout = 30 * time.Second
	}
	limit := cfg.MaxConcurrency
	if limit <= 0 || limit > 2 {
		limit = 2
	}
	if n := runtime.NumCPU(); n < limit {
		limit = n
	}
	return &Scheduler{
		engine: engine,
		cfg:    cfg,
		limit:  limit,
		slots:  make(chan struct{}, limit),
		logger: observability.OrNop(logger).WithOperation("ocr"),
	}
}

// Concurrency is the number of images recognized at once.
func (s *Scheduler) Concurrency() int { return s.limit }

// Check verifies engine once, before any document is processed. A nil
// engine passes.
func Check(ctx context.Context, engine domain.OCREngine) error {
	if engine == nil {
		return nil
	}
	if err := engine.Check(ctx); err != nil {
		if domain.IsKind(err, domain.ErrorKindOCRUnavailable) {
			return err
		}
		return domain.OCRUnavailableError(engine.Name()+" engine unavailable", err)
	}
	return nil
}

// Run returns one OCRResult per image, ordered by image index. Per-image
// failures and timeouts are reported as skips and never returned as errors.
func (s *Scheduler) Run(ctx context.Context, images []domain.ImageRegion, opts domain.Options) []domain.OCRResult {
	if len(images) == 0 {
		return nil
	}
	if !opts.OCRActive() || s.engine == nil {
		out := make([]domain.OCRResult, len(images))
		for i := range images {
			out[i] = domain.OCRResult{ImageIndex: i, WasSkipped: true, SkipReason: domain.SkipDisabled}
		}
		return out
	}

	policy := DefaultPolicy(opts.MaxImagesPerDocument)
	if s.cfg.Policy != nil {
		policy = *s.cfg.Policy
		policy.MaxImages = opts.MaxImagesPerDocument
	}
	tasks, results := policy.Gate(images)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.limit)
	for _, task := range tasks {
		g.Go(func() error {
			r := s.recognize(ctx, task)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].ImageIndex < results[j].ImageIndex })

	s.logger.Debug().
		Int("images", len(images)).
		Int("recognized", len(tasks)).
		Int("concurrency", s.Concurrency()).
		Msg("ocr complete")
	return results
}

func (s *Scheduler) recognize(ctx context.Context, task domain.OCRTask) domain.OCRResult {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.PerImageTimeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	var o outcome
	select {
	case s.slots <- struct{}{}:
		done := make(chan outcome, 1)
		go func() {
			defer func() { <-s.slots }()
			text, err := s.engine.Recognize(tctx, task.PixelData)
			done <- outcome{text, err}
		}()
		select {
		case o = <-done:
		case <-tctx.Done():
			o.err = tctx.Err()
		}
	case <-tctx.Done():
		o.err = tctx.Err()
	}

	if o.err == nil {
		return domain.OCRResult{ImageIndex: task.ImageIndex, RecognizedText: collapseSpace(o.text)}
	}

	reason := domain.SkipError
	if errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil {
		reason = domain.SkipTimeout
	}
	s.logger.Warn().
		Int("image_index", task.ImageIndex).
		Str("reason", string(reason)).
		Err(o.err).
		Msg("image skipped")
	return domain.OCRResult{ImageIndex: task.ImageIndex, WasSkipped: true, SkipReason: reason}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
