// Package batch runs sets of documents through a fixed pool of workers.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nowusman/DocGuard/internal/domain"
	"github.com/nowusman/DocGuard/internal/extract"
	"github.com/nowusman/DocGuard/internal/observability"
	"github.com/nowusman/DocGuard/internal/ocr"
	"github.com/nowusman/DocGuard/internal/pii"
	"github.com/nowusman/DocGuard/internal/pipeline"
	"github.com/nowusman/DocGuard/internal/render"
)

const sinkTimeout = 5 * time.Second

// Config holds the engine settings shared by every worker.
type Config struct {
	OCR      ocr.Config
	Patterns *pii.PatternSet
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSink publishes every result to sink as it completes.
func WithSink(sink domain.ResultSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithProcessorFactory replaces the default per-worker Processor
// construction.
func WithProcessorFactory(f func() *pipeline.Processor) Option {
	return func(o *Orchestrator) { o.newProcessor = f }
}

// Orchestrator validates engines, then fans a batch out to workers. Each
// worker owns a Processor; Processors go back to an idle pool when the
// batch ends so that later batches reuse their caches.
type Orchestrator struct {
	ocrEngine    domain.OCREngine
	ner          domain.EntityRecognizer
	cfg          Config
	sink         domain.ResultSink
	logger       *observability.Logger
	newProcessor func() *pipeline.Processor

	mu   sync.Mutex
	idle []*pipeline.Processor
}

// New creates an Orchestrator. Either engine may be nil: without OCR every
// image is skipped, without NER full PII mode runs patterns only.
func New(ocrEngine domain.OCREngine, ner domain.EntityRecognizer, cfg Config, logger *observability.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ocrEngine: ocrEngine,
		ner:       ner,
		cfg:       cfg,
		logger:    observability.OrNop(logger).WithOperation("batch"),
	}
	o.newProcessor = o.buildProcessor
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) buildProcessor() *pipeline.Processor {
	return pipeline.NewProcessor(pipeline.Components{
		Extractor: extract.New(o.logger),
		OCR:       ocr.NewScheduler(o.ocrEngine, o.cfg.OCR, o.logger),
		Redactor:  pii.NewRedactor(o.cfg.Patterns, o.ner, o.logger),
		Renderer:  render.New(o.logger),
	}, o.logger)
}

// CheckEngines verifies the engines the options will use. Failures are
// batch-fatal.
func (o *Orchestrator) CheckEngines(ctx context.Context, opts domain.Options) error {
	if opts.OCRActive() {
		if err := ocr.Check(ctx, o.ocrEngine); err != nil {
			return err
		}
	}
	if opts.FullPII() && o.ner != nil {
		if err := o.ner.Check(ctx); err != nil {
			if domain.IsKind(err, domain.ErrorKindNERUnavailable) {
				return err
			}
			return domain.NERUnavailableError("named-entity engine unavailable", err)
		}
	}
	return nil
}

// ProcessBatch checks engines and starts processing docs. It returns once
// work is dispatched; results stream on the returned Batch. An engine
// failure is returned before any document runs.
//
// Cancelling ctx has the same effect as Batch.RequestCancel: documents not
// yet dispatched are marked Canceled and running ones finish.
func (o *Orchestrator) ProcessBatch(ctx context.Context, docs []domain.Document, opts domain.Options) (*Batch, error) {
	opts = opts.Normalized()
	if err := o.CheckEngines(ctx, opts); err != nil {
		o.logger.Error().Err(err).Msg("engine check failed, batch not started")
		return nil, err
	}

	b := newBatch(uuid.New().String(), docs)
	log := o.logger.WithBatch(b.ID)
	if len(docs) == 0 {
		b.finish()
		return b, nil
	}

	queue := make(chan domain.Document, len(docs))
	for _, d := range docs {
		queue <- d
	}
	close(queue)

	workers := min(len(docs), opts.MaxWorkers)
	procs := o.acquire(workers)

	// Running documents are detached from the caller's cancellation.
	runCtx := observability.ContextWithTraceID(context.WithoutCancel(ctx), b.ID)

	log.Info().
		Int("documents", len(docs)).
		Int("workers", workers).
		Bool("anonymize", opts.Anonymize).
		Bool("remove_pii", opts.RemovePII).
		Bool("ocr", opts.OCRActive()).
		Bool("throughput_mode", opts.ThroughputMode).
		Msg("batch started")

	stop := context.AfterFunc(ctx, b.RequestCancel)

	var wg sync.WaitGroup
	for _, proc := range procs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for doc := range queue {
				var r domain.ProcessingResult
				if b.dispatch(doc) {
					r = proc.Process(runCtx, doc, opts)
				} else {
					r = domain.CanceledResult(doc)
				}
				o.emit(runCtx, b, r)
			}
		}()
	}

	go func() {
		wg.Wait()
		stop()
		var cached, evictions int
		for _, p := range procs {
			cs := p.CacheStats()
			cached += cs.Len
			evictions += cs.Evictions
		}
		o.release(procs)
		b.finish()
		s := b.Summary()
		log.Info().
			Int("completed", s.Completed).
			Int("failed", s.Failed).
			Int("canceled", s.Canceled).
			Int("from_cache", s.FromCache).
			Int("worker_cache_entries", cached).
			Int("worker_cache_evictions", evictions).
			Dur("duration", s.Duration).
			Msg("batch finished")
	}()

	return b, nil
}

func (o *Orchestrator) emit(ctx context.Context, b *Batch, r domain.ProcessingResult) {
	b.record(r)
	if o.sink != nil {
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := o.sink.Publish(sctx, r); err != nil {
			o.logger.Warn().Str("document_id", r.DocumentID).Err(err).Msg("publish result")
		}
		cancel()
	}
	b.results <- r
}

// acquire takes n Processors, most recently used first.
func (o *Orchestrator) acquire(n int) []*pipeline.Processor {
	o.mu.Lock()
	defer o.mu.Unlock()
	procs := make([]*pipeline.Processor, 0, n)
	for len(procs) < n && len(o.idle) > 0 {
		last := len(o.idle) - 1
		procs = append(procs, o.idle[last])
		o.idle = o.idle[:last]
	}
	for len(procs) < n {
		procs = append(procs, o.newProcessor())
	}
	return procs
}

func (o *Orchestrator) release(procs []*pipeline.Processor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(procs) - 1; i >= 0; i-- {
		o.idle = append(o.idle, procs[i])
	}
}

// Idle returns the number of pooled Processors.
func (o *Orchestrator) Idle() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.idle)
}
