// Package pipeline runs one document through every processing stage.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/nowusman/DocGuard/internal/cache"
	"github.com/nowusman/DocGuard/internal/domain"
	"github.com/nowusman/DocGuard/internal/extract"
	"github.com/nowusman/DocGuard/internal/observability"
	"github.com/nowusman/DocGuard/internal/ocr"
	"github.com/nowusman/DocGuard/internal/pii"
	"github.com/nowusman/DocGuard/internal/render"
)

// Components are the per-worker stage implementations a Processor drives.
// Nil fields get defaults with no OCR or named-entity engine.
type Components struct {
	Extractor *extract.Extractor
	OCR       *ocr.Scheduler
	Redactor  *pii.Redactor
	Renderer  *render.Renderer
}

// Processor owns one worker's extractor, OCR scheduler, redactor, renderer
// and result cache. It processes one document at a time.
type Processor struct {
	extractor *extract.Extractor
	ocr       *ocr.Scheduler
	redactor  *pii.Redactor
	renderer  *render.Renderer
	cache     *cache.ResultCache
	logger    *observability.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(c Components, logger *observability.Logger) *Processor {
	logger = observability.OrNop(logger)
	if c.Extractor == nil {
		c.Extractor = extract.New(logger)
	}
	if c.OCR == nil {
		c.OCR = ocr.NewScheduler(nil, ocr.DefaultConfig(), logger)
	}
	if c.Redactor == nil {
		c.Redactor = pii.NewRedactor(nil, nil, logger)
	}
	if c.Renderer == nil {
		c.Renderer = render.New(logger)
	}
	return &Processor{
		extractor: c.Extractor,
		ocr:       c.OCR,
		redactor:  c.Redactor,
		renderer:  c.Renderer,
		cache:     cache.New(domain.DefaultMaxCacheItems),
		logger:    logger.WithOperation("process"),
	}
}

// CacheStats reports the worker cache counters.
func (p *Processor) CacheStats() cache.Stats { return p.cache.Stats() }

// Process runs doc through cache lookup, extraction, OCR, anonymization,
// PII redaction and rendering. It never returns an error: failures become
// a Failed result carrying the error kind, and panics are recovered the
// same way.
func (p *Processor) Process(ctx context.Context, doc domain.Document, opts domain.Options) (result domain.ProcessingResult) {
	start := time.Now()
	log := p.logger.WithContext(ctx).WithDocument(doc.ID, doc.Filename)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("panic", fmt.Sprint(rec)).
				Str("stack", string(debug.Stack())).
				Msg("document processing panicked")
			result = domain.FailedResult(doc, domain.InternalError(fmt.Sprintf("panic: %v", rec), nil))
			result.Timing.Total = time.Since(start)
		}
	}()

	p.ensureCapacity(opts.MaxCacheItems)
	var timing domain.Timing

	fail := func(stage string, err error) domain.ProcessingResult {
		r := domain.FailedResult(doc, err)
		timing.Total = time.Since(start)
		r.Timing = timing
		log.Warn().Str("stage", stage).Str("kind", string(r.ErrorKind)).Err(err).Msg("document failed")
		return r
	}

	if !doc.Format.Valid() {
		return fail("validate", domain.UnsupportedFormatError(fmt.Sprintf("unsupported file type: %s", doc.Filename), nil))
	}

	// Step 1: Cache lookup
	t := time.Now()
	key, err := cache.Key(doc.Bytes, doc.Format, opts, p.redactor.Patterns().Fingerprint())
	if err != nil {
		log.Debug().Err(err).Msg("cache key unavailable, treating as miss")
		key = ""
	}
	if cached, ok := p.cache.Get(key); ok {
		r := cached.ForDocument(doc)
		r.FromCache = true
		r.Timing = domain.Timing{Cache: time.Since(t), Total: time.Since(start)}
		log.Debug().Dur("total", r.Timing.Total).Msg("cache hit")
		return r
	}
	timing.Cache = time.Since(t)

	// Step 2: Structural extraction
	t = time.Now()
	ext, err := p.extractor.Extract(ctx, doc.Bytes, doc.Format, extract.OptionsFrom(opts))
	timing.Extract = time.Since(t)
	if err != nil {
		return fail("extract", err)
	}

	// Step 3: OCR
	t = time.Now()
	ocrResults := p.ocr.Run(ctx, ext.Images, opts)
	timing.OCR = time.Since(t)

	// Body chunks, table cells and OCR text are rewritten together so the
	// named-entity engine sees one batch per document.
	texts := newTextSet(ext, ocrResults)

	anon := pii.NewAnonymizer(opts)
	dropped := make([]bool, len(ext.Images))
	if opts.Anonymize {
		for i, r := range ocrResults {
			dropped[i] = !r.WasSkipped && anon.IsTerm(r.RecognizedText)
		}
	}

	// Step 4: Anonymize
	t = time.Now()
	if opts.Anonymize && !anon.Empty() {
		texts.values = anon.ApplyAll(texts.values)
	}
	timing.Anonymize = time.Since(t)

	// Step 5: Redact PII
	var spans []domain.PIISpan
	t = time.Now()
	if opts.RemovePII {
		redacted, found, err := p.redactor.Redact(ctx, texts.values, opts)
		timing.Redact = time.Since(t)
		if err != nil {
			return fail("redact", err)
		}
		texts.values = redacted
		spans = bodySpans(found, texts.chunks)
	}

	chunks, tables, ocrText := texts.split(ext.Tables)
	images := imageInfos(ext.Images, ocrResults, ocrText, dropped)

	result = domain.ProcessingResult{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Format:     doc.Format,
		FileSize:   len(doc.Bytes),
		Status:     domain.StatusCompleted,
		Text:       strings.Join(chunks, "\n\n"),
		Tables:     tables,
		Images:     images,
		Spans:      spans,
	}

	// Step 6: Render output
	t = time.Now()
	out, err := p.renderer.Render(render.Input{
		Filename: doc.Filename,
		Original: doc.Bytes,
		Text:     result.Text,
		Tables:   tables,
		Images:   renderImages(ext.Images, images),
		Options:  opts,
	})
	timing.Render = time.Since(t)
	if err != nil {
		return fail("render", err)
	}
	result.Output = out

	timing.Total = time.Since(start)
	result.Timing = timing

	// Step 7: Store
	if key != "" {
		p.cache.Put(key, result)
	}

	log.Debug().
		Int("pages", ext.PageCount).
		Int("tables", len(tables)).
		Int("images", len(images)).
		Int("spans", len(spans)).
		Dur("extract", timing.Extract).
		Dur("ocr", timing.OCR).
		Dur("redact", timing.Redact).
		Dur("render", timing.Render).
		Dur("total", timing.Total).
		Msg("document completed")
	return result
}

// ensureCapacity replaces the cache when a batch asks for a different size.
func (p *Processor) ensureCapacity(capacity int) {
	if p.cache.Stats().Capacity != max(capacity, 0) {
		p.cache = cache.New(capacity)
	}
}

// bodySpans keeps the spans that fall in body chunks; table and OCR spans
// are applied but not reported.
func bodySpans(spans []domain.PIISpan, chunks int) []domain.PIISpan {
	var out []domain.PIISpan
	for _, s := range spans {
		if s.Chunk < chunks {
			out = append(out, s)
		}
	}
	return out
}

func imageInfos(images []domain.ImageRegion, results []domain.OCRResult, text []string, dropped []bool) []domain.ImageInfo {
	infos := make([]domain.ImageInfo, len(images))
	for i, img := range images {
		infos[i] = domain.ImageInfo{
			Index:       i,
			PageIndex:   img.PageIndex,
			BoundingBox: img.BoundingBox,
			Width:       img.Width,
			Height:      img.Height,
			Format:      img.Format,
			Dropped:     dropped[i],
		}
		if i < len(results) {
			infos[i].OCRApplied = !results[i].WasSkipped
			infos[i].SkipReason = results[i].SkipReason
			infos[i].ExtractedText = text[i]
		}
	}
	return infos
}

func renderImages(images []domain.ImageRegion, infos []domain.ImageInfo) []render.Image {
	out := make([]render.Image, len(images))
	for i := range images {
		out[i] = render.Image{Info: infos[i], Data: images[i].PixelData}
	}
	return out
}
