package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nowusman/DocGuard/internal/domain"
	"github.com/nowusman/DocGuard/internal/observability"
)

// Options controls one extraction.
type Options struct {
	// HeaderFooterRatio is the fraction of page height clipped from both the
	// top and the bottom of each page's text.
	HeaderFooterRatio float64
	// RenderScale sets the DPI (72 * scale) for rasterized scanned pages.
	RenderScale float64
	// SkipTables turns off table detection. Tables declared in the document
	// markup are still returned.
	SkipTables         bool
	RenderScannedPages bool
}

// OptionsFrom derives extraction options from processing options.
func OptionsFrom(o domain.Options) Options {
	return Options{
		HeaderFooterRatio:  o.HeaderFooterRatio,
		RenderScale:        o.RenderScale,
		SkipTables:         o.ThroughputMode,
		RenderScannedPages: o.OCRActive(),
	}
}

// Extractor dispatches documents to their format backend. An Extractor holds
// no per-document state and belongs to one worker.
type Extractor struct {
	backends map[domain.Format]Backend
	logger   *observability.Logger
}

// New creates an Extractor with the built-in text, word-processor and PDF
// backends.
func New(logger *observability.Logger) *Extractor {
	return NewWithBackends(map[domain.Format]Backend{
		domain.FormatText:     TextBackend{},
		domain.FormatWordProc: WordProcBackend{},
		domain.FormatPDF:      PDFBackend{},
	}, logger)
}

// NewWithBackends creates an Extractor with the given backends.
func NewWithBackends(backends map[domain.Format]Backend, logger *observability.Logger) *Extractor {
	return &Extractor{
		backends: backends,
		logger:   observability.OrNop(logger).WithOperation("extract"),
	}
}

// Extract opens data once and collects text, tables and images page by
// page. The handle is closed before Extract returns.
func (e *Extractor) Extract(ctx context.Context, data []byte, format domain.Format, opts Options) (result *domain.ExtractionResult, err error) {
	backend, ok := e.backends[format]
	if !ok || !format.Valid() {
		return nil, domain.UnsupportedFormatError(fmt.Sprintf("format %q is not supported", format), nil)
	}

	h, err := backend.Open(data)
	if err != nil {
		return nil, asCorrupt("open document", err)
	}
	defer func() {
		if cerr := h.Close(); cerr != nil {
			e.logger.Warn().Err(cerr).Msg("close document handle")
		}
	}()

	pages := h.PageCount()
	result = &domain.ExtractionResult{PageCount: pages}
	chunks := make([]string, 0, pages)

	for page := 0; page < pages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bounds, err := h.PageBounds(page)
		if err != nil {
			return nil, asCorrupt(fmt.Sprintf("page %d bounds", page+1), err)
		}

		text, err := h.TextForRegion(page, clipRect(bounds, opts.HeaderFooterRatio))
		if err != nil {
			return nil, asCorrupt(fmt.Sprintf("page %d text", page+1), err)
		}
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, text)
		}

		if !opts.SkipTables || structuralTables(h) {
			tables, err := h.TablesOnPage(page)
			if err != nil {
				return nil, asCorrupt(fmt.Sprintf("page %d tables", page+1), err)
			}
			result.Tables = append(result.Tables, tables...)
		}

		images, err := h.ImagesOnPage(page)
		if err != nil {
			return nil, asCorrupt(fmt.Sprintf("page %d images", page+1), err)
		}

		if len(images) == 0 && strings.TrimSpace(text) == "" && opts.RenderScannedPages {
			if r, ok := h.(PageRenderer); ok {
				scale := opts.RenderScale
				if scale <= 0 {
					scale = domain.DefaultRenderScale
				}
				img, err := r.RenderPage(page, 72*scale)
				if err != nil {
					e.logger.Warn().Int("page", page+1).Err(err).Msg("render scanned page")
				} else {
					images = append(images, img)
				}
			}
		}
		result.Images = append(result.Images, images...)
	}

	result.Chunks = chunks
	result.Text = strings.Join(chunks, "\n\n")

	e.logger.Debug().
		Str("format", string(format)).
		Int("pages", pages).
		Int("chunks", len(chunks)).
		Int("tables", len(result.Tables)).
		Int("images", len(result.Images)).
		Msg("extracted")
	return result, nil
}

func structuralTables(h Handle) bool {
	st, ok := h.(StructuralTabler)
	return ok && st.StructuralTables()
}

// clipRect shrinks bounds by ratio of its height at the top and bottom.
func clipRect(bounds domain.Rect, ratio float64) domain.Rect {
	if bounds.Empty() || ratio <= 0 {
		return bounds
	}
	margin := bounds.Height() * ratio
	return domain.Rect{
		X0: bounds.X0,
		Y0: bounds.Y0 + margin,
		X1: bounds.X1,
		Y1: bounds.Y1 - margin,
	}
}

// asCorrupt keeps domain errors as they are and classifies everything else
// as a corrupt document.
func asCorrupt(msg string, err error) error {
	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.CorruptDocumentError(msg, err)
}
