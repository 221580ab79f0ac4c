package extract

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"

	"github.com/nowusman/DocGuard/internal/domain"
)

// PDFBackend reads PDFs through MuPDF. Each page is laid out once and the
// layout serves text, tables and images for that page.
type PDFBackend struct{}

func (PDFBackend) Open(data []byte) (Handle, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, domain.CorruptDocumentError("open pdf", err)
	}
	return &pdfHandle{doc: doc, layouts: map[int]*pageLayout{}}, nil
}

type pdfHandle struct {
	doc     *fitz.Document
	layouts map[int]*pageLayout
}

func (h *pdfHandle) PageCount() int { return h.doc.NumPage() }

func (h *pdfHandle) layout(page int) (*pageLayout, error) {
	if l, ok := h.layouts[page]; ok {
		return l, nil
	}
	markup, err := h.doc.HTML(page, false)
	if err != nil {
		return nil, fmt.Errorf("lay out page %d: %w", page+1, err)
	}
	l := parseLayout(page, markup)
	if l.bounds.Empty() {
		b, err := h.doc.Bound(page)
		if err != nil {
			return nil, fmt.Errorf("bound page %d: %w", page+1, err)
		}
		l.bounds = domain.Rect{
			X0: float64(b.Min.X),
			Y0: float64(b.Min.Y),
			X1: float64(b.Max.X),
			Y1: float64(b.Max.Y),
		}
	}
	h.layouts[page] = l
	return l, nil
}

func (h *pdfHandle) PageBounds(page int) (domain.Rect, error) {
	l, err := h.layout(page)
	if err != nil {
		return domain.Rect{}, err
	}
	return l.bounds, nil
}

func (h *pdfHandle) TextForRegion(page int, clip domain.Rect) (string, error) {
	l, err := h.layout(page)
	if err != nil {
		return "", err
	}
	return l.textIn(clip), nil
}

func (h *pdfHandle) TablesOnPage(page int) ([]domain.TableRegion, error) {
	l, err := h.layout(page)
	if err != nil {
		return nil, err
	}
	return layoutTables(page, l.lines), nil
}

func (h *pdfHandle) ImagesOnPage(page int) ([]domain.ImageRegion, error) {
	l, err := h.layout(page)
	if err != nil {
		return nil, err
	}
	return l.images, nil
}

// RenderPage rasterizes a page that has no text layer so OCR can read it.
func (h *pdfHandle) RenderPage(page int, dpi float64) (domain.ImageRegion, error) {
	img, err := h.doc.ImageDPI(page, dpi)
	if err != nil {
		return domain.ImageRegion{}, fmt.Errorf("render page %d: %w", page+1, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return domain.ImageRegion{}, fmt.Errorf("encode page %d: %w", page+1, err)
	}
	bounds, _ := h.PageBounds(page)
	return domain.ImageRegion{
		PageIndex:   page,
		BoundingBox: bounds,
		PixelData:   buf.Bytes(),
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		Format:      "png",
	}, nil
}

func (h *pdfHandle) Close() error {
	h.layouts = nil
	return h.doc.Close()
}
