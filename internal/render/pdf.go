package render

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"
	"unicode/utf8"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	maxTableRows  = 10
	maxTableCols  = 6
	maxCellRunes  = 50
	maxImageWidth = 400.0

	lineHeight = 14.0
)

// renderPDF regenerates a letter-size document from the redacted content:
// a title block, the text one paragraph per line, the tables and the images.
// The result is passed through pdfcpu's optimizer; if that fails the
// unoptimized bytes are returned.
func (r *Renderer) renderPDF(in Input) ([]byte, error) {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(72, 72, 72)
	pdf.SetAutoPageBreak(true, 18)
	pdf.SetTitle(in.Filename, true)
	pdf.SetCreator("DocGuard", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	width := pageW - left - right

	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(width, 20, tr("Processed Document: "+in.Filename), "", "L", false)
	pdf.Ln(6)
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(width, lineHeight, "Processed on: "+r.now().Format("2006-01-02 15:04:05"), "", "L", false)
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 10)
	for _, para := range strings.Split(in.Text, "\n") {
		if strings.TrimSpace(para) == "" {
			continue
		}
		pdf.MultiCell(width, lineHeight, tr(para), "", "L", false)
		pdf.Ln(4)
	}

	if len(in.Tables) > 0 {
		heading(pdf, "Extracted Tables:")
		for i, t := range in.Tables {
			pdf.SetFont("Helvetica", "B", 11)
			pdf.MultiCell(width, lineHeight, fmt.Sprintf("Table %d:", i+1), "", "L", false)
			writeTable(pdf, tr, width, t.Cells)
			pdf.Ln(12)
		}
	}

	images := visible(in.Images)
	if len(images) > 0 {
		heading(pdf, "Extracted Images:")
		for n, img := range images {
			if err := r.writeImage(pdf, n, img); err != nil {
				r.logger.Warn().Int("image", img.Info.Index).Err(err).Msg("skip image in pdf")
			}
		}
	}

	if err := pdf.Error(); err != nil {
		return nil, err
	}
	var raw bytes.Buffer
	if err := pdf.Output(&raw); err != nil {
		return nil, err
	}

	var optimized bytes.Buffer
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.Optimize(bytes.NewReader(raw.Bytes()), &optimized, cfg); err != nil {
		r.logger.Warn().Err(err).Msg("pdf optimize failed, keeping unoptimized output")
		return raw.Bytes(), nil
	}
	return optimized.Bytes(), nil
}

func heading(pdf *fpdf.Fpdf, title string) {
	pdf.Ln(12)
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 18, title, "", 1, "L", false, 0, "")
	pdf.Ln(6)
}

// writeTable draws at most 10 rows by 6 columns; longer cells are cut at 50
// runes. The first row is styled as a header.
func writeTable(pdf *fpdf.Fpdf, tr func(string) string, width float64, cells [][]string) {
	rows := min(len(cells), maxTableRows)
	if rows == 0 || len(cells[0]) == 0 {
		return
	}
	cols := min(len(cells[0]), maxTableCols)
	colW := width / float64(cols)

	for i := 0; i < rows; i++ {
		if i == 0 {
			pdf.SetFont("Helvetica", "B", 10)
			pdf.SetFillColor(128, 128, 128)
			pdf.SetTextColor(245, 245, 245)
		} else {
			pdf.SetFont("Helvetica", "", 8)
			pdf.SetFillColor(245, 245, 220)
			pdf.SetTextColor(0, 0, 0)
		}
		for j := 0; j < cols; j++ {
			var text string
			if j < len(cells[i]) {
				text = truncateRunes(cells[i][j], maxCellRunes)
			}
			pdf.CellFormat(colW, 16, tr(text), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.SetTextColor(0, 0, 0)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// writeImage re-encodes the image as PNG and places it no wider than 400pt.
func (r *Renderer) writeImage(pdf *fpdf.Fpdf, n int, img Image) error {
	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		return err
	}

	name := fmt.Sprintf("img%d", img.Info.Index)
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	info := pdf.RegisterImageOptionsReader(name, opts, &buf)
	if err := pdf.Error(); err != nil {
		pdf.ClearError()
		return err
	}

	w, h := info.Width(), info.Height()
	if w > maxImageWidth {
		h = h * maxImageWidth / w
		w = maxImageWidth
	}

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, lineHeight, fmt.Sprintf("Image %d: page %d", n+1, img.Info.PageIndex+1), "", 1, "L", false, 0, "")
	pdf.ImageOptions(name, pdf.GetX(), pdf.GetY(), w, h, true, opts, 0, "")
	pdf.Ln(12)
	return nil
}
