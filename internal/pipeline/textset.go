package pipeline

import "github.com/nowusman/DocGuard/internal/domain"

// textSet flattens a document's rewritable text into one slice: body chunks
// first, then table cells row by row, then one entry per image's OCR text.
type textSet struct {
	values []string
	chunks int
}

func newTextSet(ext *domain.ExtractionResult, ocr []domain.OCRResult) *textSet {
	ts := &textSet{chunks: len(ext.Chunks)}
	ts.values = append(ts.values, ext.Chunks...)
	for _, t := range ext.Tables {
		for _, row := range t.Cells {
			ts.values = append(ts.values, row...)
		}
	}
	for _, r := range ocr {
		ts.values = append(ts.values, r.RecognizedText)
	}
	return ts
}

// split reverses the flattening, rebuilding tables with the shapes of the
// originals.
func (ts *textSet) split(tables []domain.TableRegion) (chunks []string, out []domain.TableRegion, ocrText []string) {
	chunks = ts.values[:ts.chunks]
	i := ts.chunks
	for _, t := range tables {
		cells := make([][]string, len(t.Cells))
		for r, row := range t.Cells {
			cells[r] = append([]string(nil), ts.values[i:i+len(row)]...)
			i += len(row)
		}
		out = append(out, domain.TableRegion{
			PageIndex:   t.PageIndex,
			BoundingBox: t.BoundingBox,
			Cells:       cells,
		})
	}
	ocrText = ts.values[i:]
	return chunks, out, ocrText
}
