package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nowusman/DocGuard/internal/domain"
)

// pageHTML lays out a 600x800pt page with a header, one body line and a
// footer.
func pageHTML(n int) string {
	return fmt.Sprintf(`<div id="page%d" style="width:600.0pt;height:800.0pt">
<p style="top:20.0pt;left:50.0pt;line-height:12.0pt"><span>ACME Corp Confidential</span></p>
<p style="top:400.0pt;left:50.0pt;line-height:12.0pt"><span>Body of page %d &amp; more</span></p>
<p style="top:770.0pt;left:280.0pt;line-height:12.0pt"><span>Page %d</span></p>
</div>`, n, n+1, n+1)
}

type fakeHandle struct {
	pages    []*pageLayout
	closed   *int
	rendered *int
}

func (h *fakeHandle) PageCount() int { return len(h.pages) }
func (h *fakeHandle) PageBounds(p int) (domain.Rect, error) {
	return h.pages[p].bounds, nil
}
func (h *fakeHandle) TextForRegion(p int, clip domain.Rect) (string, error) {
	return h.pages[p].textIn(clip), nil
}
func (h *fakeHandle) TablesOnPage(p int) ([]domain.TableRegion, error) {
	return layoutTables(p, h.pages[p].lines), nil
}
func (h *fakeHandle) ImagesOnPage(p int) ([]domain.ImageRegion, error) {
	return h.pages[p].images, nil
}
func (h *fakeHandle) Close() error {
	*h.closed++
	return nil
}

type renderingHandle struct{ *fakeHandle }

func (h renderingHandle) RenderPage(p int, dpi float64) (domain.ImageRegion, error) {
	*h.rendered++
	return domain.ImageRegion{PageIndex: p, PixelData: []byte("png"), Width: int(dpi), Format: "png"}, nil
}

func htmlBackend(opened, closed *int, pages ...string) Backend {
	return BackendFunc(func([]byte) (Handle, error) {
		*opened++
		h := &fakeHandle{closed: closed}
		for i, p := range pages {
			h.pages = append(h.pages, parseLayout(i, p))
		}
		return h, nil
	})
}

func TestExtractor_Extract_ClipsHeadersAndFooters(t *testing.T) {
	var opened, closed int
	e := NewWithBackends(map[domain.Format]Backend{
		domain.FormatPDF: htmlBackend(&opened, &closed, pageHTML(0), pageHTML(1), pageHTML(2)),
	}, nil)

	res, err := e.Extract(context.Background(), []byte("%PDF"), domain.FormatPDF, Options{HeaderFooterRatio: 0.1})
	require.NoError(t, err)

	assert.Equal(t, 3, res.PageCount)
	assert.Equal(t, []string{"Body of page 1 & more", "Body of page 2 & more", "Body of page 3 & more"}, res.Chunks)
	assert.Equal(t, "Body of page 1 & more\n\nBody of page 2 & more\n\nBody of page 3 & more", res.Text)
	assert.NotContains(t, res.Text, "ACME")
	assert.NotContains(t, res.Text, "Page 2")
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
}

func TestExtractor_Extract_ZeroRatioKeepsEverything(t *testing.T) {
	var opened, closed int
	e := NewWithBackends(map[domain.Format]Backend{
		domain.FormatPDF: htmlBackend(&opened, &closed, pageHTML(0)),
	}, nil)

	res, err := e.Extract(context.Background(), nil, domain.FormatPDF, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ACME Corp Confidential\nBody of page 1 & more\nPage 1", res.Text)
}

func TestExtractor_Extract_UnsupportedFormat(t *testing.T) {
	_, err := New(nil).Extract(context.Background(), []byte("x"), domain.FormatUnknown, Options{})
	require.Error(t, err)
	assert.Equal(t, domain.ErrorKindUnsupportedFormat, domain.KindOf(err))
}

func TestExtractor_Extract_CorruptWordProc(t *testing.T) {
	e := New(nil)
	for name, data := range map[string][]byte{
		"truncated zip": []byte("PK\x03\x04not really a zip"),
		"random bytes":  []byte("this is not a document"),
		"zip no body":   zipOf(t, map[string][]byte{"hello.txt": []byte("hi")}),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := e.Extract(context.Background(), data, domain.FormatWordProc, Options{})
			require.Error(t, err)
			assert.Equal(t, domain.ErrorKindCorruptDocument, domain.KindOf(err))
		})
	}
}

func TestExtractor_Extract_ClosesOnError(t *testing.T) {
	var closed int
	e := NewWithBackends(map[domain.Format]Backend{
		domain.FormatPDF: BackendFunc(func([]byte) (Handle, error) {
			return &fakeHandle{pages: []*pageLayout{{}}, closed: &closed}, nil
		}),
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Extract(ctx, nil, domain.FormatPDF, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, closed)
}

func TestExtractor_Extract_RendersScannedPages(t *testing.T) {
	var closed, rendered int
	scanned := `<div id="page0" style="width:600pt;height:800pt"></div>`
	e := NewWithBackends(map[domain.Format]Backend{
		domain.FormatPDF: BackendFunc(func([]byte) (Handle, error) {
			h := &fakeHandle{pages: []*pageLayout{parseLayout(0, scanned), parseLayout(1, pageHTML(1))}, closed: &closed, rendered: &rendered}
			return renderingHandle{h}, nil
		}),
	}, nil)

	res, err := e.Extract(context.Background(), nil, domain.FormatPDF, Options{RenderScale: 2, RenderScannedPages: true})
	require.NoError(t, err)
	require.Len(t, res.Images, 1)
	assert.Equal(t, 0, res.Images[0].PageIndex)
	assert.Equal(t, 144, res.Images[0].Width)
	assert.Equal(t, 1, rendered)

	rendered = 0
	res, err = e.Extract(context.Background(), nil, domain.FormatPDF, Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Images)
	assert.Zero(t, rendered)
}

func TestExtractor_Extract_SkipTables(t *testing.T) {
	var opened, closed int
	grid := `<div id="page0" style="width:600pt;height:800pt">
<p style="top:100pt;left:50pt;line-height:10pt">Name</p>
<p style="top:100pt;left:200pt;line-height:10pt">Phone</p>
<p style="top:120pt;left:50pt;line-height:10pt">Ann</p>
<p style="top:121pt;left:202pt;line-height:10pt">555-0100</p>
</div>`
	e := NewWithBackends(map[domain.Format]Backend{
		domain.FormatPDF: htmlBackend(&opened, &closed, grid),
	}, nil)

	res, err := e.Extract(context.Background(), nil, domain.FormatPDF, Options{})
	require.NoError(t, err)
	require.Len(t, res.Tables, 1)
	assert.Equal(t, [][]string{{"Name", "Phone"}, {"Ann", "555-0100"}}, res.Tables[0].Cells)

	res, err = e.Extract(context.Background(), nil, domain.FormatPDF, Options{SkipTables: true})
	require.NoError(t, err)
	assert.Empty(t, res.Tables)
}

func TestParseLayout_Images(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 40, 20))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	markup := fmt.Sprintf(`<div id="page0" style="width:612pt;height:792pt">
<img style="position:absolute;top:100pt;left:72pt;width:200pt;height:100pt" src="data:image/png;base64,%s">
<img src="https://example.com/remote.png">
</div>`, base64.StdEncoding.EncodeToString(buf.Bytes()))

	l := parseLayout(3, markup)
	assert.Equal(t, domain.Rect{X1: 612, Y1: 792}, l.bounds)
	require.Len(t, l.images, 1)
	got := l.images[0]
	assert.Equal(t, 3, got.PageIndex)
	assert.Equal(t, domain.Rect{X0: 72, Y0: 100, X1: 272, Y1: 200}, got.BoundingBox)
	assert.Equal(t, 40, got.Width)
	assert.Equal(t, 20, got.Height)
	assert.Equal(t, "png", got.Format)
}

func TestTextBackend_Open(t *testing.T) {
	t.Run("utf8", func(t *testing.T) {
		h, err := TextBackend{}.Open([]byte("Grüße\r\nzweite Zeile"))
		require.NoError(t, err)
		text, _ := h.TextForRegion(0, domain.Rect{})
		assert.Equal(t, "Grüße\nzweite Zeile", text)
	})
	t.Run("utf16 bom", func(t *testing.T) {
		h, err := TextBackend{}.Open([]byte{0xFF, 0xFE, 'h', 0, 'i', 0})
		require.NoError(t, err)
		text, _ := h.TextForRegion(0, domain.Rect{})
		assert.Equal(t, "hi", text)
	})
	t.Run("latin1 fallback", func(t *testing.T) {
		h, err := TextBackend{}.Open([]byte{'c', 'a', 'f', 0xE9})
		require.NoError(t, err)
		text, _ := h.TextForRegion(0, domain.Rect{})
		assert.Equal(t, "café", text)
	})
	t.Run("binary", func(t *testing.T) {
		_, err := TextBackend{}.Open([]byte{'a', 0, 'b'})
		assert.Equal(t, domain.ErrorKindCorruptDocument, domain.KindOf(err))
	})
	t.Run("delimited table", func(t *testing.T) {
		h, err := TextBackend{}.Open([]byte("intro\n| a | b |\n|---|---|\n| 1 | 2 |\noutro"))
		require.NoError(t, err)
		tables, _ := h.TablesOnPage(0)
		require.Len(t, tables, 1)
		assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, tables[0].Cells)
	})
}

const docxDocument = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"
  xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing"
  xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"
  xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
<w:body>
  <w:p><w:r><w:t>Dear Ann,</w:t></w:r></w:p>
  <w:p><w:r><w:t xml:space="preserve">call </w:t></w:r><w:r><w:t>555-0100</w:t><w:tab/><w:t>today</w:t></w:r></w:p>
  <w:tbl>
    <w:tr><w:tc><w:p><w:r><w:t>Name</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Email</w:t></w:r></w:p></w:tc></w:tr>
    <w:tr><w:tc><w:p><w:r><w:t>Ann</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>ann@example.com</w:t></w:r></w:p></w:tc></w:tr>
  </w:tbl>
  <w:p><w:r><w:drawing><wp:inline><wp:extent cx="1270000" cy="635000"/>
    <a:graphic><a:graphicData><a:blip r:embed="rId7"/></a:graphicData></a:graphic>
  </wp:inline></w:drawing></w:r></w:p>
  <w:p><w:r><w:t>Regards</w:t></w:r></w:p>
</w:body>
</w:document>`

const docxRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId7" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="media/image1.png"/>
  <Relationship Id="rId9" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/hyperlink" Target="https://example.com" TargetMode="External"/>
</Relationships>`

func TestWordProcBackend_Docx(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 30, 15))
	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, img))

	data := zipOf(t, map[string][]byte{
		"word/document.xml":            []byte(docxDocument),
		"word/_rels/document.xml.rels": []byte(docxRelsXML),
		"word/media/image1.png":        pngBuf.Bytes(),
		"word/header1.xml":             []byte(`<w:hdr><w:p><w:r><w:t>ACME</w:t></w:r></w:p></w:hdr>`),
	})

	res, err := New(nil).Extract(context.Background(), data, domain.FormatWordProc, Options{HeaderFooterRatio: 0.1})
	require.NoError(t, err)

	assert.Equal(t, "Dear Ann,\ncall 555-0100\ttoday\n\nRegards", res.Text)
	assert.NotContains(t, res.Text, "ann@example.com", "table text stays in tables")
	assert.NotContains(t, res.Text, "ACME")

	require.Len(t, res.Tables, 1)
	assert.Equal(t, [][]string{{"Name", "Email"}, {"Ann", "ann@example.com"}}, res.Tables[0].Cells)

	require.Len(t, res.Images, 1)
	assert.Equal(t, 30, res.Images[0].Width)
	assert.Equal(t, 15, res.Images[0].Height)
	assert.Equal(t, domain.Rect{X1: 100, Y1: 50}, res.Images[0].BoundingBox)
}

func TestExtractor_Extract_ThroughputKeepsDocxTables(t *testing.T) {
	data := zipOf(t, map[string][]byte{"word/document.xml": []byte(docxDocument)})
	opts := domain.DefaultOptions()
	opts.ThroughputMode = true

	res, err := New(nil).Extract(context.Background(), data, domain.FormatWordProc, OptionsFrom(opts))
	require.NoError(t, err)
	require.Len(t, res.Tables, 1)
	assert.Equal(t, [][]string{{"Name", "Email"}, {"Ann", "ann@example.com"}}, res.Tables[0].Cells)

	// detected tables are still skipped
	res, err = New(nil).Extract(context.Background(), []byte("| a | b |\n| 1 | 2 |"), domain.FormatText, OptionsFrom(opts))
	require.NoError(t, err)
	assert.Empty(t, res.Tables)
}

func TestWordProcBackend_Docx_ParagraphStructure(t *testing.T) {
	const doc = `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
  <w:p><w:pPr><w:tabs><w:tab w:val="left" w:pos="720"/><w:tab w:val="left" w:pos="1440"/></w:tabs></w:pPr><w:r><w:t>Hello</w:t><w:tab/><w:t>there</w:t></w:r></w:p>
  <w:p><w:r><w:t xml:space="preserve">Before </w:t></w:r><w:r><w:pict><w:txbxContent><w:p><w:r><w:t>Boxed</w:t></w:r></w:p></w:txbxContent></w:pict></w:r><w:r><w:t>after</w:t></w:r></w:p>
</w:body></w:document>`
	data := zipOf(t, map[string][]byte{"word/document.xml": []byte(doc)})

	res, err := New(nil).Extract(context.Background(), data, domain.FormatWordProc, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Hello\tthere\nBoxed\nBefore after", res.Text)
}

func TestWordProcBackend_Docx_OversizedMedia(t *testing.T) {
	prev := maxPartBytes
	maxPartBytes = 2 << 10
	t.Cleanup(func() { maxPartBytes = prev })

	data := zipOf(t, map[string][]byte{
		"word/document.xml":            []byte(docxDocument),
		"word/_rels/document.xml.rels": []byte(docxRelsXML),
		"word/media/image1.png":        bytes.Repeat([]byte{0}, 8<<10),
	})

	_, err := New(nil).Extract(context.Background(), data, domain.FormatWordProc, Options{})
	require.Error(t, err)
	assert.Equal(t, domain.ErrorKindCorruptDocument, domain.KindOf(err))
	assert.ErrorContains(t, err, "image1.png")
}

func TestLayoutTables_RequiresAlignedColumns(t *testing.T) {
	lines := []positionedLine{
		{Box: domain.Rect{X0: 50, Y0: 100, Y1: 110}, Text: "a"},
		{Box: domain.Rect{X0: 200, Y0: 100, Y1: 110}, Text: "b"},
		{Box: domain.Rect{X0: 50, Y0: 120, Y1: 130}, Text: "c"},
		{Box: domain.Rect{X0: 320, Y0: 120, Y1: 130}, Text: "d"},
	}
	assert.Empty(t, layoutTables(0, lines))
}

func zipOf(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
