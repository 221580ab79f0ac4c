package extract

import (
	"bytes"
	"encoding/base64"
	"image"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/nowusman/DocGuard/internal/domain"
)

// pageLayout is the positioned content of one rendered page.
type pageLayout struct {
	bounds domain.Rect
	lines  []positionedLine
	images []domain.ImageRegion
}

// parseLayout reads the absolutely positioned HTML MuPDF emits for a page:
// a sized page div holding one <p> per text line and one <img> per embedded
// image, every box given in points.
func parseLayout(page int, doc string) *pageLayout {
	layout := &pageLayout{}
	z := html.NewTokenizer(strings.NewReader(doc))

	var (
		inLine bool
		line   positionedLine
		text   strings.Builder
		height float64
	)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if inLine {
				layout.addLine(line, text.String(), height)
			}
			return layout

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			attrs := tagAttrs(z, hasAttr)
			switch string(name) {
			case "div":
				if strings.HasPrefix(attrs["id"], "page") {
					st := parseStyle(attrs["style"])
					layout.bounds = domain.Rect{X1: st["width"], Y1: st["height"]}
				}
			case "p":
				if inLine {
					layout.addLine(line, text.String(), height)
				}
				st := parseStyle(attrs["style"])
				line = positionedLine{Box: domain.Rect{X0: st["left"], Y0: st["top"]}}
				height = st["line-height"]
				text.Reset()
				inLine = true
			case "br":
				if inLine {
					text.WriteByte(' ')
				}
			case "img":
				if img, ok := decodeDataImage(page, attrs); ok {
					layout.images = append(layout.images, img)
				}
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "p" && inLine {
				layout.addLine(line, text.String(), height)
				inLine = false
			}

		case html.TextToken:
			if inLine {
				text.Write(z.Text())
			}
		}
	}
}

func (l *pageLayout) addLine(line positionedLine, text string, height float64) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if height <= 0 {
		height = 12
	}
	line.Text = text
	line.Box.Y1 = line.Box.Y0 + height
	// no glyph metrics in the markup: approximate width at half an em per rune
	line.Box.X1 = line.Box.X0 + float64(utf8.RuneCountInString(text))*height*0.5
	l.lines = append(l.lines, line)
}

// textIn joins the lines whose vertical centre lies inside clip. An empty
// clip keeps every line.
func (l *pageLayout) textIn(clip domain.Rect) string {
	var kept []string
	for _, line := range l.lines {
		if !clip.Empty() {
			cy := line.Box.CenterY()
			if cy < clip.Y0 || cy > clip.Y1 {
				continue
			}
		}
		kept = append(kept, line.Text)
	}
	return strings.Join(kept, "\n")
}

func tagAttrs(z *html.Tokenizer, more bool) map[string]string {
	attrs := map[string]string{}
	for more {
		var k, v []byte
		k, v, more = z.TagAttr()
		attrs[string(k)] = string(v)
	}
	return attrs
}

// parseStyle reads numeric declarations such as "top:72.0pt" from an inline
// style. Non-numeric declarations are ignored.
func parseStyle(style string) map[string]float64 {
	out := map[string]float64{}
	for _, decl := range strings.Split(style, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		v = strings.TrimSuffix(strings.TrimSpace(v), "pt")
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		out[strings.TrimSpace(k)] = f
	}
	return out
}

func decodeDataImage(page int, attrs map[string]string) (domain.ImageRegion, bool) {
	src := attrs["src"]
	meta, payload, ok := strings.Cut(src, ",")
	if !ok || !strings.HasPrefix(meta, "data:image/") || !strings.HasSuffix(meta, ";base64") {
		return domain.ImageRegion{}, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return domain.ImageRegion{}, false
	}

	st := parseStyle(attrs["style"])
	img := domain.ImageRegion{
		PageIndex: page,
		BoundingBox: domain.Rect{
			X0: st["left"],
			Y0: st["top"],
			X1: st["left"] + st["width"],
			Y1: st["top"] + st["height"],
		},
		PixelData: data,
		Format:    strings.TrimSuffix(strings.TrimPrefix(meta, "data:image/"), ";base64"),
	}
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Width, img.Height, img.Format = cfg.Width, cfg.Height, format
	}
	return img, true
}
