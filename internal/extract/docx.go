package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/nowusman/DocGuard/internal/domain"
)

const (
	docxBody = "word/document.xml"
	docxRels = "word/_rels/document.xml.rels"

	emuPerPoint = 12700.0
)

// maxPartBytes caps the expanded size of any package entry read into memory.
var maxPartBytes int64 = 32 << 20

var errPartTooLarge = errors.New("package entry exceeds size limit")

type docxImageRef struct {
	relID    string
	widthPt  float64
	heightPt float64
}

// openDocx parses an OOXML package. Header and footer parts live in separate
// package entries and are never read, so body text already excludes them.
func openDocx(zr *zip.Reader) (*flatHandle, error) {
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	body, ok := files[docxBody]
	if !ok {
		return nil, domain.CorruptDocumentError("docx package has no main document part", nil)
	}
	if body.UncompressedSize64 > uint64(maxPartBytes) {
		return nil, domain.CorruptDocumentError("main document part", errPartTooLarge)
	}
	rc, err := body.Open()
	if err != nil {
		return nil, domain.CorruptDocumentError("open main document part", err)
	}
	defer rc.Close()

	h := &flatHandle{nativeTables: true}
	refs, err := h.parseBody(io.LimitReader(rc, maxPartBytes))
	if err != nil {
		return nil, domain.CorruptDocumentError("parse main document part", err)
	}

	if len(refs) > 0 {
		targets, err := readRels(files[docxRels])
		if err != nil {
			return nil, domain.CorruptDocumentError("parse document relationships", err)
		}
		for _, ref := range refs {
			img, ok, err := loadDocxImage(files, targets[ref.relID], ref)
			if err != nil {
				return nil, domain.CorruptDocumentError("read embedded image", err)
			}
			if ok {
				h.images = append(h.images, img)
			}
		}
	}
	return h, nil
}

// parseBody walks document.xml once. Paragraphs inside tables feed table
// cells only; nested tables fold into the enclosing cell's text. A paragraph
// nested in another (text boxes) is emitted on its own and the outer one
// resumes where it left off.
func (h *flatHandle) parseBody(r io.Reader) ([]docxImageRef, error) {
	dec := xml.NewDecoder(r)

	var (
		body     []string
		para     strings.Builder
		outer    []string
		inText   bool
		inPPr    bool
		tblDepth int
		rows     [][]string
		row      []string
		cell     []string
		extent   [2]float64
		refs     []docxImageRef
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tblDepth++
				if tblDepth == 1 {
					rows = nil
				}
			case "tr":
				if tblDepth == 1 {
					row = nil
				}
			case "tc":
				if tblDepth == 1 {
					cell = nil
				}
			case "p":
				outer = append(outer, para.String())
				para.Reset()
			case "pPr":
				inPPr = true
			case "t":
				inText = true
			case "tab":
				// tab stops are declared under pPr
				if !inPPr {
					para.WriteByte('\t')
				}
			case "br", "cr":
				para.WriteByte('\n')
			case "extent":
				extent = [2]float64{attrFloat(t, "cx") / emuPerPoint, attrFloat(t, "cy") / emuPerPoint}
			case "blip":
				if id := attr(t, "embed"); id != "" {
					refs = append(refs, docxImageRef{relID: id, widthPt: extent[0], heightPt: extent[1]})
				}
			}

		case xml.CharData:
			if inText {
				para.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "pPr":
				inPPr = false
			case "p":
				text := para.String()
				para.Reset()
				if n := len(outer); n > 0 {
					para.WriteString(outer[n-1])
					outer = outer[:n-1]
				}
				if tblDepth > 0 {
					if strings.TrimSpace(text) != "" {
						cell = append(cell, strings.TrimSpace(text))
					}
				} else {
					body = append(body, text)
				}
			case "tc":
				if tblDepth == 1 {
					row = append(row, strings.Join(cell, " "))
				}
			case "tr":
				if tblDepth == 1 && len(row) > 0 {
					rows = append(rows, row)
				}
			case "tbl":
				if tblDepth == 1 && len(rows) > 0 {
					pos := float64(len(body))
					h.tables = append(h.tables, domain.TableRegion{
						BoundingBox: domain.Rect{Y0: pos, X1: float64(len(rows[0])), Y1: pos + float64(len(rows))},
						Cells:       rows,
					})
				}
				tblDepth--
			}
		}
	}

	h.text = strings.Join(body, "\n")
	return refs, nil
}

type relationships struct {
	Items []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
		Mode   string `xml:"TargetMode,attr"`
	} `xml:"Relationship"`
}

// readRels maps relationship ids to package paths. External targets are
// left out.
func readRels(f *zip.File) (map[string]string, error) {
	targets := map[string]string{}
	if f == nil {
		return targets, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var rels relationships
	if err := xml.NewDecoder(rc).Decode(&rels); err != nil {
		return nil, err
	}
	for _, r := range rels.Items {
		if strings.EqualFold(r.Mode, "External") {
			continue
		}
		target := r.Target
		if strings.HasPrefix(target, "/") {
			target = strings.TrimPrefix(target, "/")
		} else {
			target = path.Join("word", target)
		}
		targets[r.ID] = target
	}
	return targets, nil
}

// loadDocxImage reads one embedded media entry. Missing or unreadable
// entries are skipped; entries over maxPartBytes are an error.
func loadDocxImage(files map[string]*zip.File, name string, ref docxImageRef) (domain.ImageRegion, bool, error) {
	f, ok := files[name]
	if !ok {
		return domain.ImageRegion{}, false, nil
	}
	data, err := readPart(f)
	if errors.Is(err, errPartTooLarge) {
		return domain.ImageRegion{}, false, fmt.Errorf("%s: %w", name, err)
	}
	if err != nil {
		return domain.ImageRegion{}, false, nil
	}

	img := domain.ImageRegion{
		PixelData:   data,
		BoundingBox: domain.Rect{X1: ref.widthPt, Y1: ref.heightPt},
		Format:      strings.TrimPrefix(strings.ToLower(path.Ext(name)), "."),
	}
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Width, img.Height, img.Format = cfg.Width, cfg.Height, format
	}
	return img, true, nil
}

// readPart reads a package entry, refusing to expand it past maxPartBytes
// whatever its header claims.
func readPart(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > uint64(maxPartBytes) {
		return nil, errPartTooLarge
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxPartBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxPartBytes {
		return nil, errPartTooLarge
	}
	return data, nil
}

func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func attrFloat(se xml.StartElement, local string) float64 {
	v, err := strconv.ParseFloat(attr(se, local), 64)
	if err != nil {
		return 0
	}
	return v
}
