package extract

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/nowusman/DocGuard/internal/domain"
)

// TextBackend reads plain text. UTF-8 and BOM-marked UTF-16 are decoded;
// other byte streams that are not valid UTF-8 are read as Latin-1.
type TextBackend struct{}

func (TextBackend) Open(data []byte) (Handle, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	return plainHandle(text), nil
}

func decodeText(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	utf16BOM := bytes.HasPrefix(data, []byte{0xFF, 0xFE}) || bytes.HasPrefix(data, []byte{0xFE, 0xFF})
	if !utf16BOM && bytes.IndexByte(head(data, 8192), 0) >= 0 {
		return "", domain.CorruptDocumentError("text file contains binary data", nil)
	}

	decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		return "", domain.CorruptDocumentError("decode text", err)
	}
	if utf8.Valid(decoded) && !bytes.ContainsRune(decoded, utf8.RuneError) {
		return string(decoded), nil
	}

	latin, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
	if err != nil {
		return "", domain.CorruptDocumentError("decode text", err)
	}
	return string(latin), nil
}

// plainHandle wraps extracted plain text, finding delimited tables in it.
func plainHandle(text string) *flatHandle {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return &flatHandle{
		text:   text,
		tables: delimitedTables(0, strings.Split(text, "\n")),
	}
}

func head(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}

// flatHandle is a document without page geometry, exposed as one page.
type flatHandle struct {
	text         string
	tables       []domain.TableRegion
	images       []domain.ImageRegion
	nativeTables bool
}

func (h *flatHandle) PageCount() int { return 1 }

func (h *flatHandle) PageBounds(page int) (domain.Rect, error) {
	if page != 0 {
		return domain.Rect{}, fmt.Errorf("page %d out of range", page)
	}
	return domain.Rect{}, nil
}

func (h *flatHandle) TextForRegion(page int, _ domain.Rect) (string, error) {
	if page != 0 {
		return "", fmt.Errorf("page %d out of range", page)
	}
	return h.text, nil
}

func (h *flatHandle) TablesOnPage(int) ([]domain.TableRegion, error) { return h.tables, nil }
func (h *flatHandle) ImagesOnPage(int) ([]domain.ImageRegion, error) { return h.images, nil }
func (h *flatHandle) StructuralTables() bool                         { return h.nativeTables }

func (h *flatHandle) Close() error {
	h.images = nil
	return nil
}
