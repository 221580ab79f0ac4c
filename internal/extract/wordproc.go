package extract

import (
	"archive/zip"
	"bytes"

	"code.sajari.com/docconv"

	"github.com/nowusman/DocGuard/internal/domain"
)

const (
	mimeODT = "application/vnd.oasis.opendocument.text"
	mimeDoc = "application/msword"
	mimeRTF = "application/rtf"
)

var (
	zipMagic = []byte("PK\x03\x04")
	cfbMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	rtfMagic = []byte(`{\rtf`)
)

// WordProcBackend reads word-processor documents. OOXML is parsed natively;
// OpenDocument, legacy Word and RTF go through docconv, which yields text
// only.
type WordProcBackend struct{}

func (WordProcBackend) Open(data []byte) (Handle, error) {
	switch {
	case bytes.HasPrefix(data, zipMagic):
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, domain.CorruptDocumentError("read zip package", err)
		}
		if isODT(zr) {
			return convert(data, mimeODT)
		}
		return openDocx(zr)
	case bytes.HasPrefix(data, cfbMagic):
		return convert(data, mimeDoc)
	case bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n\xef\xbb\xbf"), rtfMagic):
		return convert(data, mimeRTF)
	default:
		return nil, domain.CorruptDocumentError("not a recognizable word-processor document", nil)
	}
}

func isODT(zr *zip.Reader) bool {
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			return false
		}
		if f.Name == "content.xml" {
			return true
		}
	}
	return false
}

func convert(data []byte, mimeType string) (Handle, error) {
	res, err := docconv.Convert(bytes.NewReader(data), mimeType, false)
	if err != nil {
		return nil, domain.CorruptDocumentError("convert "+mimeType, err)
	}
	return plainHandle(res.Body), nil
}
