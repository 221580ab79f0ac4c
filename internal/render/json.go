package render

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"github.com/nowusman/DocGuard/internal/domain"
)

const (
	thumbnailMaxBytes = 10000
	thumbnailSize     = 100
)

type jsonDocument struct {
	Metadata       jsonMetadata       `json:"document_metadata"`
	Content        jsonContent        `json:"content"`
	ProcessingInfo jsonProcessingInfo `json:"processing_info"`
}

type jsonMetadata struct {
	Filename       string `json:"filename"`
	FileType       string `json:"file_type"`
	ProcessingDate string `json:"processing_date"`
	FileSize       int    `json:"file_size"`
}

type jsonContent struct {
	Text   string               `json:"text"`
	Tables []domain.TableRegion `json:"tables"`
	Images []jsonImage          `json:"images"`
}

type jsonImage struct {
	Type          string `json:"type"`
	Description   string `json:"description"`
	ExtractedText string `json:"extracted_text"`
	OCRApplied    bool   `json:"ocr_applied"`
	ImageFormat   string `json:"image_format"`
	Thumbnail     string `json:"thumbnail,omitempty"`
}

type jsonProcessingInfo struct {
	Anonymized      bool `json:"anonymized"`
	PIIRemoved      bool `json:"pii_removed"`
	ExtractedToJSON bool `json:"extracted_to_json"`
}

func (r *Renderer) renderJSON(in Input) ([]byte, error) {
	doc := jsonDocument{
		Metadata: jsonMetadata{
			Filename:       filepath.Base(in.Filename),
			FileType:       strings.TrimPrefix(strings.ToLower(filepath.Ext(in.Filename)), "."),
			ProcessingDate: r.now().Format(time.RFC3339),
			FileSize:       len(in.Original),
		},
		Content: jsonContent{
			Text:   in.Text,
			Tables: in.Tables,
			Images: []jsonImage{},
		},
		ProcessingInfo: jsonProcessingInfo{
			Anonymized:      in.Options.Anonymize,
			PIIRemoved:      in.Options.RemovePII,
			ExtractedToJSON: true,
		},
	}
	if doc.Content.Tables == nil {
		doc.Content.Tables = []domain.TableRegion{}
	}

	for _, img := range visible(in.Images) {
		ji := jsonImage{
			Type:          "embedded_image",
			Description:   fmt.Sprintf("Image %d on page %d", img.Info.Index+1, img.Info.PageIndex+1),
			ExtractedText: img.Info.ExtractedText,
			OCRApplied:    img.Info.OCRApplied,
			ImageFormat:   img.Info.Format,
		}
		if len(img.Data) > 0 && len(img.Data) < thumbnailMaxBytes {
			if thumb, err := thumbnail(img.Data); err == nil {
				ji.Thumbnail = thumb
			} else {
				r.logger.Debug().Int("image", img.Info.Index).Err(err).Msg("skip thumbnail")
			}
		}
		doc.Content.Images = append(doc.Content.Images, ji)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// thumbnail scales an image to fit a 100x100 box, keeping aspect ratio, and
// returns it as base64 PNG. Smaller images are not enlarged.
func thumbnail(data []byte) (string, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	w, h := fitWithin(src.Bounds().Dx(), src.Bounds().Dy(), thumbnailSize, thumbnailSize)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 1, 1
	}
	if w <= maxW && h <= maxH {
		return w, h
	}
	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	return max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))
}
