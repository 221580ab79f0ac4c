// Package render produces the output file for a processed document.
package render

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/nowusman/DocGuard/internal/domain"
	"github.com/nowusman/DocGuard/internal/observability"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypePDF  = "application/pdf"
)

// Image is an output image: its metadata plus the original bytes.
type Image struct {
	Info domain.ImageInfo
	Data []byte
}

// Input is everything a renderer needs. Text, Tables and image text are the
// already redacted values.
type Input struct {
	Filename string
	Original []byte
	Text     string
	Tables   []domain.TableRegion
	Images   []Image
	Options  domain.Options
}

// Renderer chooses an output shape from the options: structured JSON,
// a regenerated PDF when content was altered, or the original bytes.
type Renderer struct {
	logger *observability.Logger
	now    func() time.Time
}

func New(logger *observability.Logger) *Renderer {
	return &Renderer{
		logger: observability.OrNop(logger).WithOperation("render"),
		now:    time.Now,
	}
}

// Render builds the output file for in.
func (r *Renderer) Render(in Input) (*domain.Output, error) {
	switch {
	case in.Options.ExtractStructured:
		data, err := r.renderJSON(in)
		if err != nil {
			return nil, domain.RenderError("render json output", err)
		}
		return &domain.Output{
			Filename:    domain.OutputName(in.Filename, ".json"),
			ContentType: ContentTypeJSON,
			Data:        data,
		}, nil

	case in.Options.Anonymize || in.Options.RemovePII:
		data, err := r.renderPDF(in)
		if err != nil {
			return nil, domain.RenderError("render pdf output", err)
		}
		return &domain.Output{
			Filename:    domain.OutputName(in.Filename, ".pdf"),
			ContentType: ContentTypePDF,
			Data:        data,
		}, nil

	default:
		return &domain.Output{
			Filename:    filepath.Base(in.Filename),
			ContentType: passthroughType(in.Filename),
			Data:        in.Original,
		}, nil
	}
}

func passthroughType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return ContentTypePDF
	case ".txt", ".text":
		return "text/plain; charset=utf-8"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".odt":
		return "application/vnd.oasis.opendocument.text"
	case ".doc":
		return "application/msword"
	case ".rtf":
		return "application/rtf"
	default:
		return "application/octet-stream"
	}
}

// visible drops images marked for removal.
func visible(images []Image) []Image {
	out := make([]Image, 0, len(images))
	for _, img := range images {
		if !img.Info.Dropped {
			out = append(out, img)
		}
	}
	return out
}
