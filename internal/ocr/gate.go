// Package ocr decides which extracted images are worth recognizing and runs
// the OCR engine over them with bounded concurrency.
package ocr

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/nowusman/DocGuard/internal/domain"
)

// Policy holds the gating thresholds.
type Policy struct {
	MaxImages     int
	MinWidth      int
	MinHeight     int
	MinArea       int
	MinStdDev     float64
	SampleSize    int
	DarkThreshold uint8
	MinDarkRatio  float64
}

// DefaultPolicy returns the standard thresholds with the given cap.
func DefaultPolicy(maxImages int) Policy {
	return Policy{
		MaxImages:     maxImages,
		MinWidth:      32,
		MinHeight:     32,
		MinArea:       2000,
		MinStdDev:     8,
		SampleSize:    64,
		DarkThreshold: 110,
		MinDarkRatio:  0.01,
	}
}

// candidate carries one image through the policy stages.
type candidate struct {
	index  int
	region domain.ImageRegion
	gray   *image.Gray
	skip   domain.SkipReason
	data   []byte
}

// stage is one gating rule. Stages only look at candidates not yet skipped.
type stage func(p Policy, c []*candidate)

// stages is the gating order: cap, then quality, then grayscale.
var stages = []stage{applyCap, assessQuality, normalizeGray}

// Gate runs images through the policy and returns the tasks to recognize and
// the skip results, both in encounter order.
func (p Policy) Gate(images []domain.ImageRegion) ([]domain.OCRTask, []domain.OCRResult) {
	cands := make([]*candidate, len(images))
	for i, img := range images {
		cands[i] = &candidate{index: i, region: img}
	}
	for _, st := range stages {
		st(p, cands)
	}

	var tasks []domain.OCRTask
	var skipped []domain.OCRResult
	for _, c := range cands {
		if c.skip != domain.SkipNone {
			skipped = append(skipped, domain.OCRResult{ImageIndex: c.index, WasSkipped: true, SkipReason: c.skip})
			continue
		}
		tasks = append(tasks, domain.OCRTask{ImageIndex: c.index, PixelData: c.data})
	}
	return tasks, skipped
}

// applyCap keeps the first MaxImages images.
func applyCap(p Policy, cands []*candidate) {
	for i, c := range cands {
		if i >= p.MaxImages {
			c.skip = domain.SkipOverCap
		}
	}
}

// assessQuality drops images that are too small, undecodable, near-uniform
// or nearly free of dark pixels.
func assessQuality(p Policy, cands []*candidate) {
	for _, c := range cands {
		if c.skip != domain.SkipNone {
			continue
		}
		if len(c.region.PixelData) == 0 {
			c.skip = domain.SkipNoData
			continue
		}
		if c.region.Width > 0 && c.region.Height > 0 && p.tooSmall(c.region.Width, c.region.Height) {
			c.skip = domain.SkipLowValue
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(c.region.PixelData))
		if err != nil {
			c.skip = domain.SkipNoData
			continue
		}
		b := img.Bounds()
		if p.tooSmall(b.Dx(), b.Dy()) {
			c.skip = domain.SkipLowValue
			continue
		}
		gray := toGray(img)
		if stdDev(gray) < p.MinStdDev || p.darkRatio(gray) < p.MinDarkRatio {
			c.skip = domain.SkipLowValue
			continue
		}
		c.gray = gray
	}
}

// normalizeGray encodes surviving images as single-channel PNG.
func normalizeGray(_ Policy, cands []*candidate) {
	for _, c := range cands {
		if c.skip != domain.SkipNone {
			continue
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, c.gray); err != nil {
			c.skip = domain.SkipError
			continue
		}
		c.data = buf.Bytes()
		c.gray = nil
	}
}

func (p Policy) tooSmall(w, h int) bool {
	return w < p.MinWidth || h < p.MinHeight || w*h < p.MinArea
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.SetGray(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(img.At(x, y)).(color.Gray))
		}
	}
	return gray
}

func stdDev(g *image.Gray) float64 {
	n := float64(len(g.Pix))
	if n == 0 {
		return 0
	}
	var sum, sumSq float64
	for _, v := range g.Pix {
		f := float64(v)
		sum += f
		sumSq += f * f
	}
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		return 0
	}
	return math.Sqrt(variance)
}

// darkRatio samples a SampleSize square downscale and returns the share of
// pixels darker than DarkThreshold.
func (p Policy) darkRatio(g *image.Gray) float64 {
	size := p.SampleSize
	if size <= 0 {
		size = 64
	}
	sample := image.NewGray(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(sample, sample.Bounds(), g, g.Bounds(), draw.Src, nil)

	dark := 0
	for _, v := range sample.Pix {
		if v < p.DarkThreshold {
			dark++
		}
	}
	return float64(dark) / float64(len(sample.Pix))
}
