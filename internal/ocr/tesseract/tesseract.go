// Package tesseract adapts the gosseract Tesseract binding to the OCR engine
// contract.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/nowusman/DocGuard/internal/domain"
)

// Engine recognizes grayscale PNGs with Tesseract. Clients are created
// lazily and reused; each client serves one image at a time.
type Engine struct {
	languages      []string
	tessdataPrefix string
	clients        chan *gosseract.Client
	clientFactory  func() *gosseract.Client
}

// Config configures the engine.
type Config struct {
	Languages      []string
	TessdataPrefix string
	// PoolSize bounds the number of idle clients kept for reuse.
	PoolSize int
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 2
	}
	return &Engine{
		languages:      cfg.Languages,
		tessdataPrefix: cfg.TessdataPrefix,
		clients:        make(chan *gosseract.Client, cfg.PoolSize),
		clientFactory:  gosseract.NewClient,
	}
}

func (e *Engine) Name() string { return "tesseract" }

// Check runs a blank test image so missing language data fails here rather
// than on every image.
func (e *Engine) Check(ctx context.Context) error {
	sample := image.NewGray(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	if err := png.Encode(&buf, sample); err != nil {
		return err
	}
	if _, err := e.Recognize(ctx, buf.Bytes()); err != nil {
		return domain.OCRUnavailableError(
			fmt.Sprintf("tesseract (%s) not usable", strings.Join(e.languages, "+")), err)
	}
	return nil
}

// Recognize returns the plain text found in grayPNG.
func (e *Engine) Recognize(ctx context.Context, grayPNG []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c, err := e.acquire()
	if err != nil {
		return "", err
	}
	defer e.release(c)

	if err := c.SetImageFromBytes(grayPNG); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Close releases pooled clients.
func (e *Engine) Close() error {
	for {
		select {
		case c := <-e.clients:
			c.Close()
		default:
			return nil
		}
	}
}

func (e *Engine) acquire() (*gosseract.Client, error) {
	select {
	case c := <-e.clients:
		return c, nil
	default:
	}
	c := e.clientFactory()
	if e.tessdataPrefix != "" {
		if err := c.SetTessdataPrefix(e.tessdataPrefix); err != nil {
			c.Close()
			return nil, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := c.SetLanguage(e.languages...); err != nil {
		c.Close()
		return nil, fmt.Errorf("set languages: %w", err)
	}
	return c, nil
}

func (e *Engine) release(c *gosseract.Client) {
	select {
	case e.clients <- c:
	default:
		c.Close()
	}
}
