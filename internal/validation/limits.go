// Package validation enforces upload limits before a batch is submitted.
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nowusman/DocGuard/internal/domain"
)

const (
	// DefaultMaxFileSizeMB is the per-file size limit.
	DefaultMaxFileSizeMB = 20

	// DefaultMaxBatchSizeMB is the combined size limit of one batch.
	DefaultMaxBatchSizeMB = 100

	// DefaultMaxFiles is the number of files accepted in one batch.
	DefaultMaxFiles = 10
)

var (
	ErrFileTooLarge         = errors.New("file exceeds maximum size")
	ErrBatchTooLarge        = errors.New("batch exceeds maximum size")
	ErrTooManyFiles         = errors.New("batch exceeds maximum file count")
	ErrUnsupportedExtension = errors.New("unsupported file extension")
	ErrEmptyBatch           = errors.New("batch contains no files")
)

// Limits bounds what a single batch may contain.
type Limits struct {
	MaxFileBytes  int64
	MaxBatchBytes int64
	MaxFiles      int
}

// DefaultLimits returns 20 MB per file, 100 MB per batch and 10 files.
func DefaultLimits() Limits {
	return NewLimits(DefaultMaxFileSizeMB, DefaultMaxBatchSizeMB, DefaultMaxFiles)
}

// NewLimits builds Limits from megabyte values.
func NewLimits(maxFileMB, maxBatchMB, maxFiles int) Limits {
	return Limits{
		MaxFileBytes:  int64(maxFileMB) << 20,
		MaxBatchBytes: int64(maxBatchMB) << 20,
		MaxFiles:      maxFiles,
	}
}

// ValidateFile checks one file's extension and size.
func (l Limits) ValidateFile(filename string, size int64) error {
	if !domain.DetectFormat(filename).Valid() {
		return domain.ValidationError(filename, fmt.Errorf("%w: %q (supported: %s)",
			ErrUnsupportedExtension, filepath.Ext(filename), strings.Join(domain.SupportedExtensions(), ", ")))
	}
	if l.MaxFileBytes > 0 && size > l.MaxFileBytes {
		return domain.ValidationError(filename, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, size, l.MaxFileBytes))
	}
	return nil
}

// ValidateCount checks the number of files before any are read.
func (l Limits) ValidateCount(n int) error {
	if n == 0 {
		return domain.ValidationError("batch", ErrEmptyBatch)
	}
	if l.MaxFiles > 0 && n > l.MaxFiles {
		return domain.ValidationError("batch", fmt.Errorf("%w: %d files (max %d)", ErrTooManyFiles, n, l.MaxFiles))
	}
	return nil
}

// ValidateBatch checks every document and the batch totals. All violations
// are reported together.
func (l Limits) ValidateBatch(docs []domain.Document) error {
	if err := l.ValidateCount(len(docs)); err != nil {
		return err
	}

	var errs []error
	var total int64
	for _, d := range docs {
		size := int64(len(d.Bytes))
		total += size
		if err := l.ValidateFile(d.Filename, size); err != nil {
			errs = append(errs, err)
		}
	}
	if l.MaxBatchBytes > 0 && total > l.MaxBatchBytes {
		errs = append(errs, domain.ValidationError("batch", fmt.Errorf("%w: %d bytes (max %d)", ErrBatchTooLarge, total, l.MaxBatchBytes)))
	}
	return errors.Join(errs...)
}
