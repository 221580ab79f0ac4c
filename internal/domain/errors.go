package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	ErrorKindUnsupportedFormat ErrorKind = "unsupported_format"
	ErrorKindCorruptDocument   ErrorKind = "corrupt_document"
	ErrorKindOCRUnavailable    ErrorKind = "ocr_engine_unavailable"
	ErrorKindNERUnavailable    ErrorKind = "ner_engine_unavailable"
	ErrorKindOCRTimeout        ErrorKind = "ocr_timeout"
	ErrorKindCacheKey          ErrorKind = "cache_key"
	ErrorKindValidation        ErrorKind = "validation"
	ErrorKindConfig            ErrorKind = "config"
	ErrorKindRender            ErrorKind = "render"
	ErrorKindIO                ErrorKind = "io"
	ErrorKindInternal          ErrorKind = "internal"
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(kind ErrorKind, message string, err error) *DomainError {
	return &DomainError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// KindOf returns the kind of the first DomainError in err's chain, or
// ErrorKindInternal when there is none.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ErrorKindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsBatchFatal reports whether err must abort a whole batch rather than a
// single document.
func IsBatchFatal(err error) bool {
	switch KindOf(err) {
	case ErrorKindOCRUnavailable, ErrorKindNERUnavailable, ErrorKindConfig:
		return true
	}
	return false
}

// Common error constructors
func UnsupportedFormatError(message string, err error) *DomainError {
	return NewError(ErrorKindUnsupportedFormat, message, err)
}

func CorruptDocumentError(message string, err error) *DomainError {
	return NewError(ErrorKindCorruptDocument, message, err)
}

func OCRUnavailableError(message string, err error) *DomainError {
	return NewError(ErrorKindOCRUnavailable, message, err)
}

func NERUnavailableError(message string, err error) *DomainError {
	return NewError(ErrorKindNERUnavailable, message, err)
}

func OCRTimeoutError(message string, err error) *DomainError {
	return NewError(ErrorKindOCRTimeout, message, err)
}

func CacheKeyError(message string, err error) *DomainError {
	return NewError(ErrorKindCacheKey, message, err)
}

func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorKindValidation, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorKindConfig, message, err)
}

func RenderError(message string, err error) *DomainError {
	return NewError(ErrorKindRender, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorKindIO, message, err)
}

func InternalError(message string, err error) *DomainError {
	return NewError(ErrorKindInternal, message, err)
}
