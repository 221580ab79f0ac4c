// Package handlers provides HTTP handlers for the DocGuard API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nowusman/DocGuard/internal/batch"
	"github.com/nowusman/DocGuard/internal/domain"
	"github.com/nowusman/DocGuard/internal/observability"
	"github.com/nowusman/DocGuard/internal/validation"
)

// ContentTypeNDJSON is the media type of streamed batch results.
const ContentTypeNDJSON = "application/x-ndjson"

// Submitter validates and starts a batch.
type Submitter interface {
	Submit(ctx context.Context, docs []domain.Document, opts domain.Options) (*batch.Batch, error)
}

// BatchHandler handles batch submission and cancellation.
type BatchHandler struct {
	logger    *observability.Logger
	submitter Submitter
	registry  *Registry
	defaults  domain.Options
	limits    validation.Limits
}

// NewBatchHandler creates a new batch handler. defaults are the options a
// request starts from before its form fields are applied.
func NewBatchHandler(logger *observability.Logger, submitter Submitter, registry *Registry, defaults domain.Options, limits validation.Limits) *BatchHandler {
	return &BatchHandler{
		logger:    observability.OrNop(logger).WithOperation("api"),
		submitter: submitter,
		registry:  registry,
		defaults:  defaults,
		limits:    limits,
	}
}

// ResultLine is one streamed line: a document result or the final summary.
type ResultLine struct {
	Type       string                   `json:"type"`
	BatchID    string                   `json:"batch_id"`
	Result     *domain.ProcessingResult `json:"result,omitempty"`
	OutputData []byte                   `json:"output_data,omitempty"`
	Summary    *batch.Summary           `json:"summary,omitempty"`
}

// BatchStatusDTO describes a running batch.
type BatchStatusDTO struct {
	BatchID         string        `json:"batch_id"`
	CancelRequested bool          `json:"cancel_requested"`
	Summary         batch.Summary `json:"summary"`
}

// Create handles POST /api/v1/batches. The request is multipart with one or
// more "files" parts and optional option fields. Results stream back as
// newline-delimited JSON in completion order, followed by a summary line.
func (h *BatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	maxBody := h.limits.MaxBatchBytes + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request too large", err.Error())
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	opts, err := ParseOptions(r.MultipartForm.Value, h.defaults)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid options", err.Error())
		return
	}

	files := r.MultipartForm.File["files"]
	if err := h.limits.ValidateCount(len(files)); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid batch", err.Error())
		return
	}
	docs, err := h.readFiles(files)
	if err != nil {
		h.writeError(w, statusFor(err), "invalid file", err.Error())
		return
	}

	b, err := h.submitter.Submit(r.Context(), docs, opts)
	if err != nil {
		h.logger.Warn().Err(err).Int("files", len(docs)).Msg("batch rejected")
		h.writeError(w, statusFor(err), "batch rejected", err.Error())
		return
	}

	h.registry.add(b)
	defer h.registry.remove(b.ID)

	h.logger.Info().
		Str("batch_id", b.ID).
		Int("files", len(docs)).
		Msg("streaming batch results")

	w.Header().Set("Content-Type", ContentTypeNDJSON)
	w.Header().Set("X-Batch-ID", b.ID)
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()
	enc := json.NewEncoder(w)
	for res := range b.Results() {
		line := ResultLine{Type: "result", BatchID: b.ID, Result: &res}
		if res.Output != nil {
			line.OutputData = res.Output.Data
		}
		if err := enc.Encode(line); err != nil {
			// Client gone. Keep draining until the batch finishes.
			h.logger.Debug().Str("batch_id", b.ID).Err(err).Msg("write result")
			continue
		}
		_ = rc.Flush()
	}

	<-b.Done()
	summary := b.Summary()
	_ = enc.Encode(ResultLine{Type: "summary", BatchID: b.ID, Summary: &summary})
	_ = rc.Flush()
}

// Get handles GET /api/v1/batches/{batchID}.
func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "batchID")
	b, ok := h.registry.Get(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "batch not found", id)
		return
	}
	h.writeJSON(w, http.StatusOK, BatchStatusDTO{
		BatchID:         b.ID,
		CancelRequested: b.CancelRequested(),
		Summary:         b.Summary(),
	})
}

// Cancel handles DELETE /api/v1/batches/{batchID}. Queued documents finish
// as canceled; running documents complete.
func (h *BatchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "batchID")
	b, ok := h.registry.Get(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "batch not found", id)
		return
	}
	b.RequestCancel()
	h.logger.Info().Str("batch_id", id).Msg("batch cancel requested")
	h.writeJSON(w, http.StatusAccepted, BatchStatusDTO{
		BatchID:         b.ID,
		CancelRequested: true,
		Summary:         b.Summary(),
	})
}

func (h *BatchHandler) readFiles(files []*multipart.FileHeader) ([]domain.Document, error) {
	docs := make([]domain.Document, 0, len(files))
	for _, fh := range files {
		if err := h.limits.ValidateFile(fh.Filename, fh.Size); err != nil {
			return nil, err
		}
		f, err := fh.Open()
		if err != nil {
			return nil, domain.IOError("open upload "+fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, domain.IOError("read upload "+fh.Filename, err)
		}
		docs = append(docs, domain.NewDocument(fh.Filename, data))
	}
	return docs, nil
}

// ParseOptions applies form fields to defaults. Unknown fields are ignored.
// anonymize_terms may be repeated and each value may hold comma or newline
// separated terms.
func ParseOptions(form map[string][]string, defaults domain.Options) (domain.Options, error) {
	opts := defaults
	opts.AnonymizeTerms = append([]string(nil), defaults.AnonymizeTerms...)

	bools := map[string]*bool{
		"anonymize":          &opts.Anonymize,
		"remove_pii":         &opts.RemovePII,
		"extract_structured": &opts.ExtractStructured,
		"enable_ocr":         &opts.EnableOCR,
		"throughput_mode":    &opts.ThroughputMode,
	}
	for name, dst := range bools {
		if v, ok := formValue(form, name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return opts, fmt.Errorf("%s: %w", name, err)
			}
			*dst = b
		}
	}

	ints := map[string]*int{
		"max_workers":             &opts.MaxWorkers,
		"max_images_per_document": &opts.MaxImagesPerDocument,
		"max_cache_items":         &opts.MaxCacheItems,
	}
	for name, dst := range ints {
		if v, ok := formValue(form, name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return opts, fmt.Errorf("%s: %w", name, err)
			}
			*dst = n
		}
	}

	floats := map[string]*float64{
		"render_scale":        &opts.RenderScale,
		"header_footer_ratio": &opts.HeaderFooterRatio,
	}
	for name, dst := range floats {
		if v, ok := formValue(form, name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return opts, fmt.Errorf("%s: %w", name, err)
			}
			*dst = f
		}
	}

	if values, ok := form["anonymize_terms"]; ok {
		opts.AnonymizeTerms = nil
		for _, v := range values {
			opts.AnonymizeTerms = append(opts.AnonymizeTerms, strings.FieldsFunc(v, func(r rune) bool {
				return r == ',' || r == '\n' || r == '\r'
			})...)
		}
	}
	if values, ok := form["replacement"]; ok && len(values) > 0 {
		opts.Replacement = values[0]
	}

	return opts.Normalized(), nil
}

func formValue(form map[string][]string, name string) (string, bool) {
	values, ok := form[name]
	if !ok || len(values) == 0 {
		return "", false
	}
	v := strings.TrimSpace(values[0])
	return v, v != ""
}

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrorKindValidation:
		if errors.Is(err, validation.ErrFileTooLarge) || errors.Is(err, validation.ErrBatchTooLarge) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case domain.ErrorKindOCRUnavailable, domain.ErrorKindNERUnavailable:
		return http.StatusServiceUnavailable
	case domain.ErrorKindIO:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *BatchHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *BatchHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	h.writeJSON(w, status, resp)
}
