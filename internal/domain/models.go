package domain

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Format is the document family a byte stream is parsed as.
type Format string

const (
	FormatText     Format = "text"
	FormatWordProc Format = "wordproc"
	FormatPDF      Format = "pdf"
	FormatUnknown  Format = "unknown"
)

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	return f == FormatText || f == FormatWordProc || f == FormatPDF
}

var extensionFormats = map[string]Format{
	".txt":  FormatText,
	".text": FormatText,
	".docx": FormatWordProc,
	".odt":  FormatWordProc,
	".doc":  FormatWordProc,
	".rtf":  FormatWordProc,
	".pdf":  FormatPDF,
}

// DetectFormat maps a filename extension to a Format.
func DetectFormat(filename string) Format {
	if f, ok := extensionFormats[strings.ToLower(filepath.Ext(filename))]; ok {
		return f
	}
	return FormatUnknown
}

// SupportedExtensions lists the accepted file extensions.
func SupportedExtensions() []string {
	return []string{".txt", ".docx", ".odt", ".doc", ".rtf", ".pdf"}
}

// Document is a single input file. Bytes are owned by the pipeline while it
// is processed and must not be modified by the caller.
type Document struct {
	ID       string
	Filename string
	Format   Format
	Bytes    []byte
}

// NewDocument builds a Document with a fresh ID and a format detected from
// the filename.
func NewDocument(filename string, data []byte) Document {
	return Document{
		ID:       uuid.New().String(),
		Filename: filename,
		Format:   DetectFormat(filename),
		Bytes:    data,
	}
}

// Rect is a bounding box in page points, origin top-left.
type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

func (r Rect) Width() float64   { return r.X1 - r.X0 }
func (r Rect) Height() float64  { return r.Y1 - r.Y0 }
func (r Rect) CenterY() float64 { return (r.Y0 + r.Y1) / 2 }

// Empty reports whether r has no area.
func (r Rect) Empty() bool { return r.X1 <= r.X0 || r.Y1 <= r.Y0 }

// TableRegion is a table found on a page.
type TableRegion struct {
	PageIndex   int        `json:"page_index"`
	BoundingBox Rect       `json:"bounding_box"`
	Cells       [][]string `json:"cells"`
}

// ImageRegion is an embedded (or rendered) image found on a page.
type ImageRegion struct {
	PageIndex   int
	BoundingBox Rect
	PixelData   []byte
	Width       int
	Height      int
	Format      string
}

// ExtractionResult is the output of one structural extraction. Chunks keep
// source order; Text is the single join of Chunks.
type ExtractionResult struct {
	Chunks    []string
	Text      string
	Tables    []TableRegion
	Images    []ImageRegion
	PageCount int
}

// SkipReason explains why an image did not reach the OCR engine.
type SkipReason string

const (
	SkipNone     SkipReason = ""
	SkipOverCap  SkipReason = "over_cap"
	SkipLowValue SkipReason = "low_value"
	SkipNoData   SkipReason = "no_data"
	SkipTimeout  SkipReason = "timeout"
	SkipError    SkipReason = "error"
	SkipDisabled SkipReason = "disabled"
)

// OCRTask is a unit of OCR work. ImageIndex is the image's position in
// encounter order.
type OCRTask struct {
	ImageIndex int
	PixelData  []byte
}

// OCRResult is the outcome for one image.
type OCRResult struct {
	ImageIndex     int        `json:"image_index"`
	RecognizedText string     `json:"recognized_text"`
	WasSkipped     bool       `json:"was_skipped"`
	SkipReason     SkipReason `json:"skip_reason,omitempty"`
}

// PIIKind is the class of a detected span.
type PIIKind string

const (
	PIIEmail        PIIKind = "email"
	PIIPhone        PIIKind = "phone"
	PIISSN          PIIKind = "ssn"
	PIICreditCard   PIIKind = "credit_card"
	PIIIBAN         PIIKind = "iban"
	PIIPerson       PIIKind = "person"
	PIIOrganization PIIKind = "organization"
	PIILocation     PIIKind = "location"
)

// SpanSource identifies the detector that produced a span.
type SpanSource string

const (
	SourcePattern SpanSource = "pattern"
	SourceEntity  SpanSource = "entity"
)

// PIISpan is a byte range [Start, End) within chunk Chunk.
type PIISpan struct {
	Chunk  int        `json:"chunk"`
	Start  int        `json:"start"`
	End    int        `json:"end"`
	Kind   PIIKind    `json:"kind"`
	Source SpanSource `json:"source"`
}

// Len returns the span extent in bytes.
func (s PIISpan) Len() int { return s.End - s.Start }

// Entity is a named-entity engine hit. Start and End are rune offsets.
type Entity struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	Start      int     `json:"start_pos"`
	End        int     `json:"end_pos"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Status is a document's position in the processing state machine.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Timing is the per-stage wall time of one document.
type Timing struct {
	Cache     time.Duration `json:"cache"`
	Extract   time.Duration `json:"extract"`
	OCR       time.Duration `json:"ocr"`
	Anonymize time.Duration `json:"anonymize"`
	Redact    time.Duration `json:"redact"`
	Render    time.Duration `json:"render"`
	Total     time.Duration `json:"total"`
}

// ImageInfo is the image metadata kept in a result.
type ImageInfo struct {
	Index         int        `json:"index"`
	PageIndex     int        `json:"page_index"`
	BoundingBox   Rect       `json:"bounding_box"`
	Width         int        `json:"width"`
	Height        int        `json:"height"`
	Format        string     `json:"format"`
	OCRApplied    bool       `json:"ocr_applied"`
	ExtractedText string     `json:"extracted_text,omitempty"`
	SkipReason    SkipReason `json:"skip_reason,omitempty"`
	Dropped       bool       `json:"dropped,omitempty"`
}

// Output is a rendered output file.
type Output struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// ProcessingResult is the final outcome for one document.
type ProcessingResult struct {
	DocumentID string        `json:"document_id"`
	Filename   string        `json:"filename"`
	Format     Format        `json:"format"`
	FileSize   int           `json:"file_size"`
	Status     Status        `json:"status"`
	ErrorKind  ErrorKind     `json:"error_kind,omitempty"`
	Error      string        `json:"error,omitempty"`
	Text       string        `json:"text,omitempty"`
	Tables     []TableRegion `json:"tables,omitempty"`
	Images     []ImageInfo   `json:"images,omitempty"`
	Spans      []PIISpan     `json:"spans,omitempty"`
	Output     *Output       `json:"output,omitempty"`
	Timing     Timing        `json:"timing"`
	FromCache  bool          `json:"from_cache"`
}

// ForDocument returns a copy of r re-addressed to doc. Slices are shared;
// results are treated as immutable once produced.
func (r ProcessingResult) ForDocument(doc Document) ProcessingResult {
	if r.Output != nil && r.Filename != doc.Filename {
		out := *r.Output
		out.Filename = OutputName(doc.Filename, filepath.Ext(out.Filename))
		r.Output = &out
	}
	r.DocumentID = doc.ID
	r.Filename = doc.Filename
	return r
}

// OutputName swaps the extension of filename for ext.
func OutputName(filename, ext string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ext
}

// FailedResult builds a Failed result for doc carrying err's kind.
func FailedResult(doc Document, err error) ProcessingResult {
	return ProcessingResult{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Format:     doc.Format,
		FileSize:   len(doc.Bytes),
		Status:     StatusFailed,
		ErrorKind:  KindOf(err),
		Error:      err.Error(),
	}
}

// CanceledResult builds a Canceled result for a document that never ran.
func CanceledResult(doc Document) ProcessingResult {
	return ProcessingResult{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Format:     doc.Format,
		FileSize:   len(doc.Bytes),
		Status:     StatusCanceled,
		Error:      "batch canceled before document was dispatched",
	}
}
