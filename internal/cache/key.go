package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/nowusman/DocGuard/internal/domain"
)

// keyOptions lists every option that changes a document's output. Adding an
// output-affecting option without adding it here returns stale results.
type keyOptions struct {
	Format            domain.Format `json:"format"`
	Anonymize         bool          `json:"anonymize"`
	RemovePII         bool          `json:"remove_pii"`
	ExtractStructured bool          `json:"extract_structured"`
	OCR               bool          `json:"ocr"`
	ThroughputMode    bool          `json:"throughput_mode"`
	MaxImages         int           `json:"max_images"`
	RenderScale       float64       `json:"render_scale"`
	HeaderFooterRatio float64       `json:"header_footer_ratio"`
	Terms             []string      `json:"terms"`
	Replacement       string        `json:"replacement"`
	Patterns          string        `json:"patterns"`
}

// Key fingerprints a document's bytes together with the options that shape
// its output. patterns identifies the PII pattern set in use.
func Key(data []byte, format domain.Format, opts domain.Options, patterns string) (string, error) {
	opts = opts.Normalized()
	ko := keyOptions{
		Format:            format,
		Anonymize:         opts.Anonymize,
		RemovePII:         opts.RemovePII,
		ExtractStructured: opts.ExtractStructured,
		OCR:               opts.OCRActive(),
		ThroughputMode:    opts.ThroughputMode,
		MaxImages:         opts.MaxImagesPerDocument,
		RenderScale:       opts.RenderScale,
		HeaderFooterRatio: opts.HeaderFooterRatio,
		Replacement:       opts.EffectiveReplacement(),
		Patterns:          patterns,
	}
	if opts.Anonymize {
		// matching is case-insensitive, so spelling does not change output
		ko.Terms = make([]string, len(opts.AnonymizeTerms))
		for i, t := range opts.AnonymizeTerms {
			ko.Terms[i] = strings.ToLower(t)
		}
	}

	encoded, err := json.Marshal(ko)
	if err != nil {
		return "", domain.CacheKeyError("encode options", err)
	}

	h := sha256.New()
	h.Write(data)
	h.Write([]byte{0})
	h.Write(encoded)
	return hex.EncodeToString(h.Sum(nil)), nil
}
