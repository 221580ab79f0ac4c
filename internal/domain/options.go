package domain

import (
	"sort"
	"strings"
)

const (
	DefaultMaxImagesPerDocument = 10
	DefaultRenderScale          = 1.25
	DefaultMaxCacheItems        = 64
	DefaultHeaderFooterRatio    = 0.08
	DefaultReplacement          = "[REDACTED]"
	PIIMarker                   = "[PII_REMOVED]"
)

// Options is the immutable processing configuration for one batch. It is
// passed by value through every stage; no stage reads global configuration.
type Options struct {
	Anonymize         bool
	RemovePII         bool
	ExtractStructured bool
	EnableOCR         bool
	ThroughputMode    bool

	MaxImagesPerDocument int
	RenderScale          float64
	MaxCacheItems        int
	MaxWorkers           int
	HeaderFooterRatio    float64

	AnonymizeTerms []string
	Replacement    string
}

// DefaultOptions returns options with every tunable at its default.
func DefaultOptions() Options {
	return Options{
		EnableOCR:            true,
		MaxImagesPerDocument: DefaultMaxImagesPerDocument,
		RenderScale:          DefaultRenderScale,
		MaxCacheItems:        DefaultMaxCacheItems,
		MaxWorkers:           1,
		HeaderFooterRatio:    DefaultHeaderFooterRatio,
		Replacement:          DefaultReplacement,
	}
}

// OCRActive reports whether images are sent to the OCR engine at all.
func (o Options) OCRActive() bool {
	return o.EnableOCR && !o.ThroughputMode
}

// FullPII reports whether the named-entity detector runs alongside patterns.
func (o Options) FullPII() bool {
	return o.RemovePII && !o.ThroughputMode
}

// Normalized returns a copy with clamped tunables and canonical terms.
func (o Options) Normalized() Options {
	if o.MaxImagesPerDocument < 0 {
		o.MaxImagesPerDocument = 0
	}
	if o.RenderScale <= 0 {
		o.RenderScale = DefaultRenderScale
	}
	if o.MaxCacheItems < 0 {
		o.MaxCacheItems = 0
	}
	if o.MaxWorkers < 1 {
		o.MaxWorkers = 1
	}
	if o.HeaderFooterRatio < 0 {
		o.HeaderFooterRatio = 0
	}
	if o.HeaderFooterRatio >= 0.5 {
		o.HeaderFooterRatio = 0.49
	}
	o.AnonymizeTerms = NormalizeTerms(o.AnonymizeTerms)
	return o
}

// NormalizeTerms trims terms, drops empties and removes case-insensitive
// duplicates keeping the first spelling. The result is sorted longest first
// so that longer terms win over their prefixes.
func NormalizeTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		k := strings.ToLower(t)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

// EffectiveReplacement is the anonymization marker actually written. An
// empty marker becomes a single space so neighbouring words stay apart.
func (o Options) EffectiveReplacement() string {
	if o.Replacement == "" {
		return " "
	}
	return o.Replacement
}
