// Package pii detects and redacts personally identifiable information and
// replaces configured anonymization terms.
package pii

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"

	"github.com/nowusman/DocGuard/internal/domain"
)

// DefaultPatterns returns the built-in pattern sources keyed by PII kind.
func DefaultPatterns() map[string]string {
	return map[string]string{
		string(domain.PIIEmail):      `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
		string(domain.PIIPhone):      `\b(\+\d{1,2}\s?)?1?\-?\.?\s?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`,
		string(domain.PIISSN):        `\b\d{3}-\d{2}-\d{4}\b`,
		string(domain.PIICreditCard): `\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`,
		string(domain.PIIIBAN):       `\b[A-Z]{2}\d{2}[\s\-]?[A-Z\d]{4}[\s\-]?[A-Z\d]{4}[\s\-]?[A-Z\d]{4}[\s\-]?[A-Z\d]{1,4}\b`,
	}
}

// Pattern is one compiled detector.
type Pattern struct {
	Kind domain.PIIKind
	Expr *regexp.Regexp
}

// PatternSet is an immutable, ordered collection of compiled detectors.
type PatternSet struct {
	patterns    []Pattern
	fingerprint string
}

// NewPatternSet compiles the default patterns merged with overrides. An
// override with an existing kind replaces the default; an empty expression
// removes it.
func NewPatternSet(overrides map[string]string) (*PatternSet, error) {
	sources := DefaultPatterns()
	for kind, expr := range overrides {
		if expr == "" {
			delete(sources, kind)
			continue
		}
		sources[kind] = expr
	}

	kinds := make([]string, 0, len(sources))
	for k := range sources {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	set := &PatternSet{patterns: make([]Pattern, 0, len(kinds))}
	h := sha256.New()
	for _, k := range kinds {
		re, err := regexp.Compile(sources[k])
		if err != nil {
			return nil, domain.ConfigError(fmt.Sprintf("compile pii pattern %q", k), err)
		}
		set.patterns = append(set.patterns, Pattern{Kind: domain.PIIKind(k), Expr: re})
		fmt.Fprintf(h, "%s=%s\n", k, sources[k])
	}
	set.fingerprint = hex.EncodeToString(h.Sum(nil))[:16]
	return set, nil
}

// MustDefaultPatternSet returns the built-in patterns, panicking on a
// compile error.
func MustDefaultPatternSet() *PatternSet {
	set, err := NewPatternSet(nil)
	if err != nil {
		panic(err)
	}
	return set
}

// Fingerprint identifies the pattern set for cache keys.
func (s *PatternSet) Fingerprint() string { return s.fingerprint }

// Kinds lists the detector kinds in evaluation order.
func (s *PatternSet) Kinds() []domain.PIIKind {
	out := make([]domain.PIIKind, len(s.patterns))
	for i, p := range s.patterns {
		out[i] = p.Kind
	}
	return out
}

// Find returns every pattern match in text as spans on chunk. Matches from
// different patterns may overlap.
func (s *PatternSet) Find(chunk int, text string) []domain.PIISpan {
	var spans []domain.PIISpan
	for _, p := range s.patterns {
		for _, loc := range p.Expr.FindAllStringIndex(text, -1) {
			if loc[1] <= loc[0] {
				continue
			}
			spans = append(spans, domain.PIISpan{
				Chunk:  chunk,
				Start:  loc[0],
				End:    loc[1],
				Kind:   p.Kind,
				Source: domain.SourcePattern,
			})
		}
	}
	return spans
}
