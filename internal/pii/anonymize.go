package pii

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nowusman/DocGuard/internal/domain"
)

// Anonymizer replaces configured terms case-insensitively, whole terms only,
// without overlap. Longer terms are tried first.
type Anonymizer struct {
	terms       []string
	replacement string
}

// NewAnonymizer builds an Anonymizer from the options' terms and marker.
func NewAnonymizer(opts domain.Options) *Anonymizer {
	return &Anonymizer{
		terms:       domain.NormalizeTerms(opts.AnonymizeTerms),
		replacement: opts.EffectiveReplacement(),
	}
}

// Empty reports whether there is nothing to replace.
func (a *Anonymizer) Empty() bool { return len(a.terms) == 0 }

// Apply returns text with every whole-term occurrence replaced.
func (a *Anonymizer) Apply(text string) string {
	if len(a.terms) == 0 || text == "" {
		return text
	}

	var b strings.Builder
	last := 0
	for i := 0; i < len(text); {
		if n := a.matchAt(text, i); n > 0 {
			if b.Len() == 0 {
				b.Grow(len(text))
			}
			b.WriteString(text[last:i])
			b.WriteString(a.replacement)
			i += n
			last = i
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

// ApplyAll anonymizes each text.
func (a *Anonymizer) ApplyAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = a.Apply(t)
	}
	return out
}

// IsTerm reports whether s, trimmed, is exactly one of the terms.
func (a *Anonymizer) IsTerm(s string) bool {
	s = strings.TrimSpace(s)
	for _, t := range a.terms {
		if strings.EqualFold(s, t) {
			return true
		}
	}
	return false
}

// matchAt returns the byte length of the term matching at i, or 0.
func (a *Anonymizer) matchAt(text string, i int) int {
	for _, t := range a.terms {
		end := i + len(t)
		if end > len(text) || !strings.EqualFold(text[i:end], t) {
			continue
		}
		if end < len(text) && !utf8.RuneStart(text[end]) {
			continue
		}
		if !boundaryBefore(text, i, t) || !boundaryAfter(text, end, t) {
			continue
		}
		return len(t)
	}
	return 0
}

func boundaryBefore(text string, i int, term string) bool {
	if i == 0 {
		return true
	}
	first, _ := utf8.DecodeRuneInString(term)
	if !isWordRune(first) {
		return true
	}
	prev, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(prev)
}

func boundaryAfter(text string, end int, term string) bool {
	if end == len(text) {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(term)
	if !isWordRune(last) {
		return true
	}
	next, _ := utf8.DecodeRuneInString(text[end:])
	return !isWordRune(next)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
