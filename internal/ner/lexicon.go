package ner

import (
	"context"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nowusman/DocGuard/internal/domain"
)

// Lexicon is an offline engine that tags known names. Matching is
// case-sensitive and whole-word; longer names win.
type Lexicon struct {
	names  []string
	labels map[string]string
}

// NewLexicon builds a Lexicon from name → label (PERSON, ORG, GPE).
func NewLexicon(entries map[string]string) *Lexicon {
	l := &Lexicon{labels: make(map[string]string, len(entries))}
	for name, label := range entries {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		l.names = append(l.names, name)
		l.labels[name] = label
	}
	sort.Slice(l.names, func(i, j int) bool {
		if len(l.names[i]) != len(l.names[j]) {
			return len(l.names[i]) > len(l.names[j])
		}
		return l.names[i] < l.names[j]
	})
	return l
}

func (l *Lexicon) Check(context.Context) error { return nil }

// BatchRecognize tags every text.
func (l *Lexicon) BatchRecognize(ctx context.Context, texts []string) ([][]domain.Entity, error) {
	out := make([][]domain.Entity, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = l.recognize(text)
	}
	return out, nil
}

func (l *Lexicon) recognize(text string) []domain.Entity {
	var ents []domain.Entity
	runeIdx := 0
	for i := 0; i < len(text); {
		if name := l.matchAt(text, i); name != "" {
			n := utf8.RuneCountInString(name)
			ents = append(ents, domain.Entity{
				Text:       name,
				Label:      l.labels[name],
				Start:      runeIdx,
				End:        runeIdx + n,
				Confidence: 1,
			})
			i += len(name)
			runeIdx += n
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
		runeIdx++
	}
	return ents
}

func (l *Lexicon) matchAt(text string, i int) string {
	if i > 0 {
		prev, _ := utf8.DecodeLastRuneInString(text[:i])
		if isWord(prev) {
			return ""
		}
	}
	for _, name := range l.names {
		if !strings.HasPrefix(text[i:], name) {
			continue
		}
		end := i + len(name)
		if end < len(text) {
			next, _ := utf8.DecodeRuneInString(text[end:])
			if isWord(next) {
				continue
			}
		}
		return name
	}
	return ""
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
