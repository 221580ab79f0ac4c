package pii

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nowusman/DocGuard/internal/domain"
	"github.com/nowusman/DocGuard/internal/observability"
)

// Redactor finds PII spans with patterns and, in full mode, a named-entity
// engine, then rewrites the text. A Redactor belongs to one worker.
type Redactor struct {
	patterns *PatternSet
	ner      domain.EntityRecognizer
	logger   *observability.Logger
}

// NewRedactor creates a Redactor. ner may be nil, in which case full mode
// runs patterns only.
func NewRedactor(patterns *PatternSet, ner domain.EntityRecognizer, logger *observability.Logger) *Redactor {
	if patterns == nil {
		patterns = MustDefaultPatternSet()
	}
	return &Redactor{
		patterns: patterns,
		ner:      ner,
		logger:   observability.OrNop(logger).WithOperation("pii"),
	}
}

// Patterns returns the pattern set in use.
func (r *Redactor) Patterns() *PatternSet { return r.patterns }

// Detect returns the merged, non-overlapping spans for texts. Span.Chunk is
// the index into texts.
func (r *Redactor) Detect(ctx context.Context, texts []string, opts domain.Options) ([]domain.PIISpan, error) {
	var spans []domain.PIISpan
	for i, t := range texts {
		spans = append(spans, r.patterns.Find(i, t)...)
	}

	if opts.FullPII() && r.ner != nil && hasText(texts) {
		entities, err := r.ner.BatchRecognize(ctx, texts)
		if err != nil {
			return nil, domain.NERUnavailableError("named-entity recognition", err)
		}
		if len(entities) != len(texts) {
			return nil, domain.NERUnavailableError(
				fmt.Sprintf("named-entity engine returned %d results for %d texts", len(entities), len(texts)), nil)
		}
		for i, ents := range entities {
			spans = append(spans, entitySpans(i, texts[i], ents)...)
		}
	}

	return MergeSpans(spans), nil
}

// Redact detects PII across all texts and returns the rewritten texts
// together with the spans applied.
func (r *Redactor) Redact(ctx context.Context, texts []string, opts domain.Options) ([]string, []domain.PIISpan, error) {
	spans, err := r.Detect(ctx, texts, opts)
	if err != nil {
		return nil, nil, err
	}

	out := make([]string, len(texts))
	start := 0
	for i, t := range texts {
		end := start
		for end < len(spans) && spans[end].Chunk == i {
			end++
		}
		out[i] = Apply(t, spans[start:end], domain.PIIMarker)
		start = end
	}

	r.logger.Debug().
		Int("texts", len(texts)).
		Int("spans", len(spans)).
		Bool("full_mode", opts.FullPII() && r.ner != nil).
		Msg("redacted")
	return out, spans, nil
}

// entitySpans maps engine hits (rune offsets) onto byte spans of text,
// dropping labels outside person, organization and location.
func entitySpans(chunk int, text string, ents []domain.Entity) []domain.PIISpan {
	if len(ents) == 0 {
		return nil
	}
	offsets := runeByteOffsets(text)
	n := len(offsets) - 1

	var spans []domain.PIISpan
	for _, e := range ents {
		kind, ok := entityKind(e.Label)
		if !ok {
			continue
		}
		if e.Start < 0 || e.End > n || e.Start >= e.End {
			continue
		}
		spans = append(spans, domain.PIISpan{
			Chunk:  chunk,
			Start:  offsets[e.Start],
			End:    offsets[e.End],
			Kind:   kind,
			Source: domain.SourceEntity,
		})
	}
	return spans
}

// runeByteOffsets returns the byte offset of every rune index in s, plus
// len(s) as the final entry.
func runeByteOffsets(s string) []int {
	offsets := make([]int, 0, utf8.RuneCountInString(s)+1)
	for i := range s {
		offsets = append(offsets, i)
	}
	return append(offsets, len(s))
}

func entityKind(label string) (domain.PIIKind, bool) {
	switch strings.ToUpper(label) {
	case "PERSON", "PER":
		return domain.PIIPerson, true
	case "ORG", "ORGANIZATION":
		return domain.PIIOrganization, true
	case "GPE", "LOC", "LOCATION":
		return domain.PIILocation, true
	}
	return "", false
}

func hasText(texts []string) bool {
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			return true
		}
	}
	return false
}
