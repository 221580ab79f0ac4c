package pii

import (
	"sort"
	"strings"

	"github.com/nowusman/DocGuard/internal/domain"
)

// MergeSpans resolves overlaps and returns non-overlapping spans sorted by
// chunk and start. Of two overlapping spans the longer wins; on equal length
// a pattern span beats an entity span, otherwise the earlier start wins.
// Identical candidates keep the first one seen.
func MergeSpans(spans []domain.PIISpan) []domain.PIISpan {
	if len(spans) == 0 {
		return nil
	}
	sorted := append([]domain.PIISpan(nil), spans...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Chunk != sorted[j].Chunk {
			return sorted[i].Chunk < sorted[j].Chunk
		}
		return sorted[i].Start < sorted[j].Start
	})

	kept := make([]domain.PIISpan, 0, len(sorted))
	for _, s := range sorted {
		if s.End <= s.Start {
			continue
		}
		if len(kept) == 0 {
			kept = append(kept, s)
			continue
		}
		last := &kept[len(kept)-1]
		if s.Chunk != last.Chunk || s.Start >= last.End {
			kept = append(kept, s)
			continue
		}
		if beats(s, *last) {
			*last = s
		}
	}
	return kept
}

// beats reports whether challenger s displaces incumbent cur. cur never
// starts after s.
func beats(s, cur domain.PIISpan) bool {
	if s.Len() != cur.Len() {
		return s.Len() > cur.Len()
	}
	if s.Source != cur.Source {
		return s.Source == domain.SourcePattern
	}
	return false
}

// Apply rewrites text right to left, replacing each span with marker. spans
// must be non-overlapping, sorted by start, and within text.
func Apply(text string, spans []domain.PIISpan, marker string) string {
	if len(spans) == 0 {
		return text
	}
	pieces := make([]string, 0, 2*len(spans)+1)
	end := len(text)
	for i := len(spans) - 1; i >= 0; i-- {
		s := spans[i]
		if s.Start < 0 || s.End > end || s.Start >= s.End {
			continue
		}
		pieces = append(pieces, text[s.End:end], marker)
		end = s.Start
	}
	pieces = append(pieces, text[:end])

	for i, j := 0, len(pieces)-1; i < j; i, j = i+1, j-1 {
		pieces[i], pieces[j] = pieces[j], pieces[i]
	}
	return strings.Join(pieces, "")
}
