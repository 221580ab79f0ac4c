package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nowusman/DocGuard/internal/domain"
)

func anonymizer(replacement string, terms ...string) *Anonymizer {
	o := domain.DefaultOptions()
	o.Anonymize = true
	o.AnonymizeTerms = terms
	o.Replacement = replacement
	return NewAnonymizer(o)
}

func TestAnonymizer_EmptyReplacementBecomesSpace(t *testing.T) {
	a := anonymizer("", "Acme")
	assert.Equal(t, " Corp released a report", a.Apply("Acme Corp released a report"))
}

func TestAnonymizer_Apply(t *testing.T) {
	tests := []struct {
		name  string
		terms []string
		in    string
		want  string
	}{
		{"case insensitive", []string{"acme"}, "ACME and Acme and acme", "[R] and [R] and [R]"},
		{"whole term only", []string{"Acme"}, "Acmeville Acme's", "Acmeville [R]'s"},
		{"longest first", []string{"Acme", "Acme Corp"}, "Acme Corp and Acme", "[R] and [R]"},
		{"longer rejected shorter accepted", []string{"Acme Corp", "Acme"}, "Acme Corporation", "[R] Corporation"},
		{"adjacent occurrences", []string{"x"}, "x x", "[R] [R]"},
		{"non word edges", []string{"C++"}, "I like C++.", "I like [R]."},
		{"unicode boundary", []string{"Zoë"}, "Zoë, Zoëy", "[R], Zoëy"},
		{"no terms", nil, "unchanged", "unchanged"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := anonymizer("[R]", tt.terms...)
			assert.Equal(t, tt.want, a.Apply(tt.in))
		})
	}
}

func TestAnonymizer_DefaultMarker(t *testing.T) {
	o := domain.DefaultOptions()
	o.AnonymizeTerms = []string{"secret"}
	assert.Equal(t, "top [REDACTED] plan", NewAnonymizer(o).Apply("top secret plan"))
}

func TestAnonymizer_IsTerm(t *testing.T) {
	a := anonymizer("", "stc", "sic")
	assert.True(t, a.IsTerm(" STC "))
	assert.False(t, a.IsTerm("stc logo"))
	assert.True(t, anonymizer("").Empty())
}
