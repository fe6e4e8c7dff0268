package webhook

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		name  string
		value string
		limit int
		want  string
	}{
		{"short", "sem erro", 16, "sem erro"},
		{"ascii", "invalid_metadata", 7, "invalid"},
		{"multibyte boundary", "afiliado inválido", 11, "afiliado in"},
		{"inside multibyte", "afiliado inválido", 12, "afiliado inv"},
		{"split accent", "afiliado inválido", 13, "afiliado inv"},
		{"emoji", "🚌🚌", 5, "🚌"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.value, tt.limit)
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("expected valid utf-8, got %q", got)
			}
		})
	}
}

func TestTruncateLongErrorStaysValid(t *testing.T) {
	value := strings.Repeat("ç", maxStoredErrorLength)
	got := truncate(value, maxStoredErrorLength)
	if len(got) > maxStoredErrorLength || !utf8.ValidString(got) {
		t.Fatalf("expected at most %d valid bytes, got %d", maxStoredErrorLength, len(got))
	}
}
