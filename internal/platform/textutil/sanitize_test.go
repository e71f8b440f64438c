package textutil

import "testing"

func TestSanitizerStripsMarkup(t *testing.T) {
	s := NewSanitizer(0)

	cases := map[string]string{
		"  customer <b>changed</b> mind ":     "customer changed mind",
		"<script>alert(1)</script>duplicate": "duplicate",
		"fish & chips":                       "fish & chips",
		"line\n\tbreaks":                     "line breaks",
	}
	for input, want := range cases {
		if got := s.Sanitize(input); got != want {
			t.Fatalf("Sanitize(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestSanitizerTruncates(t *testing.T) {
	s := NewSanitizer(5)
	if got := s.Sanitize("注文をキャンセルします"); got != "注文をキャ" {
		t.Fatalf("expected 5 runes, got %q", got)
	}
}

func TestNilSanitizerTrims(t *testing.T) {
	var s *Sanitizer
	if got := s.Sanitize("  note "); got != "note" {
		t.Fatalf("expected trimmed note, got %q", got)
	}
}
