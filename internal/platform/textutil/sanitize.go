package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const defaultMaxRunes = 2000

// Sanitizer reduces free-form input such as cancellation reasons and notes
// to plain text.
type Sanitizer struct {
	policy   *bluemonday.Policy
	maxRunes int
}

// NewSanitizer builds a sanitizer that strips all markup. maxRunes <= 0
// selects the default limit.
func NewSanitizer(maxRunes int) *Sanitizer {
	if maxRunes <= 0 {
		maxRunes = defaultMaxRunes
	}
	return &Sanitizer{policy: bluemonday.StrictPolicy(), maxRunes: maxRunes}
}

// Sanitize removes tags, collapses whitespace and truncates to the limit.
func (s *Sanitizer) Sanitize(input string) string {
	if s == nil {
		return strings.TrimSpace(input)
	}
	cleaned := html.UnescapeString(s.policy.Sanitize(input))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if utf8.RuneCountInString(cleaned) > s.maxRunes {
		cleaned = string([]rune(cleaned)[:s.maxRunes])
	}
	return cleaned
}
