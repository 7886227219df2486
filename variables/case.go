package variables

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CamelCase turns a user-facing variable name ("Customer name", "user_ID",
// "input 2") into an identifier ("customerName", "userId", "input2").
func CamelCase(name string) string {
	words := splitWords(name)
	if len(words) == 0 {
		return ""
	}

	// Casers are stateful; one per call
	lower := cases.Lower(language.Und)
	title := cases.Title(language.Und)

	var b strings.Builder
	for i, word := range words {
		if i == 0 {
			b.WriteString(lower.String(word))
		} else {
			b.WriteString(title.String(word))
		}
	}
	return b.String()
}

// splitWords breaks s on non-alphanumerics, lower-to-upper transitions,
// the end of an acronym ("XMLHttp" -> "XML", "Http") and letter/digit changes.
func splitWords(s string) []string {
	runes := []rune(s)
	words := make([]string, 0, 4)
	current := make([]rune, 0, len(runes))

	flush := func() {
		if len(current) > 0 {
			words = append(words, string(current))
			current = current[:0]
		}
	}

	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(current) > 0 {
			prev := current[len(current)-1]
			switch {
			case unicode.IsLower(prev) && unicode.IsUpper(r):
				flush()
			case unicode.IsUpper(prev) && unicode.IsUpper(r) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
				flush()
			case unicode.IsDigit(prev) != unicode.IsDigit(r):
				flush()
			}
		}
		current = append(current, r)
	}
	flush()

	return words
}
