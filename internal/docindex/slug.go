package docindex

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var lower = cases.Lower(language.Und)

// Slug turns an id and title into a file-name stem: lower case, with every
// run of whitespace or punctuation collapsed to one hyphen and no hyphen at
// either end.
func Slug(id, title string) string {
	s := lower.String(strings.TrimSpace(id + " " + title))
	var sb strings.Builder
	pending := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r) {
			if pending && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			pending = false
			sb.WriteRune(r)
			continue
		}
		pending = true
	}
	if sb.Len() == 0 {
		return "untitled"
	}
	return sb.String()
}
