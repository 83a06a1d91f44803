package conversation

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Fingerprint normalizes content for optimistic/confirmed matching: case
// folded, trimmed, inner whitespace collapsed to single spaces. It is not an
// identity and must not be used as a storage key.
func Fingerprint(content string) string {
	collapsed := strings.Join(strings.Fields(content), " ")
	return cases.Lower(language.Und).String(collapsed)
}
