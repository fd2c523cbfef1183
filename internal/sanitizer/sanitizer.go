// Package sanitizer escapes script text before it is sent to the
// synthesis service.
package sanitizer

import "strings"

// escaper lists replacements in their fixed order. strings.Replacer makes
// a single pass, so each special character is escaped exactly once and an
// entity produced for a quote is never escaped again.
var escaper = strings.NewReplacer(
	`"`, "&quot;",
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&apos;",
	"\n", "",
)

// Sanitize escapes markup characters and strips newlines. It is not
// idempotent: sanitize each chunk exactly once.
func Sanitize(chunk string) string {
	return escaper.Replace(chunk)
}
