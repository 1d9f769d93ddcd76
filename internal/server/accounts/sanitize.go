package accounts

import "regexp"

var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_\s@.\-]`)

// Sanitize strips every character outside letters, digits, underscore,
// whitespace, '@', '.' and '-'. It keeps key separators out of store keys.
func Sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "")
}
