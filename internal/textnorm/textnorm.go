// Package textnorm folds free-form user text into the token form the
// classifier is trained on. Training patterns and live input must both go
// through Normalize.
package textnorm

import "strings"

// Normalize replaces every rune that is not an ASCII letter or an apostrophe
// with a space, lowercases the result and collapses whitespace.
func Normalize(raw string) string {
	return strings.Join(Tokens(raw), " ")
}

// Tokens returns the whitespace separated tokens of the normalized text.
func Tokens(raw string) []string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r == '\'':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}
