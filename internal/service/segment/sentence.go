// Package segment splits generated text into sentences for synthesis.
package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// IsTerminal reports whether r ends a sentence.
func IsTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// Split breaks text into ordered, trimmed, non-empty sentences.
//
// A sentence boundary is a terminal mark (. ! ?) followed by whitespace.
// Newlines inside a sentence become spaces. Text without a boundary comes
// back as a single sentence; empty or blank text yields nil.
func Split(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if !IsTerminal(r) || i >= len(text) {
			continue
		}
		next, _ := utf8.DecodeRuneInString(text[i:])
		if !unicode.IsSpace(next) {
			continue
		}
		out = appendSentence(out, text[start:i])
		for i < len(text) {
			r, size = utf8.DecodeRuneInString(text[i:])
			if !unicode.IsSpace(r) {
				break
			}
			i += size
		}
		start = i
	}
	return appendSentence(out, text[start:])
}

func appendSentence(out []string, fragment string) []string {
	s := strings.TrimSpace(newlines.Replace(fragment))
	if s == "" {
		return out
	}
	return append(out, s)
}
