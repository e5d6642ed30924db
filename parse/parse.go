// Package parse extracts username mentions from free text.
package parse

import (
	"iter"
	"strings"
)

// Marker is the prefix that identifies a mention token.
const Marker = "/u/"

// punctuation is the ASCII punctuation set a username can be terminated by.
const punctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// Tokens yields every whitespace-delimited word of text that starts with
// Marker, in left-to-right order. The sequence can be ranged over any number
// of times and always produces the same tokens.
func Tokens(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for word := range strings.FieldsSeq(text) {
			if !strings.HasPrefix(word, Marker) {
				continue
			}
			if !yield(word) {
				return
			}
		}
	}
}

// Username strips the marker from token and cuts the remainder at the first
// punctuation character. Underscores never terminate a name; hyphens don't
// either when allowHyphen is set. A token without the marker is scanned as-is,
// so an already-normalized name is returned unchanged.
//
// The result may be empty (for example "/u/" or "/u/."), which callers treat as
// no match.
func Username(token string, allowHyphen bool) string {
	name := strings.TrimPrefix(token, Marker)
	for i, r := range name {
		if isTerminator(r, allowHyphen) {
			return name[:i]
		}
	}
	return name
}

func isTerminator(r rune, allowHyphen bool) bool {
	if r == '_' || (allowHyphen && r == '-') {
		return false
	}
	return strings.ContainsRune(punctuation, r)
}
