// Package chunker splits long scripts into word-boundary chunks small
// enough for a single synthesis request.
package chunker

import (
	"iter"
	"slices"
	"strings"
	"unicode/utf8"

	"speaker-notes-go/internal/types"
)

// DefaultMaxLength keeps each synthesis request well under the service limit.
const DefaultMaxLength = 400

// Chunks yields the chunks of text lazily. Ranging over the returned
// sequence again starts over from the beginning.
//
// A chunk normally ends at the last space inside its window and that space
// is dropped. When the window holds no usable space the chunk is cut hard at
// maxLength, moved back to the nearest rune boundary, and no character is
// dropped. The final chunk always covers the
// remainder, even when it is empty.
func Chunks(text string, maxLength int) iter.Seq[types.Chunk] {
	if maxLength < 1 {
		maxLength = 1
	}
	return func(yield func(types.Chunk) bool) {
		start, index := 0, 0
		for start+maxLength < len(text) {
			window := text[start : start+maxLength+1]
			split := strings.LastIndexByte(window, ' ')
			next := start + split + 1
			if split <= 0 {
				split = hardCut(text[start:], maxLength)
				next = start + split
			}
			if !yield(types.Chunk{Index: index, Offset: start, Text: text[start : start+split]}) {
				return
			}
			start = next
			index++
		}
		yield(types.Chunk{Index: index, Offset: start, Text: text[start:]})
	}
}

// hardCut returns the longest prefix length of s not above maxLength that
// ends on a rune boundary. When the first rune alone is longer than
// maxLength the whole rune is taken so the cut always advances.
func hardCut(s string, maxLength int) int {
	cut := maxLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut > 0 {
		return cut
	}
	_, size := utf8.DecodeRuneInString(s)
	return size
}

// Split collects Chunks into a slice.
func Split(text string, maxLength int) []types.Chunk {
	return slices.Collect(Chunks(text, maxLength))
}

// Join rebuilds the source text, restoring the space consumed between
// chunks that were split on a word boundary.
func Join(chunks []types.Chunk) string {
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 && c.Offset == chunks[i-1].End()+1 {
			b.WriteByte(' ')
		}
		b.WriteString(c.Text)
	}
	return b.String()
}
