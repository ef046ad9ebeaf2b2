package transcribe

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/snarg/vidsearch/internal/segments"
)

// DefaultMaxGap is the silence that starts a new group when providers return
// one flat word list.
const DefaultMaxGap = 1500 * time.Millisecond

// GroupWords splits a flat provider word list into groups at pauses longer
// than maxGap. When fullText is provided, group text is sliced from it to keep
// punctuation that individual word tokens lack; otherwise tokens are joined.
func GroupWords(words []Word, fullText string, maxGap time.Duration) []segments.Group {
	if len(words) == 0 {
		return nil
	}
	if maxGap <= 0 {
		maxGap = DefaultMaxGap
	}

	// Boundaries: index of the first word of each group.
	starts := []int{0}
	for i := 1; i < len(words); i++ {
		if segments.Seconds(words[i].Start-words[i-1].End) > maxGap {
			starts = append(starts, i)
		}
	}

	var positions []int
	if fullText != "" {
		positions = mapWordPositions(words, fullText)
	}

	groups := make([]segments.Group, len(starts))
	for gi, first := range starts {
		last := len(words)
		if gi+1 < len(starts) {
			last = starts[gi+1]
		}

		g := segments.Group{Words: make([]segments.Word, 0, last-first)}
		tokens := make([]string, 0, last-first)
		for _, w := range words[first:last] {
			tok := strings.TrimSpace(w.Word)
			tokens = append(tokens, tok)
			g.Words = append(g.Words, segments.Word{
				Text:  tok,
				Start: segments.Seconds(w.Start),
				End:   segments.Seconds(w.End),
			})
		}

		if positions != nil {
			textEnd := len(fullText)
			if gi+1 < len(starts) {
				textEnd = positions[starts[gi+1]]
			}
			g.Transcript = strings.TrimSpace(fullText[positions[first]:textEnd])
		} else {
			g.Transcript = strings.Join(tokens, " ")
		}
		groups[gi] = g
	}
	return groups
}

// mapWordPositions maps each word token to its byte offset in fullText by
// scanning forward case-insensitively. Each word is matched once, advancing
// past previous matches so repeated words land in order. Offsets are always
// rune boundaries of fullText itself; case mapping can change byte lengths, so
// fullText is never lowered first.
func mapWordPositions(words []Word, fullText string) []int {
	positions := make([]int, len(words))
	searchFrom := 0

	for i, w := range words {
		tok := strings.TrimSpace(w.Word)
		positions[i] = searchFrom
		if tok == "" {
			continue
		}
		for at := searchFrom; at < len(fullText); {
			if n, ok := foldPrefix(fullText[at:], tok); ok {
				positions[i] = at
				searchFrom = at + n
				break
			}
			_, size := utf8.DecodeRuneInString(fullText[at:])
			at += size
		}
	}
	return positions
}

// foldPrefix reports whether s starts with word under Unicode case folding,
// and how many bytes of s the match covers.
func foldPrefix(s, word string) (int, bool) {
	n := 0
	for _, wr := range word {
		if n >= len(s) {
			return 0, false
		}
		sr, size := utf8.DecodeRuneInString(s[n:])
		if sr != wr && !strings.EqualFold(string(sr), string(wr)) {
			return 0, false
		}
		n += size
	}
	return n, true
}
