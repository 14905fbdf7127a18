package transcript

import (
	"strings"
	"unicode"
)

// EndTokenMarker is the literal end-of-turn marker the upstream recognizer
// appends to the last token of an utterance. It never belongs in a transcript.
const EndTokenMarker = "<end>"

// Token is a finalized or provisional sub-word unit from the upstream
// speech recognizer. Timestamps are milliseconds from session start.
type Token struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	StartMs int    `json:"start_ms"`
	EndMs   int    `json:"end_ms"`
}

// Word is a merged whole word with second-resolution timestamps.
type Word struct {
	Word      string  `json:"word"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

// CleanText strips the end-of-turn marker from a token or transcript delta.
func CleanText(s string) string {
	return strings.ReplaceAll(s, EndTokenMarker, "")
}

// MergeTokens merges an ordered sequence of finalized sub-word tokens into
// whole words. A token whose text begins with whitespace starts a new word;
// other tokens extend the word in progress. Tokens that are empty after the
// end-of-turn marker is stripped are discarded. The merge is pure and
// deterministic: calling it with the full token history always yields the
// same words as a single pass.
func MergeTokens(tokens []Token) []Word {
	words := make([]Word, 0, len(tokens))

	var (
		builder strings.Builder
		startMs int
		endMs   int
	)

	flush := func() {
		if builder.Len() == 0 {
			return
		}
		words = append(words, Word{
			Word:      builder.String(),
			StartTime: float64(startMs) / 1000.0,
			EndTime:   float64(endMs) / 1000.0,
		})
		builder.Reset()
	}

	for _, tok := range tokens {
		text := CleanText(tok.Text)
		if text == "" {
			continue
		}

		boundary := startsWithSpace(text)
		if boundary {
			flush()
			text = strings.TrimLeftFunc(text, unicode.IsSpace)
			if text == "" {
				continue
			}
		}

		if builder.Len() == 0 {
			startMs = tok.StartMs
		}
		builder.WriteString(text)
		endMs = tok.EndMs
	}
	flush()

	return words
}

func startsWithSpace(s string) bool {
	for _, r := range s {
		return unicode.IsSpace(r)
	}
	return false
}
