package stt

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultJunkPhrases lists transcripts that batch recognizers are known to
// hallucinate on silence or noise-only audio. Recognized text matching any of
// these must be coerced into no event at all, never a false-positive
// transcript.
var DefaultJunkPhrases = []string{
	"Subtítulos realizados por la comunidad de Amara.org",
	"Subtitulado por la comunidad de Amara.org",
	"Subtítulos por la comunidad de Amara.org",
	"Thank you for watching",
	"Thanks for watching!",
	"you",
	"Bye.",
	"♪",
}

// JunkFilter suppresses empty transcripts and configured junk phrases.
//
// Matching is fuzzy: recognizers emit the same hallucination with varying
// punctuation and casing, so a phrase matches when its normalized form is
// within a small Levenshtein distance of a configured phrase. A JunkFilter is
// immutable after construction and safe for concurrent use.
type JunkFilter struct {
	phrases []string
}

// NewJunkFilter builds a filter from the given phrase list. A nil or empty
// list falls back to DefaultJunkPhrases.
func NewJunkFilter(phrases []string) *JunkFilter {
	if len(phrases) == 0 {
		phrases = DefaultJunkPhrases
	}
	norm := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if n := normalizePhrase(p); n != "" {
			norm = append(norm, n)
		}
	}
	return &JunkFilter{phrases: norm}
}

// Junk reports whether text should be suppressed: it is empty after
// trimming, or it fuzzily matches one of the configured junk phrases.
func (f *JunkFilter) Junk(text string) bool {
	n := normalizePhrase(text)
	if n == "" {
		return true
	}
	for _, p := range f.phrases {
		if n == p {
			return true
		}
		if matchr.Levenshtein(n, p) <= junkDistance(p) {
			return true
		}
	}
	return false
}

// junkDistance returns the maximum Levenshtein distance at which a transcript
// still counts as the given junk phrase. Short phrases must match almost
// exactly so that real one-word utterances are not swallowed.
func junkDistance(phrase string) int {
	d := len(phrase) / 10
	if d > 4 {
		d = 4
	}
	return d
}

// normalizePhrase lowercases, trims surrounding whitespace and sentence
// punctuation, and collapses internal whitespace runs.
func normalizePhrase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, ".!?¡¿ \t\r\n")
	return strings.Join(strings.Fields(s), " ")
}
