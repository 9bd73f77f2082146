// Package consensus implements punctuation-insensitive agreement checking
// over heterogeneous transcripts, grounded on the original source's
// consensus.py: normalize, tally, and accept only clean, repeated,
// filler-free utterances.
package consensus

import (
	"regexp"
	"strings"

	"github.com/lokutor-ai/dictation-engine/pkg/types"
)

// fillerWords mirrors consensus.py's FILLER_WORDS set exactly; any of
// these present as a standalone token in the normalized text disqualifies
// the utterance from the consensus fast path.
var fillerWords = map[string]struct{}{
	"um": {}, "uh": {}, "er": {}, "like": {},
	"you know": {}, "i mean": {}, "sort of": {}, "kind of": {},
	"uhm": {}, "umm": {}, "hmm": {}, "hm": {}, "ah": {},
}

var nonWordChar = regexp.MustCompile(`[^a-z0-9\s]`)
var repeatedSpace = regexp.MustCompile(`\s+`)

// Normalize lowercases, strips non-alphanumeric/non-whitespace characters,
// collapses whitespace, and trims. Idempotent: Normalize(Normalize(s)) ==
// Normalize(s).
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = nonWordChar.ReplaceAllString(s, "")
	s = repeatedSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func wordCount(s string) int {
	if s == "" {
		return 0
	}
	return len(strings.Fields(s))
}

func containsFiller(normalized string) bool {
	for filler := range fillerWords {
		if matchesToken(normalized, filler) {
			return true
		}
	}
	return false
}

// matchesToken reports whether filler appears as a whitespace-delimited
// run within normalized (so "like" matches "i like apples" but "likely"
// does not, and multi-word fillers like "you know" match as a substring
// of the space-joined token stream).
func matchesToken(normalized, filler string) bool {
	tokens := strings.Fields(normalized)
	fillerTokens := strings.Fields(filler)
	if len(fillerTokens) == 1 {
		for _, t := range tokens {
			if t == fillerTokens[0] {
				return true
			}
		}
		return false
	}
	joined := " " + strings.Join(tokens, " ") + " "
	return strings.Contains(joined, " "+filler+" ")
}

// Check implements SPEC_FULL.md §4.3's decision procedure: normalize every
// result, tally normalizations, and if the top entry reaches threshold K,
// is no longer than maxWords, and contains no filler token, return the
// first original (punctuated) text whose normalization matches. Otherwise
// ok is false.
func Check(results []types.TranscriptionResult, threshold, maxWords int) (text string, ok bool) {
	counts := make(map[string]int)
	order := make([]string, 0, len(results))

	for _, r := range results {
		n := Normalize(r.Text)
		if n == "" {
			continue
		}
		if _, seen := counts[n]; !seen {
			order = append(order, n)
		}
		counts[n]++
	}

	var best string
	bestCount := 0
	for _, n := range order {
		if counts[n] > bestCount {
			best = n
			bestCount = counts[n]
		}
	}

	if bestCount == 0 || bestCount < threshold {
		return "", false
	}
	if wordCount(best) > maxWords {
		return "", false
	}
	if containsFiller(best) {
		return "", false
	}

	for _, r := range results {
		if Normalize(r.Text) == best {
			return r.Text, true
		}
	}
	return "", false
}
