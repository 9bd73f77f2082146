package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/lokutor-ai/dictation-engine/pkg/types"
)

func TestNormalizeIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		n := Normalize(s)
		assert.Equal(t, n, Normalize(n))
	})
}

func TestCheckConsensusFastPath(t *testing.T) {
	// S1 from SPEC_FULL.md §8.
	results := []types.TranscriptionResult{
		{Text: "Hello, world.", ProviderID: "pa", DeviceID: "d1"},
		{Text: "hello world", ProviderID: "pb", DeviceID: "d1"},
		{Text: "Hello world", ProviderID: "pa", DeviceID: "d2"},
		{Text: "Hello world!", ProviderID: "pb", DeviceID: "d2"},
	}
	text, ok := Check(results, 2, 10)
	assert.True(t, ok)
	assert.Equal(t, "Hello, world.", text)
}

func TestCheckNoConsensusOnFillers(t *testing.T) {
	// S2 from SPEC_FULL.md §8.
	results := []types.TranscriptionResult{
		{Text: "testing um one two three", ProviderID: "pa", DeviceID: "d1"},
		{Text: "testing one two three", ProviderID: "pb", DeviceID: "d1"},
		{Text: "one two three testing", ProviderID: "pa", DeviceID: "d2"},
	}
	_, ok := Check(results, 2, 10)
	assert.False(t, ok)
}

func TestCheckBoundaryExactThreshold(t *testing.T) {
	results := []types.TranscriptionResult{
		{Text: "ship it"}, {Text: "ship it"},
	}
	_, ok := Check(results, 2, 10)
	assert.True(t, ok)

	oneFewer := results[:1]
	_, ok = Check(oneFewer, 2, 10)
	assert.False(t, ok)
}

func TestCheckBoundaryMaxWords(t *testing.T) {
	exact := "one two three four five six seven eight nine ten"
	results := []types.TranscriptionResult{{Text: exact}, {Text: exact}}
	_, ok := Check(results, 2, 10)
	assert.True(t, ok)

	oneMore := exact + " eleven"
	results = []types.TranscriptionResult{{Text: oneMore}, {Text: oneMore}}
	_, ok = Check(results, 2, 10)
	assert.False(t, ok)
}

func TestCheckEmptyResults(t *testing.T) {
	_, ok := Check(nil, 1, 10)
	assert.False(t, ok)
}

func TestCheckInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		gen := rapid.SliceOfN(rapid.SampledFrom([]string{"hello there", "hello there!", "goodbye now", ""}), 1, 6)
		texts := gen.Draw(t, "texts")
		results := make([]types.TranscriptionResult, len(texts))
		for i, txt := range texts {
			results[i] = types.TranscriptionResult{Text: txt, ProviderID: "p"}
		}
		threshold := rapid.IntRange(1, 4).Draw(t, "threshold")
		maxWords := rapid.IntRange(0, 5).Draw(t, "maxWords")

		text, ok := Check(results, threshold, maxWords)
		if !ok {
			return
		}
		n := Normalize(text)
		matches := 0
		for _, r := range results {
			if Normalize(r.Text) == n {
				matches++
			}
		}
		assert.GreaterOrEqual(t, matches, threshold)
		assert.LessOrEqual(t, wordCount(n), maxWords)
	})
}
