package correct

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lokutor-ai/dictation-engine/pkg/router"
	"github.com/lokutor-ai/dictation-engine/pkg/types"
)

type mockBackend struct {
	name    string
	text    string
	err     error
	deltas  []string
	invoked int
}

func (m *mockBackend) Name() string { return m.name }

func (m *mockBackend) Invoke(_ context.Context, _, _ string, onDelta func(string)) (string, error) {
	m.invoked++
	if m.err != nil {
		return "", m.err
	}
	if onDelta != nil {
		for _, d := range m.deltas {
			onDelta(d)
		}
	}
	return m.text, nil
}

func testBackends() []router.Backend {
	return []router.Backend{
		{Name: "groq", CredentialField: "groq_api_key", NominalLatencyMS: 400, Priority: 2},
		{Name: "gemini", CredentialField: "gemini_api_key", NominalLatencyMS: 700, Priority: 1},
	}
}

func TestBuildPromptDedupAndSections(t *testing.T) {
	results := []types.TranscriptionResult{
		{Text: "hello world", ProviderID: "pa", DeviceID: "d1"},
		{Text: "Hello World", ProviderID: "pb", DeviceID: "d1"}, // same normalization, dropped
		{Text: "hello there", ProviderID: "pa", DeviceID: "d2"},
	}
	appCtx := &types.AppContext{AppName: "Notes", WindowTitle: "Untitled", Rigor: types.RigorHigh}

	prompt := buildPrompt(results, appCtx, "")
	assert.Contains(t, prompt, "Active application: Notes")
	assert.Contains(t, prompt, "Window: Untitled")
	assert.Contains(t, prompt, "Style: formal (strict grammar)")
	assert.Contains(t, prompt, "[pa/d1]: hello world")
	assert.Contains(t, prompt, "[pa/d2]: hello there")
	assert.NotContains(t, prompt, "[pb/d1]")
}

func TestCorrectFallsBackOnEmptyText(t *testing.T) {
	r := router.New(testBackends(), map[string]string{"groq_api_key": "g", "gemini_api_key": "m"})
	groq := &mockBackend{name: "groq", text: ""}
	gemini := &mockBackend{name: "gemini", text: "Corrected text."}
	client := NewClient(r, groq, gemini)

	results := []types.TranscriptionResult{{Text: "testing one two three", ProviderID: "pa", DeviceID: "d1"}}
	text := client.Correct(context.Background(), results, nil, "", "", "", nil)

	assert.Equal(t, "Corrected text.", text)
	assert.Equal(t, 1, groq.invoked)
	assert.Equal(t, 1, gemini.invoked)
}

func TestCorrectReturnsEmptyWhenAllFail(t *testing.T) {
	r := router.New(testBackends(), map[string]string{"groq_api_key": "g", "gemini_api_key": "m"})
	groq := &mockBackend{name: "groq", text: ""}
	gemini := &mockBackend{name: "gemini", text: ""}
	client := NewClient(r, groq, gemini)

	results := []types.TranscriptionResult{{Text: "hello", ProviderID: "pa", DeviceID: "d1"}}
	text := client.Correct(context.Background(), results, nil, "", "", "", nil)
	assert.Equal(t, "", text)
}

func TestCorrectStreamingDeltasConcatenateToFinalText(t *testing.T) {
	r := router.New(testBackends(), map[string]string{"groq_api_key": "g"})
	groq := &mockBackend{name: "groq", text: "Hello there.", deltas: []string{"Hello ", "there", "."}}
	client := NewClient(r, groq)

	var got string
	results := []types.TranscriptionResult{{Text: "hello there", ProviderID: "pa", DeviceID: "d1"}}
	text := client.Correct(context.Background(), results, nil, "", "", "", func(frag string) {
		got += frag
	})
	assert.Equal(t, text, got)
}

func TestEditSelectionFallsBackToOriginalOnFailure(t *testing.T) {
	r := router.New(testBackends(), map[string]string{"groq_api_key": "g"})
	groq := &mockBackend{name: "groq", text: ""}
	client := NewClient(r, groq)

	got := client.EditSelection(context.Background(), "original text", "make it formal", "")
	assert.Equal(t, "original text", got)
}

func TestEditSelectionUsesEditedText(t *testing.T) {
	r := router.New(testBackends(), map[string]string{"gemini_api_key": "m"})
	gemini := &mockBackend{name: "gemini", text: "Edited text."}
	client := NewClient(r, gemini)

	got := client.EditSelection(context.Background(), "original text", "make it formal", "")
	assert.Equal(t, "Edited text.", got)
}
