package correct

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// GeminiBackend calls Gemini's generateContent endpoint directly, folding
// system and user prompts into a single turn the way the original
// source's _call_gemini_direct does, rather than a multi-message history.
type GeminiBackend struct {
	apiKey string
	model  string
}

func NewGeminiBackend(apiKey, model string) *GeminiBackend {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiBackend{apiKey: apiKey, model: model}
}

func (b *GeminiBackend) Name() string { return "gemini" }

func (b *GeminiBackend) Invoke(ctx context.Context, systemPrompt, userPrompt string, onDelta func(string)) (string, error) {
	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", b.model, b.apiKey)

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"role": "user",
				"parts": []map[string]string{
					{"text": systemPrompt + "\n\n" + userPrompt},
				},
			},
		},
		"generationConfig": map[string]interface{}{
			"temperature":     0.3,
			"maxOutputTokens": 2000,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("gemini correction error (status %d): %s", resp.StatusCode, respBody)
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	text := result.Candidates[0].Content.Parts[0].Text
	// Gemini's generateContent is non-streaming; if the caller asked for
	// deltas, the single fragment still satisfies the streaming contract
	// (one non-empty fragment whose concatenation equals the final text).
	if onDelta != nil && text != "" {
		onDelta(text)
	}
	return text, nil
}
