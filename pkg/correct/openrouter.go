package correct

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
)

// OpenRouterBackend calls OpenRouter's chat completions endpoint with
// streaming always enabled, grounded on the original source's
// _call_openrouter: raw SSE `data: ` line parsing, decoding each frame
// with a fast JSON decoder since this is the one hot path in the module
// that decodes one small JSON object per network round-trip.
type OpenRouterBackend struct {
	apiKey string
	model  string
}

func NewOpenRouterBackend(apiKey, model string) *OpenRouterBackend {
	if model == "" {
		model = "openrouter/auto"
	}
	return &OpenRouterBackend{apiKey: apiKey, model: model}
}

func (b *OpenRouterBackend) Name() string { return "openrouter" }

type openRouterFrame struct {
	Error   json.RawMessage    `json:"error"`
	Choices []openRouterChoice `json:"choices"`
}

type openRouterChoice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
}

func (b *OpenRouterBackend) Invoke(ctx context.Context, systemPrompt, userPrompt string, onDelta func(string)) (string, error) {
	payload := map[string]interface{}{
		"model": b.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"temperature": 0.3,
		"max_tokens":  2000,
		"stream":      true,
	}
	body, err := sonic.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "https://openrouter.ai/api/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("openrouter error (status %d): %s", resp.StatusCode, respBody)
	}

	var collected strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data: ") {
			continue
		}
		raw := line[len("data: "):]
		if raw == "[DONE]" {
			break
		}

		var frame openRouterFrame
		if err := sonic.UnmarshalString(raw, &frame); err != nil {
			continue
		}
		if len(frame.Error) > 0 {
			break
		}
		if len(frame.Choices) == 0 {
			continue
		}
		content := frame.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		collected.WriteString(content)
		if onDelta != nil {
			onDelta(content)
		}
	}
	if err := scanner.Err(); err != nil && collected.Len() == 0 {
		return "", err
	}
	return collected.String(), nil
}
