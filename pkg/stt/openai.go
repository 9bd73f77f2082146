package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/lokutor-ai/dictation-engine/pkg/audio"
	"github.com/lokutor-ai/dictation-engine/pkg/types"
)

// OpenAIProvider does a multipart Whisper upload, wrapped in the
// never-error provider contract.
type OpenAIProvider struct {
	apiKey string
	model  string
	url    string
}

func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAIProvider{apiKey: apiKey, model: model, url: "https://api.openai.com/v1/audio/transcriptions"}
}

func (p *OpenAIProvider) Name() string      { return "openai" }
func (p *OpenAIProvider) Initialize() error { return nil }
func (p *OpenAIProvider) Shutdown() error   { return nil }

func (p *OpenAIProvider) Transcribe(ctx context.Context, samples []float32, sampleRate int, deviceID string) types.TranscriptionResult {
	return timeTranscribe(p.Name(), deviceID, func() (string, float64, error) {
		wavData := audio.EncodeWAV(samples, sampleRate)

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		if err := writer.WriteField("model", p.model); err != nil {
			return "", 0, err
		}
		part, err := writer.CreateFormFile("file", "audio.wav")
		if err != nil {
			return "", 0, err
		}
		if _, err := part.Write(wavData); err != nil {
			return "", 0, err
		}
		if err := writer.Close(); err != nil {
			return "", 0, err
		}

		req, err := http.NewRequestWithContext(ctx, "POST", p.url, body)
		if err != nil {
			return "", 0, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return "", 0, errStatus(resp.StatusCode)
		}

		var result struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return "", 0, err
		}
		return result.Text, 0, nil
	})
}
