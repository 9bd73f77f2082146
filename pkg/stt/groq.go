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

// GroqProvider does a multipart WAV upload to the Whisper transcription
// endpoint, wrapped in the never-error-to-the-caller provider contract: a
// failed call becomes an empty-text result instead of a propagated error.
type GroqProvider struct {
	apiKey string
	model  string
	url    string
}

func NewGroqProvider(apiKey, model string) *GroqProvider {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &GroqProvider{apiKey: apiKey, model: model, url: "https://api.groq.com/openai/v1/audio/transcriptions"}
}

func (p *GroqProvider) Name() string      { return "groq" }
func (p *GroqProvider) Initialize() error { return nil }
func (p *GroqProvider) Shutdown() error   { return nil }

func (p *GroqProvider) Transcribe(ctx context.Context, samples []float32, sampleRate int, deviceID string) types.TranscriptionResult {
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
		if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
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
