package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/lokutor-ai/dictation-engine/pkg/audio"
	"github.com/lokutor-ai/dictation-engine/pkg/types"
)

// DeepgramProvider sends a WAV body (Deepgram auto-detects the container)
// to the query-parameter prerecorded endpoint, wrapped in the never-error
// provider contract.
type DeepgramProvider struct {
	apiKey string
	url    string
}

func NewDeepgramProvider(apiKey string) *DeepgramProvider {
	return &DeepgramProvider{apiKey: apiKey, url: "https://api.deepgram.com/v1/listen"}
}

func (p *DeepgramProvider) Name() string      { return "deepgram" }
func (p *DeepgramProvider) Initialize() error { return nil }
func (p *DeepgramProvider) Shutdown() error   { return nil }

func (p *DeepgramProvider) Transcribe(ctx context.Context, samples []float32, sampleRate int, deviceID string) types.TranscriptionResult {
	return timeTranscribe(p.Name(), deviceID, func() (string, float64, error) {
		u, err := url.Parse(p.url)
		if err != nil {
			return "", 0, err
		}
		q := u.Query()
		q.Set("model", "nova-2")
		q.Set("smart_format", "true")
		u.RawQuery = q.Encode()

		wavData := audio.EncodeWAV(samples, sampleRate)
		req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(wavData))
		if err != nil {
			return "", 0, err
		}
		req.Header.Set("Authorization", "Token "+p.apiKey)
		req.Header.Set("Content-Type", "audio/wav")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", 0, errStatus(resp.StatusCode)
		}

		var result struct {
			Results struct {
				Channels []struct {
					Alternatives []struct {
						Transcript string  `json:"transcript"`
						Confidence float64 `json:"confidence"`
					} `json:"alternatives"`
				} `json:"channels"`
			} `json:"results"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return "", 0, err
		}
		if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
			return "", 0, nil
		}
		alt := result.Results.Channels[0].Alternatives[0]
		return alt.Transcript, alt.Confidence, nil
	})
}
