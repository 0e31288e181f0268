// Package openai provides a Whisper transcription provider backed by the
// OpenAI audio API.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"math"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/voicebridge/stream-service/internal/audio"
	"github.com/voicebridge/stream-service/internal/stt"
)

// Config holds the Whisper call parameters.
type Config struct {
	APIKey         string
	Model          string
	Language       string
	SampleRateHz   int
	Channels       int
	BytesPerSample int
}

// Provider implements stt.Provider against the OpenAI transcription endpoint.
type Provider struct {
	client *goopenai.Client
	cfg    Config
}

// New creates an OpenAI Whisper provider.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = goopenai.Whisper1
	}
	return &Provider{
		client: goopenai.NewClient(cfg.APIKey),
		cfg:    cfg,
	}, nil
}

func (p *Provider) Name() string { return "openai" }

// Transcribe uploads the segment and returns the transcribed text. Raw PCM
// segments are wrapped in a WAV container first; the endpoint rejects bare
// sample data.
func (p *Provider) Transcribe(ctx context.Context, audioBytes []byte, format string) (stt.Result, error) {
	payload := audioBytes
	name := "segment.wav"
	switch format {
	case "pcm16", "":
		wav, err := audio.EncodeWAV(audioBytes, p.cfg.SampleRateHz, p.cfg.Channels, p.cfg.BytesPerSample)
		if err != nil {
			return stt.Result{}, fmt.Errorf("openai: encode segment: %w", err)
		}
		payload = wav
	case "wav":
	default:
		name = "segment." + format
	}

	resp, err := p.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    p.cfg.Model,
		Reader:   bytes.NewReader(payload),
		FilePath: name,
		Language: shortLanguage(p.cfg.Language),
		Format:   goopenai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai: transcription failed: %w", err)
	}

	return stt.Result{
		Text:       resp.Text,
		Confidence: confidenceFromSegments(resp),
	}, nil
}

// confidenceFromSegments derives a [0,1] confidence from per-segment average
// log probabilities; the API has no direct confidence field.
func confidenceFromSegments(resp goopenai.AudioResponse) float64 {
	segments := resp.Segments
	if len(segments) == 0 {
		return 0.5
	}
	var sum float64
	for _, s := range segments {
		sum += math.Exp(float64(s.AvgLogprob))
	}
	c := sum / float64(len(segments))
	if c > 1 {
		c = 1
	}
	return c
}

// shortLanguage maps BCP-47 codes ("en-US") to the ISO-639-1 form the
// endpoint expects.
func shortLanguage(code string) string {
	if len(code) >= 2 {
		return code[:2]
	}
	return code
}
