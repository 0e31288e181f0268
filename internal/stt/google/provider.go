// Package google provides a Google Cloud Speech-to-Text provider.
package google

import (
	"context"
	"fmt"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "google.golang.org/genproto/googleapis/cloud/speech/v1"

	"github.com/voicebridge/stream-service/internal/stt"
)

// Config holds the recognition parameters.
type Config struct {
	LanguageCode string
	SampleRateHz int
}

// Provider implements stt.Provider using Google Cloud Speech-to-Text.
// Segments are bounded (a few hundred milliseconds), so the unary Recognize
// call is used rather than a streaming session per segment.
type Provider struct {
	client *speech.Client
	cfg    Config
}

// New creates a Google STT provider.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	if cfg.SampleRateHz == 0 {
		cfg.SampleRateHz = 16000
	}
	return &Provider{client: c, cfg: cfg}, nil
}

func (p *Provider) Name() string { return "google" }

// Transcribe runs one synchronous recognition call for the segment and
// returns the top alternative.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, format string) (stt.Result, error) {
	resp, err := p.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			// LINEAR16 covers both raw PCM and WAV; the API tolerates the
			// RIFF container.
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: int32(p.cfg.SampleRateHz),
			LanguageCode:    p.cfg.LanguageCode,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return stt.Result{}, fmt.Errorf("google: recognize failed: %w", err)
	}

	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]
		return stt.Result{
			Text:       alt.Transcript,
			Confidence: float64(alt.Confidence),
		}, nil
	}
	// No speech recognized is a valid empty result, not an error.
	return stt.Result{Text: "", Confidence: 0}, nil
}

// Close releases the underlying client connection.
func (p *Provider) Close() error {
	return p.client.Close()
}
