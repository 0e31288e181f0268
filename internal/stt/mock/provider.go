// Package mock provides a deterministic transcription provider for running
// without cloud credentials. It cycles through canned utterances and emits a
// progressive interim hypothesis before each final, which keeps the whole
// delivery path exercisable in tests and local development.
package mock

import (
	"context"
	"sync/atomic"

	"github.com/voicebridge/stream-service/internal/stt"
)

// SimulatedUtterance is one canned transcription.
type SimulatedUtterance struct {
	Interim    string
	Final      string
	Confidence float64
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{Interim: "I want to cancel", Final: "I want to cancel my subscription", Confidence: 0.94},
	{Interim: "Yes please", Final: "Yes please go ahead", Confidence: 0.97},
	{Interim: "Can you help", Final: "Can you help me with my account", Confidence: 0.91},
	{Interim: "I've been waiting", Final: "I've been waiting for over an hour", Confidence: 0.89},
	{Interim: "Thank you", Final: "Thank you very much", Confidence: 0.98},
}

// Provider implements stt.Provider with canned responses.
type Provider struct {
	utterances []SimulatedUtterance
	counter    atomic.Uint64
}

// New creates a mock provider cycling through DefaultUtterances.
func New() *Provider {
	return &Provider{utterances: DefaultUtterances}
}

// NewWithUtterances creates a mock provider with a fixed script.
func NewWithUtterances(utterances []SimulatedUtterance) *Provider {
	if len(utterances) == 0 {
		utterances = DefaultUtterances
	}
	return &Provider{utterances: utterances}
}

func (p *Provider) Name() string { return "mock" }

// Transcribe returns the next canned utterance.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, format string) (stt.Result, error) {
	return p.TranscribeWithInterim(ctx, audio, format, nil)
}

// TranscribeWithInterim emits the canned interim hypothesis first, then the
// final.
func (p *Provider) TranscribeWithInterim(ctx context.Context, audio []byte, format string, onInterim func(stt.Result)) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}
	n := p.counter.Add(1) - 1
	utt := p.utterances[int(n)%len(p.utterances)]

	if onInterim != nil && utt.Interim != "" {
		onInterim(stt.Result{Text: utt.Interim, Confidence: utt.Confidence * 0.6})
	}
	return stt.Result{Text: utt.Final, Confidence: utt.Confidence}, nil
}
