// Package stt defines the capability interface for transcription backends.
package stt

import "context"

// Result is the answer for one audio segment.
type Result struct {
	Text       string
	Confidence float64
}

// Provider turns raw audio bytes into text. Implementations exist for each
// configured backend (mock, openai, google); the dispatcher selects among
// them by explicit ordered configuration. Implementations must honor ctx
// cancellation and deadlines.
type Provider interface {
	// Name identifies the backend in logs, metrics and results.
	Name() string

	// Transcribe converts one audio segment to text. format is a codec hint
	// such as "pcm16" or "wav".
	Transcribe(ctx context.Context, audio []byte, format string) (Result, error)
}

// InterimTranscriber is an optional extension for backends able to surface
// interim hypotheses before the final result. onInterim may be called zero
// or more times before Transcribe-style completion; interim delivery is best
// effort and does not affect ordering.
type InterimTranscriber interface {
	TranscribeWithInterim(ctx context.Context, audio []byte, format string, onInterim func(Result)) (Result, error)
}
