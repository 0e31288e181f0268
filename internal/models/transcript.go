// Package models defines the data structures flowing through the
// transcription pipeline and over the client connection.
package models

import "time"

// AudioSegment is a bounded unit of audio cut from a session's inbound
// stream. Segments are immutable once emitted by the assembler and carry a
// strictly increasing per-session sequence number starting at 0.
type AudioSegment struct {
	SessionID  string    `json:"sessionId"`
	Sequence   uint64    `json:"sequence"`
	Payload    []byte    `json:"payload"`
	CapturedAt time.Time `json:"capturedAt"`
	Format     string    `json:"format"`
	Final      bool      `json:"final"` // remainder flushed on session close
}

// TranscriptionResult answers exactly one AudioSegment. Results for a session
// are delivered to the client in non-decreasing sequence order; an interim
// result (IsFinal=false) may be superseded by the final for the same
// sequence.
type TranscriptionResult struct {
	SessionID  string  `json:"sessionId"`
	Sequence   uint64  `json:"sequence"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"isFinal"`
	Provider   string  `json:"provider"`
	LatencyMs  int64   `json:"latencyMs"`
	// Error carries a failure marker ("all_providers_exhausted") when every
	// configured provider failed for this segment. Text is empty in that case.
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Failed reports whether the result is a failure marker rather than text.
func (r TranscriptionResult) Failed() bool {
	return r.Error != ""
}

// Attempt outcomes recorded by the dispatcher.
const (
	OutcomeSuccess = "success"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// ProviderAttempt is retry/fallback bookkeeping for a single provider call.
// Attempts live only in the dispatcher's bounded in-memory log.
type ProviderAttempt struct {
	AttemptID string `json:"attemptId"`
	SessionID string `json:"sessionId"`
	Sequence  uint64 `json:"sequence"`
	Provider  string `json:"provider"`
	Number    int    `json:"number"`
	Outcome   string `json:"outcome"`
	LatencyMs int64  `json:"latencyMs"`
}
