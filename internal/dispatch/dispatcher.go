// Package dispatch routes audio segments to transcription providers with
// retry and ordered fallback.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voicebridge/stream-service/internal/models"
	"github.com/voicebridge/stream-service/internal/observability/logging"
	"github.com/voicebridge/stream-service/internal/observability/metrics"
	"github.com/voicebridge/stream-service/internal/stt"
)

// ErrAllProvidersExhausted reports that every configured provider failed for
// a segment.
var ErrAllProvidersExhausted = errors.New("all transcription providers exhausted")

// ExhaustedMarker is the failure marker carried by the result emitted in
// place of a transcription when all providers fail.
const ExhaustedMarker = "all_providers_exhausted"

// Config bounds provider calls.
type Config struct {
	// AttemptTimeout caps a single provider call.
	AttemptTimeout time.Duration
	// RetriesPerProvider is the number of additional attempts against the
	// same provider after an explicit error. A timed-out provider is not
	// retried; retrying it would double the worst-case latency, so dispatch
	// falls through to the next provider instead.
	RetriesPerProvider int
	// AttemptLogSize bounds the in-memory attempt ring.
	AttemptLogSize int
}

// DefaultConfig returns the dispatch defaults.
func DefaultConfig() Config {
	return Config{
		AttemptTimeout:     5 * time.Second,
		RetriesPerProvider: 1,
		AttemptLogSize:     256,
	}
}

// ProviderStats summarizes recent outcomes for one provider.
type ProviderStats struct {
	Provider  string  `json:"provider"`
	Attempts  uint64  `json:"attempts"`
	Errors    uint64  `json:"errors"`
	ErrorRate float64 `json:"errorRate"`
}

// Dispatcher selects a provider per segment and applies the retry/fallback
// policy. It is safe for concurrent use; per-session concurrency is bounded
// by the session's own in-flight cap, not here.
type Dispatcher struct {
	providers []stt.Provider
	cfg       Config
	metrics   *metrics.Metrics
	log       zerolog.Logger

	mu       sync.Mutex
	attempts []models.ProviderAttempt // ring, newest last
	counts   map[string]*counter
}

type counter struct {
	attempts uint64
	errors   uint64
}

// New creates a dispatcher over the given ordered providers.
func New(providers []stt.Provider, cfg Config) *Dispatcher {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultConfig().AttemptTimeout
	}
	if cfg.AttemptLogSize <= 0 {
		cfg.AttemptLogSize = DefaultConfig().AttemptLogSize
	}
	return &Dispatcher{
		providers: providers,
		cfg:       cfg,
		metrics:   metrics.DefaultMetrics,
		log:       logging.WithComponent("dispatcher"),
		counts:    make(map[string]*counter),
	}
}

// Dispatch transcribes one segment. It is synchronous: the result returns to
// the caller once a provider succeeds or every provider is exhausted. A
// failed segment still yields exactly one final result carrying the
// ExhaustedMarker; segments are never silently dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, seg models.AudioSegment) models.TranscriptionResult {
	return d.DispatchWithInterim(ctx, seg, nil)
}

// DispatchWithInterim behaves like Dispatch and additionally forwards interim
// hypotheses from providers that support them. Interim results do not advance
// ordering; they are marked IsFinal=false.
func (d *Dispatcher) DispatchWithInterim(ctx context.Context, seg models.AudioSegment, onInterim func(models.TranscriptionResult)) models.TranscriptionResult {
	started := time.Now()

	for _, p := range d.providers {
		attempts := 1 + d.cfg.RetriesPerProvider
		for n := 1; n <= attempts; n++ {
			if ctx.Err() != nil {
				return d.exhausted(seg, started)
			}

			res, outcome, latency := d.attempt(ctx, p, seg, n, onInterim)
			if outcome == models.OutcomeSuccess {
				return models.TranscriptionResult{
					SessionID:  seg.SessionID,
					Sequence:   seg.Sequence,
					Text:       res.Text,
					Confidence: res.Confidence,
					IsFinal:    true,
					Provider:   p.Name(),
					LatencyMs:  latency.Milliseconds(),
					Timestamp:  time.Now().UnixMilli(),
				}
			}
			if outcome == models.OutcomeTimeout {
				// Slow provider: fall through to the next one.
				break
			}
		}
	}
	return d.exhausted(seg, started)
}

// attempt runs exactly one uniquely-tagged provider call. Attempts for a
// segment run sequentially, so no two identical attempts are ever in flight
// concurrently.
func (d *Dispatcher) attempt(ctx context.Context, p stt.Provider, seg models.AudioSegment, number int, onInterim func(models.TranscriptionResult)) (stt.Result, string, time.Duration) {
	attemptID := uuid.NewString()
	actx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	start := time.Now()
	var res stt.Result
	var err error
	if it, ok := p.(stt.InterimTranscriber); ok && onInterim != nil {
		res, err = it.TranscribeWithInterim(actx, seg.Payload, seg.Format, func(interim stt.Result) {
			onInterim(models.TranscriptionResult{
				SessionID:  seg.SessionID,
				Sequence:   seg.Sequence,
				Text:       interim.Text,
				Confidence: interim.Confidence,
				IsFinal:    false,
				Provider:   p.Name(),
				Timestamp:  time.Now().UnixMilli(),
			})
		})
	} else {
		res, err = p.Transcribe(actx, seg.Payload, seg.Format)
	}
	latency := time.Since(start)

	outcome := models.OutcomeSuccess
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(actx.Err(), context.DeadlineExceeded):
		outcome = models.OutcomeTimeout
	default:
		outcome = models.OutcomeError
	}

	d.record(models.ProviderAttempt{
		AttemptID: attemptID,
		SessionID: seg.SessionID,
		Sequence:  seg.Sequence,
		Provider:  p.Name(),
		Number:    number,
		Outcome:   outcome,
		LatencyMs: latency.Milliseconds(),
	})
	d.metrics.RecordDispatchAttempt(p.Name(), outcome, latency.Seconds())

	if err != nil {
		d.log.Warn().
			Str("sessionId", seg.SessionID).
			Uint64("sequence", seg.Sequence).
			Str("provider", p.Name()).
			Str("attemptId", attemptID).
			Int("attempt", number).
			Str("outcome", outcome).
			Err(err).
			Msg("provider attempt failed")
	}
	return res, outcome, latency
}

func (d *Dispatcher) exhausted(seg models.AudioSegment, started time.Time) models.TranscriptionResult {
	d.metrics.SegmentsExhausted.Inc()
	d.log.Error().
		Str("sessionId", seg.SessionID).
		Uint64("sequence", seg.Sequence).
		Msg("all providers exhausted for segment")
	return models.TranscriptionResult{
		SessionID: seg.SessionID,
		Sequence:  seg.Sequence,
		IsFinal:   true,
		Error:     ExhaustedMarker,
		LatencyMs: time.Since(started).Milliseconds(),
		Timestamp: time.Now().UnixMilli(),
	}
}

func (d *Dispatcher) record(a models.ProviderAttempt) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.attempts = append(d.attempts, a)
	if len(d.attempts) > d.cfg.AttemptLogSize {
		d.attempts = d.attempts[len(d.attempts)-d.cfg.AttemptLogSize:]
	}

	c, ok := d.counts[a.Provider]
	if !ok {
		c = &counter{}
		d.counts[a.Provider] = c
	}
	c.attempts++
	if a.Outcome != models.OutcomeSuccess {
		c.errors++
	}
}

// Attempts returns a copy of the recent attempt log, newest last.
func (d *Dispatcher) Attempts() []models.ProviderAttempt {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.ProviderAttempt, len(d.attempts))
	copy(out, d.attempts)
	return out
}

// AttemptsFor returns recent attempts for one segment.
func (d *Dispatcher) AttemptsFor(sessionID string, sequence uint64) []models.ProviderAttempt {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []models.ProviderAttempt
	for _, a := range d.attempts {
		if a.SessionID == sessionID && a.Sequence == sequence {
			out = append(out, a)
		}
	}
	return out
}

// Stats returns cumulative per-provider outcome counters in configuration
// order, for the health surface.
func (d *Dispatcher) Stats() []ProviderStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]ProviderStats, 0, len(d.providers))
	for _, p := range d.providers {
		s := ProviderStats{Provider: p.Name()}
		if c, ok := d.counts[p.Name()]; ok {
			s.Attempts = c.attempts
			s.Errors = c.errors
			if c.attempts > 0 {
				s.ErrorRate = float64(c.errors) / float64(c.attempts)
			}
		}
		out = append(out, s)
	}
	return out
}
