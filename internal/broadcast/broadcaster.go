// Package broadcast reorders transcription results and delivers them to a
// session's outbound channel in sequence order.
package broadcast

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicebridge/stream-service/internal/models"
	"github.com/voicebridge/stream-service/internal/observability/logging"
	"github.com/voicebridge/stream-service/internal/observability/metrics"
)

// Config bounds the reorder buffer.
type Config struct {
	// BufferSize is the maximum number of early results held back while a
	// gap persists.
	BufferSize int
	// MaxWait bounds how long a gap may stall delivery before buffered
	// results are flushed out of order.
	MaxWait time.Duration
}

// DefaultConfig returns the reorder defaults.
func DefaultConfig() Config {
	return Config{BufferSize: 8, MaxWait: 2 * time.Second}
}

// EmitFunc receives results ready for the client. It must not block; the
// session's outbound channel write behind it is non-blocking.
type EmitFunc func(models.TranscriptionResult)

// Broadcaster owns one session's ordering state: the next expected sequence
// number and a small reorder buffer tolerating limited out-of-order arrival
// from concurrent dispatch or the queue path. It is owned by its session and
// never shared across sessions.
type Broadcaster struct {
	cfg     Config
	emit    EmitFunc
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu      sync.Mutex
	next    uint64
	pending map[uint64]models.TranscriptionResult
	timer   *time.Timer
	closed  bool
}

// New creates a broadcaster expecting sequence 0 first.
func New(sessionID string, cfg Config, emit EmitFunc) *Broadcaster {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultConfig().MaxWait
	}
	return &Broadcaster{
		cfg:     cfg,
		emit:    emit,
		metrics: metrics.DefaultMetrics,
		log:     logging.WithSession("broadcaster", sessionID),
		pending: make(map[uint64]models.TranscriptionResult),
	}
}

// Deliver routes one result. In-order finals emit immediately and advance
// the expectation; early finals are buffered; interim results pass straight
// through as a responsiveness optimization and never advance ordering. Stale
// results (sequence already passed) are discarded.
func (b *Broadcaster) Deliver(res models.TranscriptionResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	if !res.IsFinal {
		b.metrics.RecordResultDelivered("interim")
		b.emit(res)
		return
	}

	switch {
	case res.Sequence < b.next:
		// Superseded or duplicate attempt arriving late.
		b.log.Debug().Uint64("sequence", res.Sequence).Uint64("expected", b.next).Msg("discarding stale result")
		return

	case res.Sequence == b.next:
		b.emitFinalLocked(res)
		b.next++
		b.drainLocked()

	default:
		if _, dup := b.pending[res.Sequence]; dup {
			return
		}
		b.pending[res.Sequence] = res
		if len(b.pending) > b.cfg.BufferSize {
			b.flushLocked("buffer overflow")
			return
		}
		b.armTimerLocked()
	}

	if len(b.pending) == 0 {
		b.stopTimerLocked()
	}
}

// Expected returns the next sequence number awaited.
func (b *Broadcaster) Expected() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}

// PendingLen returns the number of buffered early results.
func (b *Broadcaster) PendingLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close stops the gap timer and drops buffered results. Further Deliver
// calls are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.stopTimerLocked()
	b.pending = nil
}

// drainLocked emits any buffered results that became in-order.
func (b *Broadcaster) drainLocked() {
	for {
		res, ok := b.pending[b.next]
		if !ok {
			return
		}
		delete(b.pending, b.next)
		b.emitFinalLocked(res)
		b.next++
	}
}

// flushLocked emits everything buffered in ascending sequence order even
// though a gap remains. Ordering is violated rather than stalling the
// session indefinitely.
func (b *Broadcaster) flushLocked(reason string) {
	if len(b.pending) == 0 {
		return
	}
	seqs := make([]uint64, 0, len(b.pending))
	for seq := range b.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	b.log.Warn().
		Str("reason", reason).
		Uint64("expected", b.next).
		Int("flushed", len(seqs)).
		Msg("reordering violation: flushing buffered results out of order")
	b.metrics.ReorderFlushes.Inc()

	for _, seq := range seqs {
		res := b.pending[seq]
		delete(b.pending, seq)
		b.emitFinalLocked(res)
		if seq >= b.next {
			b.next = seq + 1
		}
	}
	b.stopTimerLocked()
}

func (b *Broadcaster) emitFinalLocked(res models.TranscriptionResult) {
	if res.Failed() {
		b.metrics.RecordResultDelivered("error")
	} else {
		b.metrics.RecordResultDelivered("final")
	}
	b.emit(res)
}

func (b *Broadcaster) armTimerLocked() {
	if b.timer != nil {
		return
	}
	b.timer = time.AfterFunc(b.cfg.MaxWait, b.onGapTimeout)
}

func (b *Broadcaster) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Broadcaster) onGapTimeout() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.timer = nil
	b.flushLocked("gap timeout")
}
