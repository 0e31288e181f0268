// Package session owns the lifecycle of live client connections: one
// session per connected client, holding its assembler, ordering state and
// outbound channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicebridge/stream-service/internal/audio"
	"github.com/voicebridge/stream-service/internal/broadcast"
	"github.com/voicebridge/stream-service/internal/models"
	"github.com/voicebridge/stream-service/internal/observability/metrics"
)

// Errors surfaced at the connection boundary.
var (
	// ErrCapacityExceeded reports a refused admission: process-wide cap,
	// per-client cap, or rate limit.
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	// ErrUnknownSession reports an operation on a session that does not
	// exist or is already closed.
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionDraining reports audio arriving after close was requested.
	ErrSessionDraining = errors.New("session is draining")
	// ErrThrottled reports an audio frame refused by the rate limiter. The
	// session stays open.
	ErrThrottled = errors.New("ingestion rate exceeded")
)

// State is the lifecycle state of a session.
type State int32

const (
	// StateActive accepts audio and emits results.
	StateActive State = iota
	// StateDraining accepts no new audio; in-flight dispatches resolve
	// within a bounded grace period.
	StateDraining
	// StateClosed is terminal. Results arriving for a closed session are
	// discarded.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Session tracks one live client connection end to end. All mutable state is
// guarded by mu; the sequence counter and reorder buffer belong to this
// session alone and are never touched by another session's logic.
type Session struct {
	ID        string
	ClientKey string
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	assembler    *audio.Assembler
	segs         chan models.AudioSegment
	lastActivity time.Time

	chunksReceived uint64
	resultsSent    uint64

	bcast    *broadcast.Broadcaster
	outbound chan any
	sem      chan struct{}
	inflight sync.WaitGroup
	pumpDone chan struct{}

	metrics *metrics.Metrics
	log     zerolog.Logger
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outbound is the channel the connection-serving task drains. It is closed
// once the session reaches Closed.
func (s *Session) Outbound() <-chan any {
	return s.outbound
}

// Status reports per-session counters for the get_status control message.
func (s *Session) Status() models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionStatus{
		Type:            models.TypeStatus,
		SessionID:       s.ID,
		State:           s.state.String(),
		ChunksReceived:  s.chunksReceived,
		SegmentsEmitted: s.assembler.Sequence(),
		ResultsSent:     s.resultsSent,
		ConnectedAt:     s.CreatedAt.UnixMilli(),
		LastActivity:    s.lastActivity.UnixMilli(),
		Timestamp:       time.Now().UnixMilli(),
	}
}

// ingest feeds raw bytes to the assembler and hands emitted segments to the
// dispatch pump. It never blocks on transcription: segments queue on a
// bounded channel and are dropped (with an error result) when the session
// falls too far behind.
func (s *Session) ingest(raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateDraining:
		return ErrSessionDraining
	case StateClosed:
		return ErrUnknownSession
	}

	s.lastActivity = time.Now()
	s.chunksReceived++
	s.metrics.RecordAudioReceived(len(raw))

	for _, seg := range s.assembler.Feed(raw) {
		s.enqueueLocked(seg)
	}
	return nil
}

// enqueueLocked hands a segment to the pump without blocking. Callers hold
// s.mu, which also serializes against the channel close in drain.
func (s *Session) enqueueLocked(seg models.AudioSegment) {
	select {
	case s.segs <- seg:
		s.metrics.RecordSegmentAssembled()
	default:
		s.metrics.RecordSegmentDropped("pending_overflow")
		s.log.Warn().Uint64("sequence", seg.Sequence).Msg("pending segment queue full, dropping segment")
	}
}

// run is the session's dispatch pump: it pulls assembled segments and
// processes them concurrently, bounded by the per-session in-flight cap to
// preserve rough temporal ordering without serializing entirely.
func (s *Session) run(process func(context.Context, models.AudioSegment)) {
	defer close(s.pumpDone)
	for seg := range s.segs {
		select {
		case s.sem <- struct{}{}:
		case <-s.ctx.Done():
			return
		}
		s.inflight.Add(1)
		go func(seg models.AudioSegment) {
			defer func() {
				<-s.sem
				s.inflight.Done()
			}()
			process(s.ctx, seg)
		}(seg)
	}
}

// deliver routes a result through the reorder buffer. Safe to call from any
// goroutine; delivery to a Closed session is a silent discard inside the
// broadcaster.
func (s *Session) deliver(res models.TranscriptionResult) {
	s.bcast.Deliver(res)
}

// emit pushes one ordered result onto the outbound channel without
// blocking. The connection writer drains it; a slow client loses messages
// rather than stalling the pipeline.
func (s *Session) emit(res models.TranscriptionResult) {
	var msg any
	if res.Failed() {
		msg = models.ErrorMessage{
			Type:      models.TypeError,
			SessionID: res.SessionID,
			Sequence:  res.Sequence,
			Message:   res.Error,
			Timestamp: res.Timestamp,
		}
	} else {
		msg = models.NewTranscription(res)
	}
	s.send(msg)

	s.mu.Lock()
	s.resultsSent++
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Send enqueues a control message (ack, pong, status) for the connection
// writer. Like result delivery it never blocks.
func (s *Session) Send(msg any) {
	s.send(msg)
}

// send enqueues any outbound message without blocking. The state check and
// channel write share the session lock, which also orders them against the
// channel close in drain.
func (s *Session) send(msg any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	select {
	case s.outbound <- msg:
	default:
		s.metrics.OutboundDropped.Inc()
		s.log.Warn().Msg("outbound channel full, dropping message")
	}
}

// idleFor reports how long the session has been without audio or results.
func (s *Session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// drain runs the Active → Draining → Closed transition. The assembler
// remainder is flushed as a final segment, queued segments finish within the
// grace period, and stragglers are cancelled. There is no transition back to
// Active.
func (s *Session) drain(grace time.Duration) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.state = StateDraining
	if rem := s.assembler.Flush(); rem != nil {
		s.enqueueLocked(*rem)
	}
	close(s.segs)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-s.pumpDone
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		s.log.Warn().Dur("grace", grace).Msg("drain grace elapsed, cancelling in-flight dispatches")
	}
	// Best effort: attempts already sent to a provider are not forcibly
	// aborted, but their results are discarded on arrival.
	s.cancel()

	s.mu.Lock()
	s.state = StateClosed
	close(s.outbound)
	s.mu.Unlock()

	s.bcast.Close()
	s.log.Info().Msg("session closed")
}
