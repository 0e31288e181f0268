package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voicebridge/stream-service/internal/audio"
	"github.com/voicebridge/stream-service/internal/broadcast"
	"github.com/voicebridge/stream-service/internal/dispatch"
	"github.com/voicebridge/stream-service/internal/models"
	"github.com/voicebridge/stream-service/internal/observability/logging"
	"github.com/voicebridge/stream-service/internal/observability/metrics"
	"github.com/voicebridge/stream-service/internal/ratelimit"
)

// SegmentPublisher is the optional scale-out path: segments go to a durable
// topic instead of being dispatched in-process. Implemented by queue.Bridge.
type SegmentPublisher interface {
	// Ready reports whether the publisher can currently take segments.
	Ready() bool
	// PublishSegment hands one segment to the topic. An error triggers
	// graceful degradation to direct dispatch.
	PublishSegment(ctx context.Context, seg models.AudioSegment) error
}

// Config bounds session lifecycle and admission.
type Config struct {
	MaxSessions    int
	MaxPerClient   int
	IdleTimeout    time.Duration
	DrainGrace     time.Duration
	OutboundBuffer int
	ReapInterval   time.Duration

	InflightPerSession int
	PendingSegments    int

	Audio   audio.Config
	Reorder broadcast.Config
}

// DefaultConfig returns lifecycle defaults.
func DefaultConfig() Config {
	return Config{
		MaxSessions:        256,
		MaxPerClient:       5,
		IdleTimeout:        60 * time.Second,
		DrainGrace:         5 * time.Second,
		OutboundBuffer:     64,
		ReapInterval:       10 * time.Second,
		InflightPerSession: 2,
		PendingSegments:    32,
		Audio:              audio.DefaultConfig(),
		Reorder:            broadcast.DefaultConfig(),
	}
}

// Snapshot is the service-level view exposed on the status surface.
type Snapshot struct {
	ActiveSessions  int     `json:"activeSessions"`
	TotalSessions   uint64  `json:"totalSessions"`
	TotalSegments   uint64  `json:"totalSegments"`
	TotalResults    uint64  `json:"totalResults"`
	AvgProcessingMs float64 `json:"avgProcessingMs"`
	QueueConnected  bool    `json:"queueConnected"`
}

// Manager owns every live session. No lock spans more than one session's
// critical section: the manager lock guards only the registry maps.
type Manager struct {
	cfg          Config
	limiter      *ratelimit.Limiter
	frameLimiter *ratelimit.Limiter
	dispatcher   *dispatch.Dispatcher
	publisher    SegmentPublisher // nil when the queue path is not configured

	mu        sync.RWMutex
	sessions  map[string]*Session
	perClient map[string]int

	totalSessions uint64
	totalSegments uint64
	totalResults  uint64
	latencySumMs  uint64

	reaperStop chan struct{}
	reaperOnce sync.Once

	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewManager creates a Manager. Either limiter may be nil to disable that
// check; publisher may be nil to force direct in-process dispatch.
func NewManager(cfg Config, limiter, frameLimiter *ratelimit.Limiter, dispatcher *dispatch.Dispatcher, publisher SegmentPublisher) *Manager {
	return &Manager{
		cfg:          cfg,
		limiter:      limiter,
		frameLimiter: frameLimiter,
		dispatcher:   dispatcher,
		publisher:    publisher,
		sessions:     make(map[string]*Session),
		perClient:    make(map[string]int),
		reaperStop:   make(chan struct{}),
		metrics:      metrics.DefaultMetrics,
		log:          logging.WithComponent("session-manager"),
	}
}

// Open allocates a session for the client key, consulting the rate limiter
// and both concurrency caps. Admission is all-or-nothing: a refused open
// leaves no partial state behind.
func (m *Manager) Open(clientKey string) (*Session, error) {
	if m.limiter != nil && !m.limiter.Allow(clientKey) {
		m.metrics.RateLimited.Inc()
		m.metrics.RecordSessionRejected("rate_limited")
		return nil, ErrCapacityExceeded
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.metrics.RecordSessionRejected("max_sessions")
		return nil, ErrCapacityExceeded
	}
	if m.cfg.MaxPerClient > 0 && m.perClient[clientKey] >= m.cfg.MaxPerClient {
		m.metrics.RecordSessionRejected("per_client")
		return nil, ErrCapacityExceeded
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:           id,
		ClientKey:    clientKey,
		CreatedAt:    time.Now(),
		ctx:          ctx,
		cancel:       cancel,
		state:        StateActive,
		assembler:    audio.New(id, m.cfg.Audio),
		segs:         make(chan models.AudioSegment, m.cfg.PendingSegments),
		lastActivity: time.Now(),
		outbound:     make(chan any, m.cfg.OutboundBuffer),
		sem:          make(chan struct{}, m.cfg.InflightPerSession),
		pumpDone:     make(chan struct{}),
		metrics:      m.metrics,
		log:          logging.WithSession("session", id),
	}
	s.bcast = broadcast.New(id, m.cfg.Reorder, s.emit)

	m.sessions[id] = s
	m.perClient[clientKey]++
	atomic.AddUint64(&m.totalSessions, 1)
	m.metrics.RecordSessionOpened()

	// The pump binds its own session: dispatch keeps working through drain,
	// after the registry slot is released.
	go s.run(func(ctx context.Context, seg models.AudioSegment) {
		m.process(ctx, s, seg)
	})

	s.log.Info().Str("clientKey", clientKey).Msg("session opened")
	return s, nil
}

// Get looks up an active or draining session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Ingest forwards raw audio bytes to the session's assembler. Frames are
// throttled per client under a key separate from session admission.
func (m *Manager) Ingest(id string, raw []byte) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrUnknownSession
	}
	if m.frameLimiter != nil && !m.frameLimiter.Allow(s.ClientKey) {
		m.metrics.RateLimited.Inc()
		return ErrThrottled
	}
	return s.ingest(raw)
}

// Close drains and closes the session, then releases its registry slot.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownSession
	}
	delete(m.sessions, id)
	if m.perClient[s.ClientKey] > 1 {
		m.perClient[s.ClientKey]--
	} else {
		delete(m.perClient, s.ClientKey)
	}
	m.mu.Unlock()

	s.drain(m.cfg.DrainGrace)
	m.metrics.RecordSessionClosed(time.Since(s.CreatedAt).Seconds())
	return nil
}

// Route delivers a result arriving from the queue path to its session.
// Results for sessions no longer active are ignored.
func (m *Manager) Route(res models.TranscriptionResult) {
	s, ok := m.Get(res.SessionID)
	if !ok {
		m.log.Debug().Str("sessionId", res.SessionID).Uint64("sequence", res.Sequence).
			Msg("ignoring result for inactive session")
		return
	}
	m.recordResult(res)
	s.deliver(res)
}

// process moves one segment toward a provider: through the queue bridge when
// it is configured and healthy, directly otherwise. Queue publish failures
// degrade to direct dispatch rather than failing the session.
func (m *Manager) process(ctx context.Context, s *Session, seg models.AudioSegment) {
	atomic.AddUint64(&m.totalSegments, 1)

	if m.publisher != nil && m.publisher.Ready() {
		err := m.publisher.PublishSegment(ctx, seg)
		if err == nil {
			return
		}
		m.metrics.QueueDowngrades.Inc()
		m.log.Warn().Err(err).Str("sessionId", seg.SessionID).
			Msg("queue unavailable, downgrading to direct dispatch")
	}

	res := m.dispatcher.DispatchWithInterim(ctx, seg, s.deliver)
	m.recordResult(res)
	s.deliver(res)
}

func (m *Manager) recordResult(res models.TranscriptionResult) {
	if !res.IsFinal {
		return
	}
	atomic.AddUint64(&m.totalResults, 1)
	if res.LatencyMs > 0 {
		atomic.AddUint64(&m.latencySumMs, uint64(res.LatencyMs))
	}
}

// StartReaper launches the idle-session reaper. Stop with StopReaper.
func (m *Manager) StartReaper() {
	go func() {
		ticker := time.NewTicker(m.cfg.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.reapIdle()
			case <-m.reaperStop:
				return
			}
		}
	}()
}

// StopReaper stops the idle reaper.
func (m *Manager) StopReaper() {
	m.reaperOnce.Do(func() { close(m.reaperStop) })
}

func (m *Manager) reapIdle() {
	now := time.Now()
	var idle []string
	m.mu.RLock()
	for id, s := range m.sessions {
		if s.State() == StateActive && s.idleFor(now) > m.cfg.IdleTimeout {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		m.log.Info().Str("sessionId", id).Dur("idleTimeout", m.cfg.IdleTimeout).
			Msg("closing idle session")
		if err := m.Close(id); err == nil {
			m.metrics.SessionsReaped.Inc()
		}
	}
}

// ActiveCount returns the number of registered sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stats assembles the service-level snapshot for the status surface.
func (m *Manager) Stats() Snapshot {
	results := atomic.LoadUint64(&m.totalResults)
	var avg float64
	if results > 0 {
		avg = float64(atomic.LoadUint64(&m.latencySumMs)) / float64(results)
	}
	return Snapshot{
		ActiveSessions:  m.ActiveCount(),
		TotalSessions:   atomic.LoadUint64(&m.totalSessions),
		TotalSegments:   atomic.LoadUint64(&m.totalSegments),
		TotalResults:    results,
		AvgProcessingMs: avg,
		QueueConnected:  m.publisher != nil && m.publisher.Ready(),
	}
}

// Shutdown closes every session, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) {
	m.StopReaper()

	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if ctx.Err() != nil {
			m.log.Warn().Int("remaining", len(ids)).Msg("shutdown deadline reached with sessions remaining")
			return
		}
		m.Close(id)
	}
}
