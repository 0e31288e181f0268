// Package queue is the optional Kafka scale-out path: assembled segments are
// published to a segments topic, a worker pool consumes and dispatches them,
// and results return on a results topic for delivery to the owning session.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/voicebridge/stream-service/internal/config"
	"github.com/voicebridge/stream-service/internal/models"
	"github.com/voicebridge/stream-service/internal/observability/logging"
	"github.com/voicebridge/stream-service/internal/observability/metrics"
)

// ErrQueueUnavailable reports that the broker cannot take the message. The
// caller degrades to direct dispatch.
var ErrQueueUnavailable = errors.New("queue unavailable")

const dedupTTL = 5 * time.Minute

// SegmentEnvelope is the wire form of an audio segment on the segments
// topic. AttemptID is minted per publish so consumers can drop at-least-once
// redeliveries; Audio is base64 in the JSON encoding.
type SegmentEnvelope struct {
	SessionID  string `json:"sessionId"`
	Sequence   uint64 `json:"sequence"`
	AttemptID  string `json:"attemptId"`
	CapturedAt int64  `json:"capturedAt"`
	Format     string `json:"format"`
	Final      bool   `json:"final"`
	Audio      []byte `json:"audio"`
}

// dedupKey identifies one delivery of one segment.
func (e SegmentEnvelope) dedupKey() string {
	return fmt.Sprintf("seg/%s/%d/%s", e.SessionID, e.Sequence, e.AttemptID)
}

// ResultEnvelope is the wire form of a transcription result on the results
// topic. EventID makes redelivery detectable.
type ResultEnvelope struct {
	EventID string                     `json:"eventId"`
	Result  models.TranscriptionResult `json:"result"`
}

func (e ResultEnvelope) dedupKey() string {
	return fmt.Sprintf("res/%s/%d/%s", e.Result.SessionID, e.Result.Sequence, e.EventID)
}

// Bridge owns both Kafka writers and the consumer side. A Bridge built from
// a disabled config accepts no segments, which keeps every caller on the
// direct dispatch path.
type Bridge struct {
	cfg       config.QueueConfig
	principal string

	segWriter *kafka.Writer
	resWriter *kafka.Writer
	enabled   bool
	healthy   atomic.Bool

	mu    sync.Mutex
	seen  map[string]time.Time
	sweep time.Time

	metrics *metrics.Metrics
	log     zerolog.Logger
}

// Dispatcher is the piece of the dispatch layer the worker pool needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, seg models.AudioSegment) models.TranscriptionResult
}

// New creates a Bridge. When the config is disabled or lists no brokers the
// Bridge is inert: Ready reports false and publishes fail fast.
func New(cfg config.QueueConfig, principal string) *Bridge {
	b := &Bridge{
		cfg:       cfg,
		principal: principal,
		seen:      make(map[string]time.Time),
		sweep:     time.Now(),
		metrics:   metrics.DefaultMetrics,
		log:       logging.WithComponent("queue-bridge"),
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		b.log.Info().Msg("Kafka disabled, segments dispatch in-process")
		return b
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	b.segWriter = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.SegmentsTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.PublishTimeout,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
	b.resWriter = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.ResultsTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.PublishTimeout,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
	b.enabled = true
	b.healthy.Store(true)

	b.log.Info().
		Strs("brokers", cfg.Brokers).
		Str("segmentsTopic", cfg.SegmentsTopic).
		Str("resultsTopic", cfg.ResultsTopic).
		Msg("Kafka bridge initialized")
	return b
}

// Ready reports whether the bridge can currently take segments. It turns
// false after a publish failure and recovers on the next success.
func (b *Bridge) Ready() bool {
	return b.enabled && b.healthy.Load()
}

// Enabled reports whether the bridge was configured with brokers at all.
func (b *Bridge) Enabled() bool {
	return b.enabled
}

// PublishSegment writes one segment to the segments topic, keyed by session
// so a session's segments land on one partition in order.
func (b *Bridge) PublishSegment(ctx context.Context, seg models.AudioSegment) error {
	env := newSegmentEnvelope(seg)
	return b.publish(ctx, b.segWriter, b.cfg.SegmentsTopic, seg.SessionID, env)
}

func newSegmentEnvelope(seg models.AudioSegment) SegmentEnvelope {
	return SegmentEnvelope{
		SessionID:  seg.SessionID,
		Sequence:   seg.Sequence,
		AttemptID:  uuid.NewString(),
		CapturedAt: seg.CapturedAt.UnixMilli(),
		Format:     seg.Format,
		Final:      seg.Final,
		Audio:      seg.Payload,
	}
}

// PublishResult writes one transcription result to the results topic.
func (b *Bridge) PublishResult(ctx context.Context, res models.TranscriptionResult) error {
	env := ResultEnvelope{
		EventID: uuid.NewString(),
		Result:  res,
	}
	return b.publish(ctx, b.resWriter, b.cfg.ResultsTopic, res.SessionID, env)
}

func (b *Bridge) publish(ctx context.Context, writer *kafka.Writer, topic, key string, event any) error {
	if !b.enabled || writer == nil {
		return ErrQueueUnavailable
	}
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "principal", Value: []byte(b.principal)},
		},
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		b.healthy.Store(false)
		b.metrics.RecordKafkaPublish(topic, err, time.Since(start).Seconds())
		b.log.Error().Err(err).Str("topic", topic).Str("key", key).Msg("Kafka write failed")
		return ErrQueueUnavailable
	}
	b.healthy.Store(true)
	b.metrics.RecordKafkaPublish(topic, nil, time.Since(start).Seconds())
	return nil
}

// RunWorkers consumes the segments topic with a pool of workers, dispatches
// each segment to the provider chain, and publishes the result. It blocks
// until ctx is cancelled.
func (b *Bridge) RunWorkers(ctx context.Context, d Dispatcher) {
	if !b.enabled {
		return
	}
	var wg sync.WaitGroup
	for i := 0; i < b.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			b.consumeSegments(ctx, worker, d)
		}(i)
	}
	wg.Wait()
}

func (b *Bridge) consumeSegments(ctx context.Context, worker int, d Dispatcher) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.cfg.Brokers,
		GroupID:  b.cfg.GroupID,
		Topic:    b.cfg.SegmentsTopic,
		MinBytes: 1,
		MaxBytes: 10 << 20,
		MaxWait:  500 * time.Millisecond,
	})
	defer reader.Close()

	log := b.log.With().Int("worker", worker).Logger()
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("segment read failed")
			continue
		}

		var env SegmentEnvelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			log.Error().Err(err).Msg("malformed segment envelope, skipping")
			continue
		}
		if env.AttemptID != "" && b.duplicate(env.dedupKey()) {
			log.Debug().Str("attemptId", env.AttemptID).Msg("dropping redelivered segment")
			continue
		}
		seg := models.AudioSegment{
			SessionID:  env.SessionID,
			Sequence:   env.Sequence,
			Payload:    env.Audio,
			CapturedAt: time.UnixMilli(env.CapturedAt),
			Format:     env.Format,
			Final:      env.Final,
		}

		res := d.Dispatch(ctx, seg)
		if err := b.PublishResult(ctx, res); err != nil {
			log.Error().Err(err).
				Str("sessionId", seg.SessionID).
				Uint64("sequence", seg.Sequence).
				Msg("result publish failed, result lost to redelivery")
		}
	}
}

// RunResultConsumer consumes the results topic and routes each result to
// route, dropping redeliveries. It blocks until ctx is cancelled.
func (b *Bridge) RunResultConsumer(ctx context.Context, route func(models.TranscriptionResult)) {
	if !b.enabled {
		return
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.cfg.Brokers,
		GroupID:  b.cfg.GroupID + "-results",
		Topic:    b.cfg.ResultsTopic,
		MinBytes: 1,
		MaxBytes: 10 << 20,
		MaxWait:  500 * time.Millisecond,
	})
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Warn().Err(err).Msg("result read failed")
			continue
		}

		var env ResultEnvelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			b.log.Error().Err(err).Msg("malformed result envelope, skipping")
			continue
		}
		if env.EventID != "" && b.duplicate(env.dedupKey()) {
			b.log.Debug().Str("eventId", env.EventID).Msg("dropping redelivered result")
			continue
		}
		route(env.Result)
	}
}

// duplicate records the event ID and reports whether it was already seen
// within the dedup window.
func (b *Bridge) duplicate(eventID string) bool {
	if eventID == "" {
		return false
	}
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.sweep) > dedupTTL {
		for id, at := range b.seen {
			if now.Sub(at) > dedupTTL {
				delete(b.seen, id)
			}
		}
		b.sweep = now
	}

	if _, ok := b.seen[eventID]; ok {
		return true
	}
	b.seen[eventID] = now
	return false
}

// Close closes both writers.
func (b *Bridge) Close() error {
	var err error
	if b.segWriter != nil {
		if e := b.segWriter.Close(); e != nil {
			err = e
		}
	}
	if b.resWriter != nil {
		if e := b.resWriter.Close(); e != nil {
			err = e
		}
	}
	return err
}
