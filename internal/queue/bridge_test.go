package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voicebridge/stream-service/internal/config"
	"github.com/voicebridge/stream-service/internal/models"
)

func TestDisabledBridgeRefusesPublish(t *testing.T) {
	b := New(config.QueueConfig{Enabled: false}, "svc-test")

	if b.Ready() {
		t.Fatal("disabled bridge reports Ready")
	}
	if b.Enabled() {
		t.Fatal("disabled bridge reports Enabled")
	}

	err := b.PublishSegment(context.Background(), models.AudioSegment{SessionID: "s1"})
	if !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("PublishSegment err = %v, want ErrQueueUnavailable", err)
	}
	err = b.PublishResult(context.Background(), models.TranscriptionResult{SessionID: "s1"})
	if !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("PublishResult err = %v, want ErrQueueUnavailable", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestDisabledBridgeConsumersReturnImmediately(t *testing.T) {
	b := New(config.QueueConfig{Enabled: true}, "svc-test") // enabled but no brokers

	done := make(chan struct{})
	go func() {
		b.RunWorkers(context.Background(), nil)
		b.RunResultConsumer(context.Background(), nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumers did not return for a broker-less bridge")
	}
}

func TestSegmentEnvelopeRedelivery(t *testing.T) {
	b := New(config.QueueConfig{}, "svc-test")
	seg := models.AudioSegment{
		SessionID:  "s1",
		Sequence:   4,
		Payload:    []byte{1, 2, 3},
		CapturedAt: time.Now(),
		Format:     "pcm16",
	}

	env := newSegmentEnvelope(seg)
	if env.AttemptID == "" {
		t.Fatal("envelope has no attempt id")
	}
	if env.SessionID != "s1" || env.Sequence != 4 {
		t.Fatalf("envelope = %s/%d, want s1/4", env.SessionID, env.Sequence)
	}

	// First delivery passes, a broker redelivery of the same envelope is
	// dropped.
	if b.duplicate(env.dedupKey()) {
		t.Fatal("first delivery flagged as duplicate")
	}
	if !b.duplicate(env.dedupKey()) {
		t.Fatal("redelivered envelope not flagged as duplicate")
	}

	// A fresh publish of the same segment mints a new attempt id and is a
	// distinct delivery.
	env2 := newSegmentEnvelope(seg)
	if env2.AttemptID == env.AttemptID {
		t.Fatal("two publishes share an attempt id")
	}
	if b.duplicate(env2.dedupKey()) {
		t.Fatal("fresh publish flagged as duplicate")
	}
}

func TestResultEnvelopeDedupKey(t *testing.T) {
	a := ResultEnvelope{EventID: "e1", Result: models.TranscriptionResult{SessionID: "s1", Sequence: 7}}
	b := ResultEnvelope{EventID: "e2", Result: models.TranscriptionResult{SessionID: "s1", Sequence: 7}}
	if a.dedupKey() == b.dedupKey() {
		t.Fatal("distinct deliveries share a dedup key")
	}
	if a.dedupKey() != a.dedupKey() {
		t.Fatal("dedup key is not stable")
	}
}

func TestDuplicateDetection(t *testing.T) {
	b := New(config.QueueConfig{}, "svc-test")

	if b.duplicate("evt-1") {
		t.Fatal("first delivery flagged as duplicate")
	}
	if !b.duplicate("evt-1") {
		t.Fatal("redelivery not flagged as duplicate")
	}
	if b.duplicate("evt-2") {
		t.Fatal("distinct event flagged as duplicate")
	}
	// No event ID means no dedup.
	if b.duplicate("") || b.duplicate("") {
		t.Fatal("empty event ID must never be flagged")
	}
}

func TestDuplicateSweepExpiresOldEntries(t *testing.T) {
	b := New(config.QueueConfig{}, "svc-test")

	b.duplicate("old-evt")
	b.mu.Lock()
	b.seen["old-evt"] = time.Now().Add(-2 * dedupTTL)
	b.sweep = time.Now().Add(-2 * dedupTTL)
	b.mu.Unlock()

	// Any lookup past the sweep interval evicts expired entries first.
	if b.duplicate("fresh-evt") {
		t.Fatal("fresh event flagged as duplicate")
	}
	b.mu.Lock()
	_, stillThere := b.seen["old-evt"]
	b.mu.Unlock()
	if stillThere {
		t.Fatal("expired entry survived the sweep")
	}
}
