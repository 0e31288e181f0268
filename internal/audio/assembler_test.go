package audio

import (
	"bytes"
	"testing"
	"time"
)

func testConfig() Config {
	// 100 bytes per window: 1kHz mono 16-bit at 50ms
	return Config{
		WindowDuration: 50 * time.Millisecond,
		SampleRateHz:   1000,
		Channels:       1,
		BytesPerSample: 2,
		Format:         "pcm16",
	}
}

func TestConfig_WindowBytes(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{"16kHz mono 200ms", DefaultConfig(), 6400},
		{"1kHz mono 50ms", testConfig(), 100},
		{"8kHz mono 250ms", Config{WindowDuration: 250 * time.Millisecond, SampleRateHz: 8000, Channels: 1, BytesPerSample: 2}, 4000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.WindowBytes(); got != tt.want {
				t.Errorf("WindowBytes() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFeed_ExactWindow(t *testing.T) {
	a := New("sess-1", testConfig())

	segs := a.Feed(make([]byte, 100))
	if len(segs) != 1 {
		t.Fatalf("expected exactly 1 segment, got %d", len(segs))
	}
	if segs[0].Sequence != 0 {
		t.Errorf("expected sequence 0, got %d", segs[0].Sequence)
	}
	if segs[0].SessionID != "sess-1" {
		t.Errorf("expected session 'sess-1', got %s", segs[0].SessionID)
	}
	if len(segs[0].Payload) != 100 {
		t.Errorf("expected 100-byte payload, got %d", len(segs[0].Payload))
	}
	if segs[0].Final {
		t.Error("window-boundary segment must not be final")
	}
}

func TestFeed_TwoWindows_StrictlyIncreasing(t *testing.T) {
	a := New("sess-1", testConfig())

	segs := a.Feed(make([]byte, 200))
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if segs[0].Sequence != 0 || segs[1].Sequence != 1 {
		t.Errorf("expected sequences 0,1, got %d,%d", segs[0].Sequence, segs[1].Sequence)
	}
}

func TestFeed_FragmentedWrites(t *testing.T) {
	a := New("sess-1", testConfig())

	// 99 bytes: incomplete, nothing emitted
	if segs := a.Feed(make([]byte, 99)); segs != nil {
		t.Fatalf("expected no segments for partial window, got %d", len(segs))
	}
	if a.Buffered() != 99 {
		t.Errorf("expected 99 buffered bytes, got %d", a.Buffered())
	}

	// 1 more byte completes the window
	segs := a.Feed(make([]byte, 1))
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment after boundary, got %d", len(segs))
	}
	if a.Buffered() != 0 {
		t.Errorf("expected empty buffer, got %d", a.Buffered())
	}
}

func TestFeed_PayloadIsolation(t *testing.T) {
	a := New("sess-1", testConfig())

	src := bytes.Repeat([]byte{0xAB}, 100)
	segs := a.Feed(src)
	src[0] = 0xCD

	if segs[0].Payload[0] != 0xAB {
		t.Error("segment payload must not alias the caller's buffer")
	}
}

func TestFlush_Remainder(t *testing.T) {
	a := New("sess-1", testConfig())

	a.Feed(make([]byte, 150)) // one window emitted, 50 buffered
	seg := a.Flush()
	if seg == nil {
		t.Fatal("expected a flushed segment")
	}
	if !seg.Final {
		t.Error("flushed segment must carry the final flag")
	}
	if seg.Sequence != 1 {
		t.Errorf("expected flushed sequence 1, got %d", seg.Sequence)
	}
	if len(seg.Payload) != 50 {
		t.Errorf("expected 50-byte remainder, got %d", len(seg.Payload))
	}

	if again := a.Flush(); again != nil {
		t.Error("second flush of empty buffer must return nil")
	}
}

func TestSequence_NeverReused(t *testing.T) {
	a := New("sess-1", testConfig())

	var prev uint64
	first := true
	for i := 0; i < 10; i++ {
		for _, seg := range a.Feed(make([]byte, 100)) {
			if !first && seg.Sequence <= prev {
				t.Fatalf("sequence not strictly increasing: %d after %d", seg.Sequence, prev)
			}
			prev = seg.Sequence
			first = false
		}
	}
	if a.Sequence() != 10 {
		t.Errorf("expected next sequence 10, got %d", a.Sequence())
	}
}
