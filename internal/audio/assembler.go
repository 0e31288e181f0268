// Package audio assembles arbitrary-sized network fragments into
// fixed-duration segments suitable for a transcription call.
package audio

import (
	"time"

	"github.com/voicebridge/stream-service/internal/models"
)

// Config describes the inbound PCM stream and the window policy. Windowing
// is time-based: the byte threshold is derived from the audio duration, not
// chosen by byte count, because transcription latency and accuracy depend on
// how much speech a segment covers.
type Config struct {
	WindowDuration time.Duration
	SampleRateHz   int
	Channels       int
	BytesPerSample int
	Format         string
}

// DefaultConfig returns the window policy for 16kHz mono 16-bit PCM.
func DefaultConfig() Config {
	return Config{
		WindowDuration: 200 * time.Millisecond,
		SampleRateHz:   16000,
		Channels:       1,
		BytesPerSample: 2,
		Format:         "pcm16",
	}
}

// WindowBytes returns the size of one window in bytes.
func (c Config) WindowBytes() int {
	bytesPerSecond := c.SampleRateHz * c.Channels * c.BytesPerSample
	n := int(int64(bytesPerSecond) * c.WindowDuration.Nanoseconds() / int64(time.Second))
	if n <= 0 {
		n = 1
	}
	return n
}

// Assembler accumulates raw byte fragments for one session and emits
// AudioSegments once a window boundary is reached. It is owned exclusively
// by its session and is not safe for concurrent use.
type Assembler struct {
	sessionID   string
	cfg         Config
	windowBytes int
	buf         []byte
	seq         uint64
}

// New creates an assembler for the given session.
func New(sessionID string, cfg Config) *Assembler {
	return &Assembler{
		sessionID:   sessionID,
		cfg:         cfg,
		windowBytes: cfg.WindowBytes(),
	}
}

// Feed buffers p and returns zero or more complete segments. Each emitted
// segment takes the session's next sequence number; numbers are never
// reused.
func (a *Assembler) Feed(p []byte) []models.AudioSegment {
	if len(p) == 0 {
		return nil
	}
	a.buf = append(a.buf, p...)

	var out []models.AudioSegment
	for len(a.buf) >= a.windowBytes {
		payload := make([]byte, a.windowBytes)
		copy(payload, a.buf[:a.windowBytes])
		a.buf = a.buf[a.windowBytes:]
		out = append(out, a.emit(payload, false))
	}
	return out
}

// Flush emits any buffered remainder as a final segment. Used on session
// close so the dispatcher does not wait for more data. Returns nil when the
// buffer is empty.
func (a *Assembler) Flush() *models.AudioSegment {
	if len(a.buf) == 0 {
		return nil
	}
	payload := make([]byte, len(a.buf))
	copy(payload, a.buf)
	a.buf = a.buf[:0]
	seg := a.emit(payload, true)
	return &seg
}

// Sequence returns the next sequence number to be assigned.
func (a *Assembler) Sequence() uint64 {
	return a.seq
}

// Buffered returns the number of bytes awaiting a window boundary.
func (a *Assembler) Buffered() int {
	return len(a.buf)
}

func (a *Assembler) emit(payload []byte, final bool) models.AudioSegment {
	seg := models.AudioSegment{
		SessionID:  a.sessionID,
		Sequence:   a.seq,
		Payload:    payload,
		CapturedAt: time.Now(),
		Format:     a.cfg.Format,
		Final:      final,
	}
	a.seq++
	return seg
}
