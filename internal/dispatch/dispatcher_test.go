package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voicebridge/stream-service/internal/models"
	"github.com/voicebridge/stream-service/internal/stt"
)

// stubProvider scripts outcomes for dispatcher tests.
type stubProvider struct {
	name  string
	text  string
	fail  error
	hang  bool
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Transcribe(ctx context.Context, audio []byte, format string) (stt.Result, error) {
	s.calls++
	if s.hang {
		<-ctx.Done()
		return stt.Result{}, ctx.Err()
	}
	if s.fail != nil {
		return stt.Result{}, s.fail
	}
	return stt.Result{Text: s.text, Confidence: 0.9}, nil
}

func testSegment(seq uint64) models.AudioSegment {
	return models.AudioSegment{
		SessionID:  "sess-1",
		Sequence:   seq,
		Payload:    []byte{1, 2, 3},
		CapturedAt: time.Now(),
		Format:     "pcm16",
	}
}

func testConfig() Config {
	return Config{
		AttemptTimeout:     50 * time.Millisecond,
		RetriesPerProvider: 1,
		AttemptLogSize:     64,
	}
}

func TestDispatch_PrimarySuccess(t *testing.T) {
	primary := &stubProvider{name: "primary", text: "hello"}
	secondary := &stubProvider{name: "secondary", text: "unused"}
	d := New([]stt.Provider{primary, secondary}, testConfig())

	res := d.Dispatch(context.Background(), testSegment(0))

	if res.Failed() {
		t.Fatalf("unexpected failure marker: %s", res.Error)
	}
	if res.Text != "hello" || res.Provider != "primary" {
		t.Errorf("expected 'hello' from primary, got %q from %s", res.Text, res.Provider)
	}
	if !res.IsFinal {
		t.Error("successful dispatch must return a final result")
	}
	if secondary.calls != 0 {
		t.Errorf("secondary should not be called, got %d calls", secondary.calls)
	}
}

func TestDispatch_PrimaryTimeout_FallsBackWithoutRetry(t *testing.T) {
	primary := &stubProvider{name: "primary", hang: true}
	secondary := &stubProvider{name: "secondary", text: "fallback"}
	d := New([]stt.Provider{primary, secondary}, testConfig())

	// Every segment must come from the secondary, with exactly one failed
	// attempt logged against the timing-out primary per segment.
	for seq := uint64(0); seq < 3; seq++ {
		res := d.Dispatch(context.Background(), testSegment(seq))
		if res.Provider != "secondary" || res.Text != "fallback" {
			t.Fatalf("seq %d: expected fallback from secondary, got %q from %s", seq, res.Text, res.Provider)
		}

		var primaryFails int
		for _, a := range d.AttemptsFor("sess-1", seq) {
			if a.Provider == "primary" {
				if a.Outcome != models.OutcomeTimeout {
					t.Errorf("seq %d: expected timeout outcome, got %s", seq, a.Outcome)
				}
				primaryFails++
			}
		}
		if primaryFails != 1 {
			t.Errorf("seq %d: expected exactly one failed primary attempt, got %d", seq, primaryFails)
		}
	}
}

func TestDispatch_ErrorRetriesOnceThenFallsBack(t *testing.T) {
	primary := &stubProvider{name: "primary", fail: errors.New("backend 500")}
	secondary := &stubProvider{name: "secondary", text: "ok"}
	d := New([]stt.Provider{primary, secondary}, testConfig())

	res := d.Dispatch(context.Background(), testSegment(0))

	if res.Provider != "secondary" {
		t.Errorf("expected result from secondary, got %s", res.Provider)
	}
	if primary.calls != 2 {
		t.Errorf("expected 2 primary attempts (initial + retry), got %d", primary.calls)
	}
}

func TestDispatch_AllProvidersExhausted(t *testing.T) {
	primary := &stubProvider{name: "primary", fail: errors.New("down")}
	secondary := &stubProvider{name: "secondary", fail: errors.New("down too")}
	d := New([]stt.Provider{primary, secondary}, testConfig())

	var finals int
	res := d.Dispatch(context.Background(), testSegment(7))
	if res.IsFinal {
		finals++
	}

	if !res.Failed() || res.Error != ExhaustedMarker {
		t.Fatalf("expected exhaustion marker, got error=%q text=%q", res.Error, res.Text)
	}
	if res.Text != "" {
		t.Errorf("exhausted result must carry empty text, got %q", res.Text)
	}
	if finals != 1 {
		t.Errorf("expected exactly one final result, got %d", finals)
	}
	// configured attempts x providers: (1+1) x 2
	if got := len(d.AttemptsFor("sess-1", 7)); got != 4 {
		t.Errorf("expected 4 logged attempts, got %d", got)
	}
}

func TestDispatch_AttemptIDsUnique(t *testing.T) {
	primary := &stubProvider{name: "primary", fail: errors.New("down")}
	d := New([]stt.Provider{primary}, testConfig())

	d.Dispatch(context.Background(), testSegment(0))

	seen := make(map[string]bool)
	for _, a := range d.Attempts() {
		if seen[a.AttemptID] {
			t.Fatalf("duplicate attempt id %s", a.AttemptID)
		}
		seen[a.AttemptID] = true
	}
}

func TestDispatch_Interim(t *testing.T) {
	d := New([]stt.Provider{&interimProvider{}}, testConfig())

	var interims []models.TranscriptionResult
	res := d.DispatchWithInterim(context.Background(), testSegment(0), func(r models.TranscriptionResult) {
		interims = append(interims, r)
	})

	if res.Text != "final text" {
		t.Errorf("expected final text, got %q", res.Text)
	}
	if len(interims) != 1 {
		t.Fatalf("expected 1 interim, got %d", len(interims))
	}
	if interims[0].IsFinal {
		t.Error("interim result must not be final")
	}
	if interims[0].Sequence != 0 {
		t.Errorf("interim must carry the segment sequence, got %d", interims[0].Sequence)
	}
}

func TestStats_ErrorRate(t *testing.T) {
	primary := &stubProvider{name: "primary", fail: errors.New("down")}
	secondary := &stubProvider{name: "secondary", text: "ok"}
	d := New([]stt.Provider{primary, secondary}, testConfig())

	d.Dispatch(context.Background(), testSegment(0))

	stats := d.Stats()
	if len(stats) != 2 {
		t.Fatalf("expected stats for 2 providers, got %d", len(stats))
	}
	if stats[0].Provider != "primary" || stats[0].ErrorRate != 1 {
		t.Errorf("expected primary error rate 1, got %+v", stats[0])
	}
	if stats[1].Provider != "secondary" || stats[1].ErrorRate != 0 {
		t.Errorf("expected secondary error rate 0, got %+v", stats[1])
	}
}

type interimProvider struct{}

func (p *interimProvider) Name() string { return "interim" }

func (p *interimProvider) Transcribe(ctx context.Context, audio []byte, format string) (stt.Result, error) {
	return stt.Result{Text: "final text", Confidence: 0.9}, nil
}

func (p *interimProvider) TranscribeWithInterim(ctx context.Context, audio []byte, format string, onInterim func(stt.Result)) (stt.Result, error) {
	onInterim(stt.Result{Text: "final", Confidence: 0.4})
	return stt.Result{Text: "final text", Confidence: 0.9}, nil
}
