package vad

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/earshot/earshot/pkg/audio"
)

const (
	testSampleRate = 16000
	frameDuration  = 20 * time.Millisecond
	frameSamples   = 320
)

// fakeSource delivers a pre-built frame sequence and then closes its frame
// channel, so segmentation of the whole stream is deterministic.
type fakeSource struct {
	frames  chan audio.Frame
	errs    chan error
	started bool
}

func newFakeSource(frames []audio.Frame) *fakeSource {
	fs := &fakeSource{
		frames: make(chan audio.Frame, len(frames)),
		errs:   make(chan error, 1),
	}
	for _, f := range frames {
		fs.frames <- f
	}
	close(fs.frames)
	return fs
}

func (fs *fakeSource) Start(ctx context.Context) error {
	if fs.started {
		return errors.New("already started")
	}
	fs.started = true
	return nil
}

func (fs *fakeSource) Frames() <-chan audio.Frame { return fs.frames }
func (fs *fakeSource) Errors() <-chan error { return fs.errs }
func (fs *fakeSource) Stop() error { return nil }

// buildStream renders alternating silence and tone spans into 20 ms frames.
// Spans are given in milliseconds; tone spans use a 1 kHz sine at 0.3 of
// full scale.
func buildStream(spans ...struct {
	ms   int
	tone bool
}) []audio.Frame {
	var frames []audio.Frame
	var offset time.Duration
	phase := 0
	for _, span := range spans {
		for ms := 0; ms < span.ms; ms += 20 {
			pcm := make([]byte, frameSamples*2)
			if span.tone {
				for i := 0; i < frameSamples; i++ {
					v := int16(0.3 * 32767 * math.Sin(2*math.Pi*1000*float64(phase+i)/testSampleRate))
					pcm[i*2] = byte(v)
					pcm[i*2+1] = byte(v >> 8)
				}
				phase += frameSamples
			}
			frames = append(frames, audio.Frame{
				PCM:        pcm,
				SampleRate: testSampleRate,
				Channels:   1,
				Timestamp:  offset,
			})
			offset += frameDuration
		}
	}
	return frames
}

func span(ms int, tone bool) struct {
	ms   int
	tone bool
} {
	return struct {
		ms   int
		tone bool
	}{ms, tone}
}

func collectUtterances(t *testing.T, s *Segmenter, wait time.Duration) []Utterance {
	t.Helper()
	var got []Utterance
	deadline := time.After(wait)
	for {
		select {
		case u := <-s.Utterances():
			got = append(got, u)
		case <-deadline:
			return got
		}
	}
}

func TestSegmenter_ToneInSilenceEmitsOneUtterance(t *testing.T) {
	stream := buildStream(span(1000, false), span(500, true), span(1500, false))
	s := New(newFakeSource(stream), Config{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	got := collectUtterances(t, s, 500*time.Millisecond)
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(got))
	}
	u := got[0]
	if u.Speech < 300*time.Millisecond {
		t.Fatalf("speech span %v, want >= 300ms", u.Speech)
	}
	if u.SampleRate != testSampleRate || u.Channels != 1 {
		t.Fatalf("format %d/%d, want %d/1", u.SampleRate, u.Channels, testSampleRate)
	}

	// Pre-roll pulls the start earlier than the tone onset at 1000 ms.
	if u.Start >= 1000*time.Millisecond {
		t.Fatalf("utterance start %v, want before tone onset", u.Start)
	}
	// Utterance holds pre-roll, tone, and trailing silence up to the
	// timeout, so it must be noticeably longer than the tone alone but must
	// not run to the end of the stream.
	if d := u.Duration(); d < 600*time.Millisecond || d > 2200*time.Millisecond {
		t.Fatalf("utterance duration %v, want tone plus bounded padding", d)
	}
}

func TestSegmenter_ConstantSilenceNeverEmits(t *testing.T) {
	stream := buildStream(span(5000, false))
	s := New(newFakeSource(stream), Config{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if got := collectUtterances(t, s, 300*time.Millisecond); len(got) != 0 {
		t.Fatalf("got %d utterances from constant silence, want 0", len(got))
	}
}

func TestSegmenter_ShortBurstDiscarded(t *testing.T) {
	stream := buildStream(span(1000, false), span(100, true), span(1500, false))
	s := New(newFakeSource(stream), Config{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if got := collectUtterances(t, s, 300*time.Millisecond); len(got) != 0 {
		t.Fatalf("got %d utterances from a 100ms burst, want 0", len(got))
	}
}

func TestSegmenter_TwoSeparatedBursts(t *testing.T) {
	stream := buildStream(
		span(1000, false), span(400, true),
		span(1500, false), span(400, true),
		span(1500, false),
	)
	s := New(newFakeSource(stream), Config{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	got := collectUtterances(t, s, 500*time.Millisecond)
	if len(got) != 2 {
		t.Fatalf("got %d utterances, want 2", len(got))
	}
	if got[1].Start <= got[0].Start {
		t.Fatalf("second utterance start %v not after first %v", got[1].Start, got[0].Start)
	}
}

func TestSegmenter_DoubleStartRejected(t *testing.T) {
	s := New(newFakeSource(nil), Config{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer s.Stop()
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("second Start succeeded, want error")
	}
}

func TestSegmenter_StopWithoutStart(t *testing.T) {
	s := New(newFakeSource(nil), Config{})
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop on unstarted segmenter: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestSegmenter_CaptureFaultSurfacesOnErrors(t *testing.T) {
	fs := &fakeSource{
		frames: make(chan audio.Frame),
		errs:   make(chan error, 1),
	}
	s := New(fs, Config{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	want := errors.New("device unplugged")
	fs.errs <- want

	select {
	case got := <-s.Errors():
		if !errors.Is(got, want) {
			t.Fatalf("got error %v, want %v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("capture fault never surfaced on Errors()")
	}
}

func TestSegmenter_FlushOnSourceExhaustion(t *testing.T) {
	// Tone runs to the end of the stream with no trailing silence; the
	// utterance completes via flush when the source closes.
	stream := buildStream(span(500, false), span(600, true))
	s := New(newFakeSource(stream), Config{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	got := collectUtterances(t, s, 500*time.Millisecond)
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1 from flush", len(got))
	}
	if got[0].Speech < 300*time.Millisecond {
		t.Fatalf("flushed speech span %v, want >= 300ms", got[0].Speech)
	}
}
