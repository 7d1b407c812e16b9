package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/earshot/earshot/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestMonoToStereo(t *testing.T) {
	mono := samplesToBytes([]int16{100, 200, 300})
	stereo := audio.MonoToStereo(mono)
	got := bytesToSamples(stereo)
	want := []int16{100, 100, 200, 200, 300, 300}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200.
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	// Two max-positive samples should clamp to 32767 (not overflow).
	stereo := samplesToBytes([]int16{32767, 32767})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	if len(got) != 1 || got[0] != 32767 {
		t.Fatalf("got %v, want [32767]", got)
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	// 6 samples at 48 kHz → 2 samples at 16 kHz (1/3x).
	pcm := samplesToBytes([]int16{100, 200, 300, 400, 500, 600})
	out := audio.ResampleMono16(pcm, 48000, 16000)
	got := bytesToSamples(out)
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0] != 100 {
		t.Errorf("first sample: got %d, want 100", got[0])
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	// 2 samples at 16 kHz → 6 samples at 48 kHz (3x).
	pcm := samplesToBytes([]int16{1000, 2000})
	out := audio.ResampleMono16(pcm, 16000, 48000)
	got := bytesToSamples(out)
	if len(got) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	last := got[len(got)-1]
	if last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want close to 2000", last)
	}
}

func TestResampleMono16_InvalidRates(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200})
	for _, rates := range [][2]int{{0, 16000}, {16000, 0}, {-1, 16000}} {
		out := audio.ResampleMono16(pcm, rates[0], rates[1])
		if len(out) != len(pcm) {
			t.Errorf("rates %v: expected unchanged output, got len %d", rates, len(out))
		}
	}
}

func TestFormatConverter_NoOp(t *testing.T) {
	conv := audio.FormatConverter{
		Target: audio.Format{SampleRate: 16000, Channels: 1},
	}
	frame := audio.Frame{
		PCM:        samplesToBytes([]int16{100, 200}),
		SampleRate: 16000,
		Channels:   1,
	}
	result := conv.Convert(frame)
	// Same slice, checked by pointer equality.
	if &result.PCM[0] != &frame.PCM[0] {
		t.Error("expected same slice (zero allocation) for matching format")
	}
}

func TestFormatConverter_ToPipelineFormat(t *testing.T) {
	// 48 kHz stereo capture → 16 kHz mono pipeline format.
	conv := audio.FormatConverter{
		Target: audio.Format{SampleRate: 16000, Channels: 1},
	}
	src := make([]int16, 96) // 48 stereo frames = 1 ms at 48 kHz
	for i := range src {
		src[i] = int16(i * 10)
	}
	result := conv.Convert(audio.Frame{
		PCM:        samplesToBytes(src),
		SampleRate: 48000,
		Channels:   2,
	})
	if result.SampleRate != 16000 || result.Channels != 1 {
		t.Fatalf("unexpected format: %dHz %dch", result.SampleRate, result.Channels)
	}
	got := bytesToSamples(result.PCM)
	// 48 mono samples downmixed, then resampled 48k→16k → 16 samples.
	if len(got) != 16 {
		t.Fatalf("expected 16 samples, got %d", len(got))
	}
}

func TestFormatConverter_OddByteCount(t *testing.T) {
	conv := audio.FormatConverter{
		Target: audio.Format{SampleRate: 16000, Channels: 1},
	}
	result := conv.Convert(audio.Frame{
		PCM:        []byte{1, 2, 3}, // odd, invalid for int16 PCM
		SampleRate: 48000,
		Channels:   1,
	})
	if len(result.PCM) != 0 {
		t.Errorf("expected empty data for odd byte count, got %d bytes", len(result.PCM))
	}
	// Dropped frame should carry target format, not source format.
	if result.SampleRate != 16000 || result.Channels != 1 {
		t.Errorf("expected target format, got %dHz %dch", result.SampleRate, result.Channels)
	}
}

func TestConvertStream_DropsInvalidFrames(t *testing.T) {
	in := make(chan audio.Frame, 3)
	out := audio.ConvertStream(in, audio.Format{SampleRate: 16000, Channels: 1})

	in <- audio.Frame{PCM: samplesToBytes([]int16{100, 200}), SampleRate: 16000, Channels: 1}
	in <- audio.Frame{PCM: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1}
	in <- audio.Frame{PCM: samplesToBytes([]int16{300, 400}), SampleRate: 48000, Channels: 2}
	close(in)

	var results []audio.Frame
	for frame := range out {
		results = append(results, frame)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 frames (odd-byte frame dropped), got %d", len(results))
	}
	for i, f := range results {
		if f.SampleRate != 16000 || f.Channels != 1 {
			t.Errorf("frame %d: expected 16000Hz mono, got %dHz %dch", i, f.SampleRate, f.Channels)
		}
	}
}
