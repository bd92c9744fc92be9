package audio

import (
	"math"
	"testing"
)

func TestMulawRoundTrip(t *testing.T) {
	// mu-law is lossy but a encode/decode round trip must stay within one
	// quantization step of the original.
	samples := []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 32000, -32000}
	for _, s := range samples {
		b := linearToMulaw(s)
		got := mulawToLinear(b)
		diff := int(got) - int(s)
		if diff < 0 {
			diff = -diff
		}
		// Step size grows with amplitude; allow the coarsest segment.
		if diff > 1024 {
			t.Errorf("round trip for %d: got %d (diff %d)", s, got, diff)
		}
	}
}

func TestMulawSilence(t *testing.T) {
	if got := mulawToLinear(linearToMulaw(0)); got != 0 {
		t.Errorf("silence should survive round trip, got %d", got)
	}
}

func TestDecodeMulawEmpty(t *testing.T) {
	if _, err := DecodeMulaw(nil); err != ErrEmptyInput {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
	if _, err := EncodeMulaw(nil); err != ErrEmptyInput {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
}

func TestDecodeAndUpsampleUnsupportedRate(t *testing.T) {
	if _, err := DecodeAndUpsample([]byte{0x7f}, 11025, 16000); err != ErrUnsupportedFormat {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := DownsampleAndEncode([]int16{1, 2, 3}, 44100); err != ErrUnsupportedFormat {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestDecodeAndUpsampleEmpty(t *testing.T) {
	if _, err := DecodeAndUpsample(nil, 8000, 16000); err != ErrEmptyInput {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
	if _, err := DownsampleAndEncode(nil, 16000); err != ErrEmptyInput {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
}

func TestDecodeAndUpsampleCount(t *testing.T) {
	// One 20ms telephony frame: 160 mu-law bytes -> 320 samples at 16kHz.
	frame := make([]byte, 160)
	for i := range frame {
		frame[i] = linearToMulaw(int16(i * 50))
	}
	pcm, err := DecodeAndUpsample(frame, 8000, 16000)
	if err != nil {
		t.Fatalf("DecodeAndUpsample: %v", err)
	}
	if len(pcm) != 320 {
		t.Errorf("expected 320 samples, got %d", len(pcm))
	}
}

func TestConverterRoundTripTone(t *testing.T) {
	// A 440Hz tone encoded at the telephony rate, upsampled for the STT
	// engine and brought back down, must preserve the sample count and
	// still correlate strongly with the original signal.
	const n = 800 // 100ms at 8kHz
	tone := sineTone(440, 8000, n, 12000)

	mulaw, err := EncodeMulaw(tone)
	if err != nil {
		t.Fatalf("EncodeMulaw: %v", err)
	}

	wide, err := DecodeAndUpsample(mulaw, 8000, 16000)
	if err != nil {
		t.Fatalf("DecodeAndUpsample: %v", err)
	}
	if len(wide) != 2*n {
		t.Fatalf("expected %d wideband samples, got %d", 2*n, len(wide))
	}

	back, err := DownsampleAndEncode(wide, 16000)
	if err != nil {
		t.Fatalf("DownsampleAndEncode: %v", err)
	}
	if len(back) != n {
		t.Fatalf("expected %d narrowband bytes after round trip, got %d", n, len(back))
	}

	decoded, err := DecodeMulaw(back)
	if err != nil {
		t.Fatalf("DecodeMulaw: %v", err)
	}
	if c := correlate(tone, decoded); c < 0.85 {
		t.Errorf("round-trip correlation %.3f below threshold", c)
	}
}

// sineTone generates a pure tone at freq Hz sampledAt rate with the given
// peak amplitude.
func sineTone(freq, rate, n int, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * math.Sin(2*math.Pi*float64(freq)*float64(i)/float64(rate)))
	}
	return out
}

// correlate computes the zero-lag normalized cross-correlation of a and b.
func correlate(a, b []int16) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}
