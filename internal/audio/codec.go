// Package audio converts between the telephony provider's narrowband
// G.711 mu-law frames and the linear PCM the transcription engine expects.
// All functions are pure and safe for concurrent use across call sessions.
package audio

import "errors"

// Telephony providers stream 8kHz mu-law; the STT engine wants 16kHz PCM16.
const (
	TelephonyRate = 8000
	STTRate       = 16000
)

// Errors returned by the converter. Callers drop the frame and keep going;
// neither is fatal to a call.
var (
	ErrEmptyInput        = errors.New("audio: empty input buffer")
	ErrUnsupportedFormat = errors.New("audio: unsupported sample rate or encoding")
)

// supportedRates are the sample rates the converter accepts. 24kHz covers
// the synthesis service's native output.
var supportedRates = map[int]bool{
	8000:  true,
	16000: true,
	24000: true,
}

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// mulawToLinear expands one G.711 mu-law byte to a 16-bit linear sample.
func mulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F
	value := (int(mant) << 3) + muLawBias
	value <<= uint(exp)
	value -= muLawBias
	if sign != 0 {
		return int16(-value)
	}
	return int16(value)
}

// linearToMulaw compresses a 16-bit linear sample to one G.711 mu-law byte.
func linearToMulaw(s int16) byte {
	sign := byte(0)
	v := int(s)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias

	exp := byte(7)
	for mask := 0x4000; exp > 0 && v&mask == 0; mask >>= 1 {
		exp--
	}
	mant := byte((v >> (exp + 3)) & 0x0F)
	return ^(sign | exp<<4 | mant)
}

// DecodeMulaw expands a mu-law byte stream to 16-bit linear PCM.
func DecodeMulaw(data []byte) ([]int16, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = mulawToLinear(b)
	}
	return out, nil
}

// EncodeMulaw compresses 16-bit linear PCM to a mu-law byte stream.
func EncodeMulaw(pcm []int16) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = linearToMulaw(s)
	}
	return out, nil
}

// DecodeAndUpsample converts mu-law audio at srcRate into linear PCM at
// dstRate. This is the inbound leg: provider frame in, STT-ready PCM out.
func DecodeAndUpsample(mulaw []byte, srcRate, dstRate int) ([]int16, error) {
	if len(mulaw) == 0 {
		return nil, ErrEmptyInput
	}
	if !supportedRates[srcRate] || !supportedRates[dstRate] {
		return nil, ErrUnsupportedFormat
	}
	pcm, err := DecodeMulaw(mulaw)
	if err != nil {
		return nil, err
	}
	return Resample(pcm, srcRate, dstRate)
}

// DownsampleAndEncode converts linear PCM at srcRate into mu-law audio at
// the telephony rate. This is the outbound leg: synthesis PCM in, provider
// frame payload out.
func DownsampleAndEncode(pcm []int16, srcRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyInput
	}
	if !supportedRates[srcRate] {
		return nil, ErrUnsupportedFormat
	}
	narrow, err := Resample(pcm, srcRate, TelephonyRate)
	if err != nil {
		return nil, err
	}
	return EncodeMulaw(narrow)
}
