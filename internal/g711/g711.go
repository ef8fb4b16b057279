// Package g711 converts between 16-bit linear PCM and the law a trunk runs.
package g711

import (
	law "github.com/zaf/g711"

	"github.com/pccr10001/trunkie/internal/frame"
)

func Encode(codec frame.Codec, pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = EncodeSample(codec, s)
	}
	return out
}

func Decode(codec frame.Codec, data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = DecodeSample(codec, b)
	}
	return out
}

func EncodeSample(codec frame.Codec, s int16) byte {
	// the encoders negate the sample, which overflows at the minimum
	if s == -32768 {
		s = -32767
	}
	if codec == frame.ULaw {
		return law.EncodeUlawFrame(s)
	}
	return law.EncodeAlawFrame(s)
}

func DecodeSample(codec frame.Codec, b byte) int16 {
	if codec == frame.ULaw {
		return law.DecodeUlawFrame(b)
	}
	return law.DecodeAlawFrame(b)
}

func clamp(v int) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// Mix sums two decoded streams with saturation. The shorter one is treated as silence.
func Mix(a, b []int16) []int16 {
	n := max(len(a), len(b))
	out := make([]int16, n)
	for i := range out {
		var v int
		if i < len(a) {
			v += int(a[i])
		}
		if i < len(b) {
			v += int(b[i])
		}
		out[i] = clamp(v)
	}
	return out
}
