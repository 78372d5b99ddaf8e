package stt

import (
	"encoding/binary"
	"math"
)

// PCM16 converts float samples to little-endian signed 16-bit PCM, clamping
// anything outside [-1, 1].
func PCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * math.MaxInt16))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
