package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func putSample(pcm []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
}

// StereoToMono averages each interleaved L/R pair into one mono sample.
func StereoToMono(pcm []byte) []byte {
	n := len(pcm) / 4
	out := make([]byte, n*2)
	for i := range n {
		avg := (int32(sampleAt(pcm, 2*i)) + int32(sampleAt(pcm, 2*i+1))) / 2
		putSample(out, i, int16(min(max(avg, math.MinInt16), math.MaxInt16)))
	}
	return out
}

// ResampleMono16 converts 16-bit mono PCM from srcRate to dstRate by linear
// interpolation. Equal or invalid rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcN := len(pcm) / 2
	dstN := int(int64(srcN) * int64(dstRate) / int64(srcRate))
	if dstN == 0 {
		return nil
	}

	out := make([]byte, dstN*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstN {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := float64(sampleAt(pcm, idx))
		s1 := s0
		if idx+1 < srcN {
			s1 = float64(sampleAt(pcm, idx+1))
		}
		putSample(out, i, int16(s0*(1-frac)+s1*frac))
	}
	return out
}

// ComputeRMS returns the root-mean-square energy of 16-bit signed
// little-endian PCM, in sample units (0 to 32767). Buffers shorter than one
// sample yield 0.
func ComputeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(sampleAt(pcm, i))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// PCMToFloat32 converts 16-bit signed little-endian PCM to float32 samples
// normalised to [-1.0, 1.0]. A trailing odd byte is ignored.
func PCMToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		samples[i] = float32(sampleAt(pcm, i)) / 32768.0
	}
	return samples
}

// formatString returns e.g. "44100Hz mono".
func formatString(rate, channels int) string {
	switch channels {
	case 1:
		return fmt.Sprintf("%dHz mono", rate)
	case 2:
		return fmt.Sprintf("%dHz stereo", rate)
	default:
		return fmt.Sprintf("%dHz %dch", rate, channels)
	}
}
