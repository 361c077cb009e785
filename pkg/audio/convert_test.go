package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/scribe/pkg/audio"
)

// samplesToBytes converts int16 samples to little-endian PCM.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts little-endian PCM to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestStereoToMono(t *testing.T) {
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	got := bytesToSamples(audio.StereoToMono(stereo))
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

func TestStereoToMono_NoOverflow(t *testing.T) {
	stereo := samplesToBytes([]int16{math.MaxInt16, math.MaxInt16, math.MinInt16, math.MinInt16})
	got := bytesToSamples(audio.StereoToMono(stereo))
	if got[0] != math.MaxInt16 || got[1] != math.MinInt16 {
		t.Errorf("got %v, want [%d %d]", got, math.MaxInt16, math.MinInt16)
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := samplesToBytes([]int16{1, 2, 3})
	got := audio.ResampleMono16(pcm, 16000, 16000)
	if &got[0] != &pcm[0] {
		t.Error("expected input to be returned unchanged")
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	pcm := samplesToBytes(make([]int16, 44100))
	got := audio.ResampleMono16(pcm, 44100, 16000)
	if len(got) != 16000*2 {
		t.Errorf("len = %d, want %d", len(got), 16000*2)
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	pcm := samplesToBytes([]int16{0, 100})
	got := bytesToSamples(audio.ResampleMono16(pcm, 1, 2))
	want := []int16{0, 50, 100, 100}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16_InvalidRate(t *testing.T) {
	pcm := samplesToBytes([]int16{1, 2})
	if got := audio.ResampleMono16(pcm, 0, 16000); len(got) != len(pcm) {
		t.Errorf("zero source rate: len = %d, want %d", len(got), len(pcm))
	}
}

func TestComputeRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"empty", nil, 0},
		{"silence", []int16{0, 0, 0, 0}, 0},
		{"constant", []int16{1000, -1000, 1000, -1000}, 1000},
		{"mixed", []int16{3, 4}, math.Sqrt((9 + 16) / 2.0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := audio.ComputeRMS(samplesToBytes(tt.samples))
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ComputeRMS = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPCMToFloat32(t *testing.T) {
	got := audio.PCMToFloat32(append(samplesToBytes([]int16{math.MinInt16, 0, 16384}), 0xff))
	want := []float32{-1, 0, 0.5}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}
