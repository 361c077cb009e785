package stt

import (
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/scribe/pkg/audio"
)

const (
	// DefaultCalibrationWindow is the leading span of a clip sampled to
	// estimate ambient noise.
	DefaultCalibrationWindow = time.Second

	// calibrationChunk is the analysis granularity for energy measurements.
	calibrationChunk = 20 * time.Millisecond

	// MinEnergyThreshold and MaxEnergyThreshold bound the speech threshold,
	// in 16-bit sample units.
	MinEnergyThreshold = 300.0
	MaxEnergyThreshold = 3000.0

	// thresholdRatio is how far above the noise floor speech must be.
	thresholdRatio = 1.5
)

// Calibration is the result of noise-floor estimation for one clip.
type Calibration struct {
	// NoiseFloor is the lowest chunk RMS seen in the calibration window.
	NoiseFloor float64

	// Threshold is the RMS a chunk must reach to count as speech.
	Threshold float64
}

// chunkBytes returns the byte length of one analysis chunk, never less than
// one sample frame.
func chunkBytes(f audio.Format) int {
	block := max(f.Channels, 1) * max(f.SampleWidth, 1)
	samples := int(int64(f.SampleRate) * int64(calibrationChunk) / int64(time.Second))
	return max(samples, 1) * block
}

// Calibrate estimates the ambient noise floor over the first window of clip
// and derives an energy threshold of 1.5x the floor, clamped to
// [MinEnergyThreshold, MaxEnergyThreshold]. A window <= 0 uses
// [DefaultCalibrationWindow].
func Calibrate(clip *audio.Clip, window time.Duration) Calibration {
	if window <= 0 {
		window = DefaultCalibrationWindow
	}
	size := chunkBytes(clip.Format)
	limit := min(len(clip.PCM), int(int64(clip.Format.BytesPerSecond())*int64(window)/int64(time.Second)))

	floor := math.Inf(1)
	for off := 0; off < limit; off += size {
		floor = min(floor, audio.ComputeRMS(clip.PCM[off:min(off+size, limit)]))
	}
	if math.IsInf(floor, 1) {
		floor = 0
	}
	return Calibration{
		NoiseFloor: floor,
		Threshold:  min(max(floor*thresholdRatio, MinEnergyThreshold), MaxEnergyThreshold),
	}
}

// PrepareClip calibrates against clip and trims leading and trailing chunks
// below the speech threshold. A clip that is empty or never crosses the
// threshold yields an error wrapping [ErrUnintelligible].
//
// The returned clip aliases the input PCM and must be treated as read-only.
func PrepareClip(clip *audio.Clip, window time.Duration) (*audio.Clip, Calibration, error) {
	if clip == nil || clip.Empty() {
		return nil, Calibration{}, fmt.Errorf("stt: empty clip: %w", ErrUnintelligible)
	}
	cal := Calibrate(clip, window)
	size := chunkBytes(clip.Format)

	first, last := -1, -1
	for off := 0; off < len(clip.PCM); off += size {
		if audio.ComputeRMS(clip.PCM[off:min(off+size, len(clip.PCM))]) >= cal.Threshold {
			if first < 0 {
				first = off
			}
			last = off
		}
	}
	if first < 0 {
		return nil, cal, fmt.Errorf("stt: no chunk above energy threshold %.0f: %w", cal.Threshold, ErrUnintelligible)
	}
	return &audio.Clip{
		Format: clip.Format,
		PCM:    clip.PCM[first:min(last+size, len(clip.PCM))],
	}, cal, nil
}
