package audio

import (
	"fmt"
	"time"
)

// AudioFrame is one fixed-size chunk of raw samples captured per read cycle.
// Frames are never mutated after capture; a recording is the ordered sequence
// of its frames.
type AudioFrame struct {
	// PCM audio data, little-endian int16.
	Data []byte

	// SampleRate in Hz (44100 for microphone capture, 16000 for whisper input).
	SampleRate int

	// Channels: 1 for mono.
	Channels int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Format describes the PCM layout of a capture stream or clip.
type Format struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels is the interleaved channel count.
	Channels int

	// SampleWidth is the number of bytes per sample. Only 2 (16-bit) is
	// supported for capture and container output.
	SampleWidth int

	// FrameSize is the number of samples per channel read in one capture cycle.
	FrameSize int
}

// DefaultFormat is the capture format used when none is configured:
// mono, 16-bit, 44100 Hz, 1024 samples per frame.
var DefaultFormat = Format{
	SampleRate:  44100,
	Channels:    1,
	SampleWidth: 2,
	FrameSize:   1024,
}

// Validate reports whether f describes a PCM layout this package can capture
// and encode.
func (f Format) Validate() error {
	switch {
	case f.SampleRate <= 0:
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	case f.Channels <= 0:
		return fmt.Errorf("audio: channel count must be positive, got %d", f.Channels)
	case f.SampleWidth != 2:
		return fmt.Errorf("%w: sample width %d bytes", ErrUnsupportedFormat, f.SampleWidth)
	case f.FrameSize <= 0:
		return fmt.Errorf("audio: frame size must be positive, got %d", f.FrameSize)
	}
	return nil
}

// FrameBytes returns the byte length of one capture frame.
func (f Format) FrameBytes() int {
	return f.FrameSize * f.Channels * f.SampleWidth
}

// BytesPerSecond returns the PCM byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.SampleWidth
}

// FrameDuration returns the wall-clock length of one capture frame.
func (f Format) FrameDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.FrameSize) * time.Second / time.Duration(f.SampleRate)
}

// FramesFor returns the number of whole frames needed to record d, computed
// as int(rate / frameSize * seconds).
func (f Format) FramesFor(d time.Duration) int {
	if f.FrameSize <= 0 {
		return 0
	}
	return int(float64(f.SampleRate) / float64(f.FrameSize) * d.Seconds())
}

// String returns e.g. "44100Hz mono 16-bit".
func (f Format) String() string {
	return fmt.Sprintf("%s %d-bit", formatString(f.SampleRate, f.Channels), f.SampleWidth*8)
}
