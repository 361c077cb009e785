// Package audio captures microphone audio and encodes it into clips that a
// speech-to-text backend can consume.
//
// The two primary abstractions are:
//
//   - [Device]: an audio input that can be opened at a fixed [Format].
//   - [InputStream]: an open device handle that yields one frame per read.
//
// A [Session] owns one recording attempt on top of a Device. Concrete devices
// live in adapter packages (e.g., audio/portaudio); audio/mock provides a
// scripted device for tests.
package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable is returned when the input device cannot be
	// acquired. It is fatal to the capture attempt.
	ErrDeviceUnavailable = errors.New("audio: input device unavailable")

	// ErrInvalidTransition is returned when a capture operation is called in
	// a state that does not permit it.
	ErrInvalidTransition = errors.New("audio: invalid state transition")

	// ErrDeviceBusy is returned by an [Exclusive] device when a second stream
	// is opened while the first is still held. It matches
	// [ErrInvalidTransition] under errors.Is.
	ErrDeviceBusy = fmt.Errorf("%w: input device already held by another session", ErrInvalidTransition)

	// ErrUnsupportedFormat is returned for PCM layouts other than 16-bit
	// linear PCM.
	ErrUnsupportedFormat = errors.New("audio: unsupported format")
)

// InputStream is an open, exclusively-held audio input.
//
// Implementations need not be safe for concurrent use; a [Session] reads from
// a single goroutine and closes the stream only after that goroutine exits.
type InputStream interface {
	// Read blocks until one full frame is available and returns it as a
	// freshly allocated little-endian int16 buffer of [Format.FrameBytes]
	// length. The caller owns the returned slice.
	Read() ([]byte, error)

	// Close releases the underlying device.
	Close() error
}

// Device opens input streams.
type Device interface {
	// Open acquires the device at the requested format. A failure to acquire
	// the device should wrap [ErrDeviceUnavailable].
	Open(f Format) (InputStream, error)
}
