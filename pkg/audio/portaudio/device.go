// Package portaudio implements [audio.Device] on top of the system's default
// PortAudio input device.
//
// Building this package requires cgo and the PortAudio development headers.
package portaudio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/scribe/pkg/audio"
)

// Device opens the default PortAudio input device.
type Device struct{}

var _ audio.Device = Device{}

// New returns a PortAudio-backed device.
func New() Device { return Device{} }

// Open initialises PortAudio, opens the default input at format f and starts
// the stream. Any failure is reported as [audio.ErrDeviceUnavailable].
func (Device) Open(f audio.Format) (audio.InputStream, error) {
	if f.SampleWidth != 2 {
		return nil, fmt.Errorf("portaudio: %w: sample width %d", audio.ErrUnsupportedFormat, f.SampleWidth)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	in := make([]int16, f.FrameSize*f.Channels)
	stream, err := portaudio.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), f.FrameSize, in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open default input: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	slog.Debug("portaudio: input stream opened", "format", f.String())
	return &inputStream{stream: stream, in: in}, nil
}

type inputStream struct {
	stream *portaudio.Stream
	in     []int16
	once   sync.Once
	err    error
}

// Read blocks until PortAudio fills one buffer and returns it as PCM bytes.
func (s *inputStream) Read() ([]byte, error) {
	if err := s.stream.Read(); err != nil {
		// Input overflow drops samples but the buffer is still usable.
		if err != portaudio.InputOverflowed {
			return nil, fmt.Errorf("portaudio: read: %w", err)
		}
		slog.Warn("portaudio: input overflowed")
	}
	out := make([]byte, len(s.in)*2)
	for i, v := range s.in {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out, nil
}

func (s *inputStream) Close() error {
	s.once.Do(func() {
		if err := s.stream.Stop(); err != nil {
			s.err = fmt.Errorf("portaudio: stop: %w", err)
		}
		if err := s.stream.Close(); err != nil && s.err == nil {
			s.err = fmt.Errorf("portaudio: close: %w", err)
		}
		if err := portaudio.Terminate(); err != nil && s.err == nil {
			s.err = fmt.Errorf("portaudio: terminate: %w", err)
		}
	})
	return s.err
}
