// Package mock provides a scripted in-memory implementation of [audio.Device]
// for use in unit tests.
//
// The mock is safe for concurrent use. It records every Open call and every
// stream it hands out so that tests can assert on them, and it exposes
// exported fields that the test sets to control behaviour.
//
// Typical usage:
//
//	dev := &mock.Device{Frames: [][]byte{f1, f2, f3}}
//	s := audio.NewSession(dev, audio.DefaultFormat, audio.WithMaxFrames(3))
//	_ = s.Start(ctx)
//	<-s.Done()
//	_ = s.Stop()
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/scribe/pkg/audio"
)

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// Frames are returned by successive Read calls on every opened stream,
	// in order. Once exhausted, streams return zeroed frames of the
	// requested size, or ReadErr when it is set.
	Frames [][]byte

	// ReadDelay is slept before each Read returns.
	ReadDelay time.Duration

	// OpenErr is returned by [Device.Open] when non-nil.
	OpenErr error

	// ReadErr is returned by Read after Frames are exhausted.
	ReadErr error

	// CloseErr is returned by [Stream.Close].
	CloseErr error

	// OpenCalls records the format of every Open call.
	OpenCalls []audio.Format

	// Streams records every stream handed out by Open.
	Streams []*Stream
}

var _ audio.Device = (*Device)(nil)

// Open implements [audio.Device].
func (d *Device) Open(f audio.Format) (audio.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, f)
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	s := &Stream{
		frames:   d.Frames,
		size:     f.FrameBytes(),
		delay:    d.ReadDelay,
		readErr:  d.ReadErr,
		closeErr: d.CloseErr,
	}
	d.Streams = append(d.Streams, s)
	return s, nil
}

// OpenCount returns the number of Open calls.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// Stream is the [audio.InputStream] returned by [Device.Open].
type Stream struct {
	mu       sync.Mutex
	frames   [][]byte
	next     int
	size     int
	delay    time.Duration
	readErr  error
	closeErr error

	reads  int
	closed int
}

var _ audio.InputStream = (*Stream)(nil)

// Read implements [audio.InputStream].
func (s *Stream) Read() ([]byte, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.next < len(s.frames) {
		f := s.frames[s.next]
		s.next++
		return append([]byte(nil), f...), nil
	}
	if s.readErr != nil {
		return nil, s.readErr
	}
	return make([]byte, s.size), nil
}

// Close implements [audio.InputStream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return s.closeErr
}

// Reads returns the number of Read calls.
func (s *Stream) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Closed returns the number of Close calls.
func (s *Stream) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
