package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle position of a [Session].
type State int32

const (
	// StateIdle is the state of a freshly constructed [Session].
	StateIdle State = iota

	// StateRecording means the capture loop is running.
	StateRecording

	// StateStopped is terminal. The recorded frames may be read; the session
	// cannot record again.
	StateStopped
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// progressEvery is the number of frames between progress callbacks.
const progressEvery = 10

// Progress is reported to a [ProgressFunc] while a session records.
type Progress struct {
	// Frames captured so far.
	Frames int

	// Target is the frame limit, or 0 when recording until Stop.
	Target int

	// Captured is the audio length of Frames.
	Captured time.Duration

	// Total is the audio length of Target, or 0 when recording until Stop.
	Total time.Duration
}

// ProgressFunc receives capture progress from the capture goroutine. It must
// not block or call back into the session.
type ProgressFunc func(Progress)

// SessionOption is a functional option for [NewSession].
type SessionOption func(*Session)

// WithMaxFrames ends the capture loop on its own after n frames. The session
// stays in [StateRecording] until [Session.Stop] is called; callers wait on
// [Session.Done] for the limit. With n <= 0 the loop ends before the first
// read and the clip is empty. Without this option the session records until
// Stop.
func WithMaxFrames(n int) SessionOption {
	return func(s *Session) {
		s.bounded = true
		s.maxFrames = max(n, 0)
	}
}

// WithProgress registers fn to be called every 10 captured frames.
func WithProgress(fn ProgressFunc) SessionOption {
	return func(s *Session) {
		s.progress = fn
	}
}

// Session owns the mutable state of one recording attempt.
//
// The state machine is Idle → Recording → Stopped. A stopped session is never
// restarted; construct a new Session for another attempt.
//
// The capture goroutine is the only writer of the frame buffer. [Session.Stop]
// joins it before any read, so the buffer needs no lock of its own.
//
// All methods are safe for concurrent use.
type Session struct {
	device    Device
	format    Format
	maxFrames int
	bounded   bool
	progress  ProgressFunc

	mu     sync.Mutex
	state  State
	stream InputStream

	stopping atomic.Bool
	done     chan struct{}

	// Written only by the capture goroutine until done is closed.
	frames  []AudioFrame
	readErr error
}

// NewSession returns an idle session that will record from device at format f.
func NewSession(device Device, f Format, opts ...SessionOption) *Session {
	s := &Session{
		device: device,
		format: f,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Format returns the capture format.
func (s *Session) Format() Format { return s.format }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start opens the input device and launches the capture loop. ctx bounds the
// loop: cancellation ends capture as if the frame limit had been reached.
//
// Start returns an error wrapping [ErrInvalidTransition] unless the session
// is idle, and an error wrapping [ErrDeviceUnavailable] when the device cannot
// be acquired. A session whose Start failed is stopped and must be discarded.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("audio: start from %s: %w", s.state, ErrInvalidTransition)
	}
	if err := s.format.Validate(); err != nil {
		s.fail()
		return fmt.Errorf("audio: start: %w", err)
	}

	stream, err := s.device.Open(s.format)
	if err != nil {
		s.fail()
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrDeviceUnavailable) {
			return fmt.Errorf("audio: start: %w", err)
		}
		return fmt.Errorf("audio: start: %w: %w", ErrDeviceUnavailable, err)
	}

	s.stream = stream
	s.state = StateRecording
	go s.capture(ctx, stream)
	return nil
}

// fail moves an idle session straight to stopped. Caller holds s.mu.
func (s *Session) fail() {
	s.state = StateStopped
	close(s.done)
}

func (s *Session) capture(ctx context.Context, stream InputStream) {
	defer close(s.done)

	frameDur := s.format.FrameDuration()
	var total time.Duration
	if s.bounded {
		total = time.Duration(s.maxFrames) * frameDur
	}

	for !s.stopping.Load() {
		if ctx.Err() != nil {
			return
		}
		if s.bounded && len(s.frames) >= s.maxFrames {
			return
		}
		data, err := stream.Read()
		if err != nil {
			s.readErr = fmt.Errorf("audio: read frame %d: %w", len(s.frames), err)
			return
		}
		s.frames = append(s.frames, AudioFrame{
			Data:       data,
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  time.Duration(len(s.frames)) * frameDur,
		})

		n := len(s.frames)
		if s.progress != nil && n%progressEvery == 0 {
			s.progress(Progress{
				Frames:   n,
				Target:   s.maxFrames,
				Captured: time.Duration(n) * frameDur,
				Total:    total,
			})
		}
	}
}

// Done returns a channel that is closed when the capture loop has exited,
// either because of Stop, the frame limit, context cancellation, or a read
// error.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Stop ends the capture loop, waits for it to exit and closes the stream.
// Calling Stop before Start or more than once returns an error wrapping
// [ErrInvalidTransition].
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return fmt.Errorf("audio: stop from %s: %w", s.state, ErrInvalidTransition)
	}
	s.stopping.Store(true)
	<-s.done
	s.state = StateStopped

	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("audio: close stream: %w", err)
	}
	return nil
}

// Err returns the read error that ended the capture loop, if any. It returns
// nil while the loop is still running.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.readErr
	default:
		return nil
	}
}

// Frames returns the captured frames in capture order. It is only valid once
// the session is stopped.
func (s *Session) Frames() ([]AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		return nil, fmt.Errorf("audio: read frames while %s: %w", s.state, ErrInvalidTransition)
	}
	return s.frames, nil
}

// Clip encodes the captured frames. It is only valid once the session is
// stopped.
func (s *Session) Clip() (*Clip, error) {
	frames, err := s.Frames()
	if err != nil {
		return nil, err
	}
	return Encode(frames, s.format), nil
}
