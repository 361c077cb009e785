package audio

import (
	"sync"
	"sync/atomic"
)

// ExclusiveDevice wraps a [Device] so that at most one stream is open at a
// time. Opening while a stream is held returns [ErrDeviceBusy].
type ExclusiveDevice struct {
	dev  Device
	held atomic.Bool
}

var _ Device = (*ExclusiveDevice)(nil)

// Exclusive returns d wrapped with single-holder semantics.
func Exclusive(d Device) *ExclusiveDevice {
	return &ExclusiveDevice{dev: d}
}

// Held reports whether a stream is currently open.
func (e *ExclusiveDevice) Held() bool { return e.held.Load() }

// Open implements [Device].
func (e *ExclusiveDevice) Open(f Format) (InputStream, error) {
	if !e.held.CompareAndSwap(false, true) {
		return nil, ErrDeviceBusy
	}
	st, err := e.dev.Open(f)
	if err != nil {
		e.held.Store(false)
		return nil, err
	}
	return &heldStream{InputStream: st, release: func() { e.held.Store(false) }}, nil
}

// heldStream releases the exclusive hold exactly once on Close.
type heldStream struct {
	InputStream
	release func()
	once    sync.Once
	err     error
}

func (h *heldStream) Close() error {
	h.once.Do(func() {
		h.err = h.InputStream.Close()
		h.release()
	})
	return h.err
}
