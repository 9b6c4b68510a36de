// Package frameslot hands raw frames from a decode goroutine to a client
// callback goroutine through a single latest-wins slot.
package frameslot

import (
	"errors"
	"sync"
	"time"

	"github.com/smazurov/virtualcam/internal/surface"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("frame slot closed")
	// ErrTimeout is returned when no frame arrived within the wait bound.
	ErrTimeout = errors.New("timed out waiting for first frame")
)

// Stats describes slot traffic.
type Stats struct {
	Frames     uint64 // frames written
	Reads      uint64 // successful copies out
	Overwrites uint64 // frames replaced before anyone read them
	Size       int    // bytes in the current frame
}

// Slot holds the most recent complete frame.
//
// The slot owns its buffer: writers copy in and readers copy out, both under
// mu, so a reader never sees a frame that is half overwritten. There is no
// queue; a newer frame replaces an unread one.
type Slot struct {
	mu     sync.Mutex
	buf    []byte
	size   int
	seq    uint64
	readAt uint64

	frames     uint64
	reads      uint64
	overwrites uint64

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
	closed    bool
}

// New creates an empty slot.
func New() *Slot {
	return &Slot{
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Put stores a copy of data as the current frame.
func (s *Slot) Put(data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if cap(s.buf) < len(data) {
		s.buf = make([]byte, len(data))
	}
	s.buf = s.buf[:len(data)]
	s.size = copy(s.buf, data)

	if s.seq > s.readAt {
		s.overwrites++
	}
	s.seq++
	s.frames++
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	return nil
}

// WriteFrame implements surface.Sink.
func (s *Slot) WriteFrame(f *surface.Frame) error {
	return s.Put(f.Data)
}

// Ready is closed once the first frame has been stored.
func (s *Slot) Ready() <-chan struct{} {
	return s.ready
}

// HasFrame reports whether a frame has been stored.
func (s *Slot) HasFrame() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// CopyTo copies min(len(dst), frame size) bytes of the current frame into
// dst. It returns false if no frame has been stored yet.
func (s *Slot) CopyTo(dst []byte) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == 0 {
		return 0, false
	}
	n := copy(dst, s.buf[:s.size])
	s.readAt = s.seq
	s.reads++
	return n, true
}

// WaitCopy blocks until a first frame exists, then behaves like CopyTo.
// The wait is bounded by timeout; a non-positive timeout does not wait.
func (s *Slot) WaitCopy(dst []byte, timeout time.Duration) (int, error) {
	if !s.HasFrame() {
		if timeout <= 0 {
			return 0, ErrTimeout
		}
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-s.ready:
		case <-s.done:
			return 0, ErrClosed
		case <-timer.C:
			return 0, ErrTimeout
		}
	}

	n, ok := s.CopyTo(dst)
	if !ok {
		return 0, ErrTimeout
	}
	return n, nil
}

// Close wakes waiters. Later writes fail with ErrClosed; the last frame stays readable.
func (s *Slot) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
}

// Stats returns a snapshot of slot counters.
func (s *Slot) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Frames:     s.frames,
		Reads:      s.reads,
		Overwrites: s.overwrites,
		Size:       s.size,
	}
}
