package decoder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/virtualcam/internal/surface"
	"github.com/smazurov/virtualcam/internal/yuv"
)

// Task is one running decode. Its methods are safe for concurrent use.
type Task struct {
	id     string
	path   string
	format yuv.Format
	sink   surface.Sink

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	frames   atomic.Uint64
	loops    atomic.Uint64
	released atomic.Bool

	mu        sync.Mutex
	state     State
	startedAt time.Time
	err       error
}

// ID returns the task identifier.
func (t *Task) ID() string { return t.id }

// Format returns the output format.
func (t *Task) Format() yuv.Format { return t.format }

// Sink returns the sink the task writes to.
func (t *Task) Sink() surface.Sink { return t.sink }

// Stop requests a cooperative stop and waits for the decode goroutine to
// exit. It is idempotent. It must not be called from the sink's WriteFrame.
func (t *Task) Stop() {
	t.mu.Lock()
	if t.state == StateRunning || t.state == StateStarting || t.state == StateIdle {
		t.state = StateStopping
	}
	t.mu.Unlock()

	t.cancel()
	<-t.done
}

// Release stops the task if needed and marks it released. It is idempotent.
func (t *Task) Release() {
	t.Stop()
	t.released.Store(true)
}

// Released reports whether Release was called.
func (t *Task) Released() bool { return t.released.Load() }

// Done is closed when the decode goroutine has exited.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the error that aborted the task, or nil.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Frames returns the number of frames handed to the sink.
func (t *Task) Frames() uint64 { return t.frames.Load() }

// Loops returns how many times the video restarted from the beginning.
func (t *Task) Loops() uint64 { return t.loops.Load() }

// Info returns a snapshot of the task.
func (t *Task) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Info{
		ID:        t.id,
		Path:      t.path,
		Format:    t.format.String(),
		State:     t.state,
		Frames:    t.frames.Load(),
		Loops:     t.loops.Load(),
		StartedAt: t.startedAt,
		LastError: t.err,
	}
}

func (t *Task) begin(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startedAt = now
	if t.state == StateIdle {
		t.state = StateStarting
	}
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateStopping {
		t.state = s
	}
}

func (t *Task) finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
	if err != nil {
		t.state = StateError
	} else {
		t.state = StateStopped
	}
}
