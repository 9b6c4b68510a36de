// Package surface defines the targets frames are delivered to: raw sinks,
// client rendering surfaces and the engine-owned substitute textures.
package surface

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/virtualcam/internal/yuv"
)

// ErrReleased is returned when writing to a released surface.
var ErrReleased = errors.New("surface released")

// Frame is one picture handed to a sink.
//
// Raw frames carry packed bytes in Data. Frames from a decoder running in
// surface mode carry the decoded picture in Image instead; it is only valid
// for the duration of WriteFrame.
type Frame struct {
	Data      []byte
	Format    yuv.Format
	Width     int
	Height    int
	Timestamp time.Duration
	Image     *yuv.Image
}

// Sink consumes frames.
type Sink interface {
	WriteFrame(f *Frame) error
}

// Surface is a client rendering target.
type Surface interface {
	Sink
	fmt.Stringer
	Valid() bool
}

// Role is what a client target is used for.
type Role int

const (
	RoleUnknown Role = iota
	RolePreview
	RoleReader
)

func (r Role) String() string {
	switch r {
	case RolePreview:
		return "preview"
	case RoleReader:
		return "reader"
	default:
		return "unknown"
	}
}

// RoleReporter is implemented by surfaces that know their own role.
type RoleReporter interface {
	SurfaceRole() Role
}

// FormatReporter is implemented by reader surfaces that declare the image
// format they were created with.
type FormatReporter interface {
	ImageFormat() int
}

// VolumeControl is implemented by surfaces that also play the audio track.
type VolumeControl interface {
	SetVolume(v float64)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(f *Frame) error

// WriteFrame implements Sink.
func (fn SinkFunc) WriteFrame(f *Frame) error { return fn(f) }

var textureSeq atomic.Uint64

// Texture is an engine-owned substitute target handed to clients in place
// of their own. Whatever the client renders into it is counted and dropped.
type Texture struct {
	id   uint64
	name string

	mu       sync.Mutex
	released bool
	frames   uint64
	width    int
	height   int
}

// NewTexture allocates a substitute texture.
func NewTexture(name string) *Texture {
	id := textureSeq.Add(1)
	if name == "" {
		name = fmt.Sprintf("virtual-%d", id)
	}
	return &Texture{id: id, name: name}
}

// ID returns the texture's process-unique identifier.
func (t *Texture) ID() uint64 { return t.id }

// WriteFrame implements Sink.
func (t *Texture) WriteFrame(f *Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return ErrReleased
	}
	t.frames++
	t.width, t.height = f.Width, f.Height
	return nil
}

// String renders the handle the way platform surfaces describe themselves.
func (t *Texture) String() string {
	return fmt.Sprintf("Surface(name=%s)", t.name)
}

// Valid reports whether the texture has not been released.
func (t *Texture) Valid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.released
}

// Release invalidates the texture. It is safe to call more than once.
func (t *Texture) Release() {
	t.mu.Lock()
	t.released = true
	t.mu.Unlock()
}

// Frames returns the number of frames written so far.
func (t *Texture) Frames() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

// substitute marks engine-owned targets.
func (t *Texture) substitute() {}

// IsSubstitute reports whether s was allocated by the engine.
func IsSubstitute(s any) bool {
	_, ok := s.(interface{ substitute() })
	return ok
}
