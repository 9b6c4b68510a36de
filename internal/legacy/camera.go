package legacy

import (
	"github.com/smazurov/virtualcam/internal/decoder"
	"github.com/smazurov/virtualcam/internal/frameslot"
	"github.com/smazurov/virtualcam/internal/surface"
)

// Camera is the client's camera object as seen by the hooks.
type Camera interface {
	// ID identifies the physical camera instance.
	ID() string
	// PreviewSize returns the negotiated preview dimensions.
	PreviewSize() (width, height int)
	// PreviewFrameRate returns the negotiated preview rate in frames per second.
	PreviewFrameRate() int
}

// PreviewCallback receives raw NV21 preview frames.
type PreviewCallback func(data []byte, cam Camera)

// PictureCallback receives a captured still, raw or JPEG.
type PictureCallback func(data []byte, cam Camera)

// CallbackKind is how a preview callback was registered.
type CallbackKind int

const (
	KindPlain CallbackKind = iota
	KindWithBuffer
	KindOneShot
)

func (k CallbackKind) String() string {
	switch k {
	case KindWithBuffer:
		return "with-buffer"
	case KindOneShot:
		return "one-shot"
	default:
		return "plain"
	}
}

// State is the routing state of one camera.
type State int

const (
	StateIdle State = iota
	StatePreviewTargetBound
	StateCallbackRegistered
	StateStreamingRaw
	StateSurfaceStreaming
)

func (s State) String() string {
	switch s {
	case StatePreviewTargetBound:
		return "preview-target-bound"
	case StateCallbackRegistered:
		return "callback-registered"
	case StateStreamingRaw:
		return "streaming-raw"
	case StateSurfaceStreaming:
		return "surface-streaming"
	default:
		return "idle"
	}
}

// camState is guarded by its session context lock.
type camState struct {
	state      State
	original   surface.Surface  // client's preview texture
	display    surface.Surface  // client's preview display
	textureSub *surface.Texture // handed to the client instead of original
	displaySub *surface.Texture // handed to the client instead of display
	width      int
	height     int
	fps        int
	feed       *rawFeed
}

// rawFeed is a decode task writing NV21 frames into a slot.
type rawFeed struct {
	task *decoder.Task
	slot *frameslot.Slot
	done chan struct{}
}

func startFeed(dec *decoder.Decoder, path string) (*rawFeed, error) {
	slot := frameslot.New()
	task, err := dec.Start(path, slot, yuvNV21)
	if err != nil {
		slot.Close()
		return nil, err
	}
	f := &rawFeed{task: task, slot: slot, done: make(chan struct{})}
	// A dead task closes the slot so callbacks stop waiting for it.
	go func() {
		defer close(f.done)
		<-task.Done()
		slot.Close()
	}()
	return f, nil
}

// Stop implements session.Resource.
func (f *rawFeed) Stop() { f.task.Stop() }

// Release implements session.Resource.
func (f *rawFeed) Release() {
	f.task.Release()
	f.slot.Close()
	<-f.done
}
