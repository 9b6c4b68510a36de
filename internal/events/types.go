package events

import "github.com/smazurov/virtualcam/internal/media"

// Event type constants for kelindar/event.
const (
	TypeSessionOpened uint32 = iota + 1
	TypeSessionClosed
	TypeTargetClassified
	TypeDecoderStarted
	TypeDecoderStopped
	TypePlaybackFailed
	TypeNotice
	TypeFlagsChanged
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SessionOpenedEvent is published when a camera session context is (re)created.
type SessionOpenedEvent struct {
	Camera     string `json:"camera"`
	API        string `json:"api"`
	Generation uint64 `json:"generation"`
	Passive    bool   `json:"passive"`
}

// Type returns the event type identifier for SessionOpenedEvent.
func (e SessionOpenedEvent) Type() uint32 { return TypeSessionOpened }

// SessionClosedEvent is published after a session's bindings were torn down.
type SessionClosedEvent struct {
	Camera   string `json:"camera"`
	Reason   string `json:"reason"`
	Released int    `json:"released"`
}

// Type returns the event type identifier for SessionClosedEvent.
func (e SessionClosedEvent) Type() uint32 { return TypeSessionClosed }

// TargetClassifiedEvent records a routing decision for a client target.
type TargetClassifiedEvent struct {
	Camera  string `json:"camera"`
	Target  string `json:"target"`
	Role    string `json:"role"`
	Index   int    `json:"index"`
	Tracked bool   `json:"tracked"`
}

// Type returns the event type identifier for TargetClassifiedEvent.
func (e TargetClassifiedEvent) Type() uint32 { return TypeTargetClassified }

// DecoderStartedEvent is published when a decode task begins.
type DecoderStartedEvent struct {
	TaskID string `json:"task_id"`
	Path   string `json:"path"`
	Format string `json:"format"`
}

// Type returns the event type identifier for DecoderStartedEvent.
func (e DecoderStartedEvent) Type() uint32 { return TypeDecoderStarted }

// DecoderStoppedEvent is published when a decode task exits. Error is empty
// for a requested stop.
type DecoderStoppedEvent struct {
	TaskID string `json:"task_id"`
	Frames uint64 `json:"frames"`
	Loops  uint64 `json:"loops"`
	Error  string `json:"error,omitempty"`
}

// Type returns the event type identifier for DecoderStoppedEvent.
func (e DecoderStoppedEvent) Type() uint32 { return TypeDecoderStopped }

// PlaybackFailedEvent is published when a player could not start or died.
type PlaybackFailedEvent struct {
	Target string `json:"target"`
	Error  string `json:"error"`
}

// Type returns the event type identifier for PlaybackFailedEvent.
func (e PlaybackFailedEvent) Type() uint32 { return TypePlaybackFailed }

// NoticeEvent is a short operator-facing message. The host decides how to
// render it.
type NoticeEvent struct {
	Camera  string `json:"camera,omitempty"`
	Message string `json:"message"`
}

// Type returns the event type identifier for NoticeEvent.
func (e NoticeEvent) Type() uint32 { return TypeNotice }

// FlagsChangedEvent carries a fresh snapshot of the media directory markers.
type FlagsChangedEvent struct {
	Flags media.Flags `json:"flags"`
}

// Type returns the event type identifier for FlagsChangedEvent.
func (e FlagsChangedEvent) Type() uint32 { return TypeFlagsChanged }
