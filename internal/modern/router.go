// Package modern routes the multi-target camera API onto the substitute
// video. Every capture session is redirected to one engine-owned target; the
// client's own targets are tracked by role and fed directly when the capture
// request is built: readers by a decoder, previews by a player.
package modern

import (
	"fmt"
	"sync"

	"github.com/smazurov/virtualcam/internal/decoder"
	"github.com/smazurov/virtualcam/internal/events"
	"github.com/smazurov/virtualcam/internal/logging"
	"github.com/smazurov/virtualcam/internal/media"
	"github.com/smazurov/virtualcam/internal/player"
	"github.com/smazurov/virtualcam/internal/session"
)

// readerInfo is the last ImageReader the client created.
type readerInfo struct {
	width  int
	height int
	format int
	seen   bool
}

// Router implements the camera-device hooks of the modern API.
type Router struct {
	lib      *media.Library
	dec      *decoder.Decoder
	sessions *session.Manager
	arbiter  *player.Arbiter
	notifier *events.Notifier
	bus      *events.Bus
	logger   logging.Logger

	mu      sync.Mutex
	current map[string]*Session
	reader  readerInfo
}

// Option configures a Router.
type Option func(*Router)

// WithArbiter shares audio arbitration with other routers.
func WithArbiter(a *player.Arbiter) Option {
	return func(r *Router) { r.arbiter = a }
}

// WithNotifier sets where operator notices go.
func WithNotifier(n *events.Notifier) Option {
	return func(r *Router) { r.notifier = n }
}

// WithEventBus publishes routing decisions and player failures on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(r *Router) { r.bus = bus }
}

// NewRouter creates a modern-API router.
func NewRouter(lib *media.Library, dec *decoder.Decoder, sessions *session.Manager, logger logging.Logger, opts ...Option) *Router {
	r := &Router{
		lib:      lib,
		dec:      dec,
		sessions: sessions,
		logger:   logger,
		current:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.arbiter == nil {
		r.arbiter = player.NewArbiter()
	}
	return r
}

func (r *Router) guard(hook string) {
	if v := recover(); v != nil {
		r.logger.Error("Hook panicked", "hook", hook, "panic", v)
	}
}

// OpenDevice handles a camera device being opened. Everything bound to the
// camera's previous session is torn down and a new session with a fresh
// substitute target begins. Without a video, or while disabled, the session
// is passive and every hook passes through.
func (r *Router) OpenDevice(id string) (s *Session) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("Hook panicked", "hook", "OpenDevice", "panic", v)
			s = newPassiveSession(r, id)
		}
	}()

	hasVideo := r.lib.HasVideo()
	if !hasVideo {
		r.notifier.Notify(id, "no substitute video, camera not replaced")
	}
	passive := !hasVideo || r.lib.Disabled()

	ctx := r.sessions.Open(id, passive)
	s = newSession(r, ctx, passive)

	r.mu.Lock()
	old := r.current[id]
	r.current[id] = s
	r.mu.Unlock()
	if old != nil {
		old.releaseSubstitute()
	}
	return s
}

// Session returns the current session of a camera, or nil.
func (r *Router) Session(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current[id]
}

// ImageReaderCreated records a reader the client created. Its format is
// used for reader targets that do not declare one.
func (r *Router) ImageReaderCreated(width, height, format int) {
	defer r.guard("ImageReaderCreated")
	r.mu.Lock()
	r.reader = readerInfo{width: width, height: height, format: format, seen: true}
	r.mu.Unlock()
	r.logger.Info("Image reader created", "width", width, "height", height, "format", format)
	r.notifier.Notify("", fmt.Sprintf("image reader %dx%d format %d", width, height, format))
}

// lastReaderFormat returns the format of the last observed reader.
func (r *Router) lastReaderFormat() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reader.format, r.reader.seen
}

func (r *Router) forget(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current[s.id] == s {
		delete(r.current, s.id)
	}
}
