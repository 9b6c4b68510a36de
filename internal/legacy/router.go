// Package legacy routes the single-camera legacy API onto the substitute
// video: preview textures and displays are swapped for engine-owned
// surfaces, raw preview callbacks are fed from a decoder, and still captures
// are replaced by the still image.
//
// Every hook fails open. Without a substitute video, when disabled, or on
// any internal failure the client's own arguments pass through.
package legacy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smazurov/virtualcam/internal/decoder"
	"github.com/smazurov/virtualcam/internal/events"
	"github.com/smazurov/virtualcam/internal/frameslot"
	"github.com/smazurov/virtualcam/internal/logging"
	"github.com/smazurov/virtualcam/internal/media"
	"github.com/smazurov/virtualcam/internal/metrics"
	"github.com/smazurov/virtualcam/internal/player"
	"github.com/smazurov/virtualcam/internal/session"
	"github.com/smazurov/virtualcam/internal/surface"
	"github.com/smazurov/virtualcam/internal/yuv"
)

// DefaultFirstFrameTimeout bounds how long a preview callback waits for the
// decoder's first frame.
const DefaultFirstFrameTimeout = 2 * time.Second

const yuvNV21 = yuv.FormatNV21

var (
	rawSlot     = session.Slot{Role: surface.RoleReader, Index: 0}
	displaySlot = session.Slot{Role: surface.RolePreview, Index: 0}
	textureSlot = session.Slot{Role: surface.RolePreview, Index: 1}
)

// Router implements the legacy camera hooks.
type Router struct {
	lib      *media.Library
	dec      *decoder.Decoder
	sessions *session.Manager
	arbiter  *player.Arbiter
	notifier *events.Notifier
	bus      *events.Bus
	logger   logging.Logger

	firstFrameTimeout time.Duration

	mu   sync.Mutex
	cams map[string]*camEntry
}

type camEntry struct {
	ctx   *session.Context
	state *camState
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

// WithEventBus publishes player failures on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(r *Router) { r.bus = bus }
}

// WithFirstFrameTimeout overrides DefaultFirstFrameTimeout.
func WithFirstFrameTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.firstFrameTimeout = d
		}
	}
}

// NewRouter creates a legacy router.
func NewRouter(lib *media.Library, dec *decoder.Decoder, sessions *session.Manager, logger logging.Logger, opts ...Option) *Router {
	r := &Router{
		lib:               lib,
		dec:               dec,
		sessions:          sessions,
		logger:            logger,
		firstFrameTimeout: DefaultFirstFrameTimeout,
		cams:              make(map[string]*camEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.arbiter == nil {
		r.arbiter = player.NewArbiter()
	}
	return r
}

// guard keeps a panic inside a hook from reaching the client.
func (r *Router) guard(hook string) {
	if v := recover(); v != nil {
		r.logger.Error("Hook panicked", "hook", hook, "panic", v)
	}
}

// state returns the session context and routing state of cam, starting
// fresh whenever the session was reopened.
func (r *Router) state(cam Camera) (*session.Context, *camState) {
	ctx := r.sessions.Get(cam.ID())
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.cams[cam.ID()]
	if e == nil || e.ctx != ctx {
		e = &camEntry{ctx: ctx, state: &camState{}}
		r.cams[cam.ID()] = e
	}
	return e.ctx, e.state
}

// State returns the routing state of a camera.
func (r *Router) State(id string) State {
	r.mu.Lock()
	e := r.cams[id]
	r.mu.Unlock()
	if e == nil {
		return StateIdle
	}
	e.ctx.Lock()
	defer e.ctx.Unlock()
	return e.state.state
}

// Open handles the camera being opened: the previous session of the camera
// is torn down and a fresh one begins.
func (r *Router) Open(cam Camera) {
	defer r.guard("Open")
	ctx := r.sessions.Open(cam.ID(), !r.lib.Active())
	r.mu.Lock()
	old := r.cams[cam.ID()]
	r.cams[cam.ID()] = &camEntry{ctx: ctx, state: &camState{}}
	r.mu.Unlock()
	if old != nil {
		old.ctx.Lock()
		releaseSubstitutes(old.state)
		old.ctx.Unlock()
	}
}

// Release handles the camera being released.
func (r *Router) Release(cam Camera) {
	defer r.guard("Release")
	r.closeCamera(cam, session.ReasonClosed)
}

// Error handles a camera error callback. Bindings are released according
// to the session manager's disconnect policy.
func (r *Router) Error(cam Camera, code int) {
	defer r.guard("Error")
	r.logger.Warn("Camera error", "camera", cam.ID(), "code", code)
	r.closeCamera(cam, session.ReasonError)
}

func (r *Router) closeCamera(cam Camera, reason string) {
	r.sessions.Close(cam.ID(), reason)
	if reason != session.ReasonClosed {
		return
	}
	r.mu.Lock()
	e := r.cams[cam.ID()]
	delete(r.cams, cam.ID())
	r.mu.Unlock()
	if e != nil {
		e.ctx.Lock()
		releaseSubstitutes(e.state)
		e.ctx.Unlock()
	}
}

func releaseSubstitutes(st *camState) {
	releaseTexture(&st.textureSub)
	releaseTexture(&st.displaySub)
}

func releaseTexture(t **surface.Texture) {
	if *t != nil {
		(*t).Release()
		*t = nil
	}
}

// SetPreviewTexture intercepts the preview texture registration and returns
// the texture the client should actually use.
func (r *Router) SetPreviewTexture(cam Camera, tex surface.Surface) (out surface.Surface) {
	out = tex
	defer r.guard("SetPreviewTexture")

	if tex == nil || surface.IsSubstitute(tex) {
		return tex
	}
	if !r.lib.HasVideo() {
		r.notifier.Notify(cam.ID(), "no substitute video, preview not replaced")
		return tex
	}
	if r.lib.Disabled() {
		r.logger.Debug("Substitution disabled, texture passed through", "camera", cam.ID())
		return tex
	}

	ctx, st := r.state(cam)
	ctx.Lock()
	defer ctx.Unlock()

	if st.original != nil && st.textureSub != nil {
		r.logger.Info("Preview texture registered again, reusing substitute", "camera", cam.ID(), "texture", tex.String())
		return st.textureSub
	}
	st.original = tex
	releaseTexture(&st.textureSub)
	st.textureSub = surface.NewTexture("")
	st.state = StatePreviewTargetBound
	r.logger.Info("Preview texture substituted", "camera", cam.ID(), "original", tex.String(), "substitute", st.textureSub.String())
	return st.textureSub
}

// WrapPreviewCallback returns the callback to register in place of cb.
func (r *Router) WrapPreviewCallback(cam Camera, cb PreviewCallback, kind CallbackKind) (out PreviewCallback) {
	out = cb
	defer r.guard("WrapPreviewCallback")
	if cb == nil {
		return nil
	}

	active := r.lib.Active()
	if !r.lib.HasVideo() {
		r.notifier.Notify(cam.ID(), "no substitute video, preview frames not replaced")
	}
	r.logger.Info("Preview callback registered", "camera", cam.ID(), "kind", kind.String(), "active", active)

	if !active {
		return func(data []byte, c Camera) {
			r.recordSize(cam)
			cb(data, c)
		}
	}

	ctx, st := r.state(cam)
	ctx.Lock()
	if st.state < StateCallbackRegistered {
		st.state = StateCallbackRegistered
	}
	ctx.Unlock()

	return func(data []byte, c Camera) {
		r.fillFrame(cam, data)
		cb(data, c)
	}
}

func (r *Router) recordSize(cam Camera) {
	defer r.guard("preview frame")
	ctx, st := r.state(cam)
	ctx.Lock()
	defer ctx.Unlock()
	if st.width == 0 {
		st.width, st.height = cam.PreviewSize()
		st.fps = cam.PreviewFrameRate()
		r.logger.Info("Preview observed", "camera", cam.ID(), "width", st.width, "height", st.height, "fps", st.fps)
	}
}

// fillFrame overwrites data with the latest decoded frame.
func (r *Router) fillFrame(cam Camera, data []byte) {
	defer r.guard("preview frame")

	slot, err := r.ensureFeed(cam, len(data))
	if err != nil || slot == nil {
		return
	}
	n, err := slot.WaitCopy(data, r.firstFrameTimeout)
	switch {
	case errors.Is(err, frameslot.ErrTimeout):
		metrics.SlotWaitTimeout()
		r.logger.Warn("No decoded frame in time, passing preview through", "camera", cam.ID(), "timeout", r.firstFrameTimeout)
	case errors.Is(err, frameslot.ErrClosed):
		r.logger.Debug("Feed closed before first frame", "camera", cam.ID())
	case n < len(data):
		r.logger.Debug("Decoded frame shorter than preview buffer", "camera", cam.ID(), "copied", n, "buffer", len(data))
	}
}

// ensureFeed starts the camera's decoder on its first preview frame and
// returns the slot it writes to.
func (r *Router) ensureFeed(cam Camera, bufLen int) (*frameslot.Slot, error) {
	ctx, st := r.state(cam)
	ctx.Lock()
	defer ctx.Unlock()

	if st.feed != nil {
		return st.feed.slot, nil
	}

	st.width, st.height = cam.PreviewSize()
	st.fps = cam.PreviewFrameRate()
	if want := yuv.Size(yuv.FormatNV21, st.width, st.height); want != bufLen {
		r.logger.Warn("Preview buffer does not match negotiated size", "camera", cam.ID(), "buffer", bufLen, "expected", want)
	}
	r.notifier.Notify(cam.ID(), fmt.Sprintf("preview %dx%d @ %d fps", st.width, st.height, st.fps))

	path := r.lib.VideoPath()
	res, err := ctx.Replace(rawSlot, func() (session.Resource, error) {
		return startFeed(r.dec, path)
	})
	if err != nil {
		r.logger.Error("Failed to start preview decoder", "camera", cam.ID(), "error", err)
		return nil, err
	}
	st.feed = res.(*rawFeed)
	st.state = StateStreamingRaw
	r.logger.Info("Preview decoder started", "camera", cam.ID(), "task", st.feed.task.ID(), "width", st.width, "height", st.height)
	return st.feed.slot, nil
}

// AddCallbackBuffer neutralizes a client-supplied preview buffer.
func (r *Router) AddCallbackBuffer(cam Camera, buf []byte) (out []byte) {
	out = buf
	defer r.guard("AddCallbackBuffer")
	if buf == nil || !r.lib.Active() {
		return buf
	}
	return make([]byte, len(buf))
}

// SetPreviewDisplay intercepts a display registration. When it returns true
// the caller must suppress the real call and install the returned surface.
func (r *Router) SetPreviewDisplay(cam Camera, display surface.Surface) (out surface.Surface, intercepted bool) {
	defer r.guard("SetPreviewDisplay")
	if !r.lib.Active() {
		if !r.lib.HasVideo() {
			r.notifier.Notify(cam.ID(), "no substitute video, display not replaced")
		}
		return nil, false
	}

	ctx, st := r.state(cam)
	ctx.Lock()
	defer ctx.Unlock()

	st.display = display
	releaseTexture(&st.displaySub)
	st.displaySub = surface.NewTexture("")
	if st.state < StatePreviewTargetBound {
		st.state = StatePreviewTargetBound
	}
	r.logger.Info("Preview display intercepted", "camera", cam.ID(), "substitute", st.displaySub.String())
	return st.displaySub, true
}

// StartPreview binds looping players to the remembered display and texture.
func (r *Router) StartPreview(cam Camera) {
	defer r.guard("StartPreview")
	if !r.lib.HasVideo() {
		r.notifier.Notify(cam.ID(), "no substitute video")
		return
	}
	if r.lib.Disabled() {
		return
	}

	ctx, st := r.state(cam)
	ctx.Lock()
	defer ctx.Unlock()

	// Players of an earlier start never overlap the new ones.
	ctx.Release(displaySlot)
	ctx.Release(textureSlot)

	path := r.lib.VideoPath()
	unmute := r.lib.Unmuted()
	started := 0

	if st.display != nil {
		if st.display.Valid() {
			if r.bindPlayer(ctx, displaySlot, st.display, path, unmute) {
				started++
			}
		} else {
			r.logger.Warn("Remembered display is no longer valid", "camera", cam.ID())
		}
	}
	if st.original != nil {
		if r.bindPlayer(ctx, textureSlot, st.original, path, unmute) {
			started++
		}
	}
	if started > 0 {
		st.state = StateSurfaceStreaming
	}
	r.logger.Info("Preview started", "camera", cam.ID(), "players", started)
}

func (r *Router) bindPlayer(ctx *session.Context, slot session.Slot, target surface.Surface, path string, unmute bool) bool {
	_, err := ctx.Replace(slot, func() (session.Resource, error) {
		p := player.New(r.dec, target, r.logger, player.WithArbiter(r.arbiter), player.WithEventBus(r.bus))
		if err := p.Start(path, unmute); err != nil {
			p.Release()
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		r.logger.Error("Failed to bind player", "camera", ctx.ID(), "target", target.String(), "error", err)
		return false
	}
	return true
}

// Players returns the players bound to a camera's preview targets.
func (r *Router) Players(cam Camera) []*player.Player {
	ctx := r.sessions.Lookup(cam.ID())
	if ctx == nil {
		return nil
	}
	var players []*player.Player
	for _, slot := range []session.Slot{displaySlot, textureSlot} {
		if p, ok := ctx.Binding(slot).(*player.Player); ok {
			players = append(players, p)
		}
	}
	return players
}

// Feed returns the decode task feeding a camera's preview callback, or nil.
func (r *Router) Feed(cam Camera) *decoder.Task {
	ctx := r.sessions.Lookup(cam.ID())
	if ctx == nil {
		return nil
	}
	if f, ok := ctx.Binding(rawSlot).(*rawFeed); ok {
		return f.task
	}
	return nil
}

// TakePicture wraps the raw and JPEG picture callbacks so they receive the
// still image instead of the sensor capture.
func (r *Router) TakePicture(cam Camera, raw, jpeg PictureCallback) (rawOut, jpegOut PictureCallback) {
	rawOut, jpegOut = raw, jpeg
	defer r.guard("TakePicture")
	return r.wrapPicture(cam, raw, yuv.FormatNV21), r.wrapPicture(cam, jpeg, yuv.FormatJPEG)
}

func (r *Router) wrapPicture(cam Camera, cb PictureCallback, f yuv.Format) PictureCallback {
	if cb == nil {
		return nil
	}
	return func(data []byte, c Camera) {
		cb(r.still(cam, data, f), c)
	}
}

// still returns the still image in format f, or data unchanged.
func (r *Router) still(cam Camera, data []byte, f yuv.Format) (out []byte) {
	out = data
	defer r.guard("picture callback")

	if !r.lib.Active() {
		if !r.lib.HasVideo() {
			r.notifier.Notify(cam.ID(), "no substitute video, photo not replaced")
		}
		return data
	}
	w, h := cam.PreviewSize()
	r.logger.Info("Picture taken", "camera", cam.ID(), "format", f.String(), "preview_width", w, "preview_height", h)

	path, err := r.lib.RequireStill()
	if err != nil {
		r.notifier.Notify(cam.ID(), "no still image, photo not replaced")
		return data
	}
	img, err := yuv.LoadStill(path)
	if err != nil {
		r.logger.Error("Failed to load still image", "path", path, "error", err)
		return data
	}
	encoded, err := yuv.EncodeStill(nil, img, f)
	if err != nil {
		r.logger.Error("Failed to convert still image", "format", f.String(), "error", err)
		return data
	}
	b := img.Bounds()
	r.notifier.Notify(cam.ID(), fmt.Sprintf("photo replaced (%dx%d %s)", b.Dx(), b.Dy(), f))
	return encoded
}

// SetRecorderCamera is called when a media recorder takes the camera.
func (r *Router) SetRecorderCamera(cam Camera) {
	defer r.guard("SetRecorderCamera")
	r.logger.Warn("Recorder attached to camera", "camera", cam.ID())
	r.notifier.Notify(cam.ID(), "recording cannot be intercepted")
}
