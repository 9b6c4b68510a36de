package modern

import (
	"github.com/smazurov/virtualcam/internal/events"
	"github.com/smazurov/virtualcam/internal/logging"
	"github.com/smazurov/virtualcam/internal/player"
	"github.com/smazurov/virtualcam/internal/session"
	"github.com/smazurov/virtualcam/internal/surface"
	"github.com/smazurov/virtualcam/internal/yuv"
)

// maxPerRole is how many targets of one role are tracked.
const maxPerRole = 2

// trackedTarget is a client target the substitute stands in for.
type trackedTarget struct {
	target surface.Surface
	role   surface.Role
	index  int
}

func (t *trackedTarget) slot() session.Slot {
	return session.Slot{Role: t.role, Index: t.index}
}

// Session is one opened camera device.
type Session struct {
	router     *Router
	ctx        *session.Context
	id         string
	passive    bool
	substitute *surface.Texture
	logger     logging.Logger

	// Guarded by ctx's lock.
	targets map[surface.Role]*[maxPerRole]*trackedTarget
	roles   map[surface.Surface]surface.Role
	// lastBuilder is the most recent builder to start playback.
	lastBuilder any
	built       bool
}

func newSession(r *Router, ctx *session.Context, passive bool) *Session {
	s := &Session{
		router:  r,
		ctx:     ctx,
		id:      ctx.ID(),
		passive: passive,
		logger:  logging.With(r.logger, "camera", ctx.ID()),
		targets: map[surface.Role]*[maxPerRole]*trackedTarget{
			surface.RolePreview: {},
			surface.RoleReader:  {},
		},
		roles: make(map[surface.Surface]surface.Role),
	}
	if !passive {
		s.substitute = surface.NewTexture("")
	}
	return s
}

// newPassiveSession is used when opening failed; it routes nothing.
func newPassiveSession(r *Router, id string) *Session {
	return &Session{router: r, id: id, passive: true, logger: r.logger}
}

// ID returns the camera id.
func (s *Session) ID() string { return s.id }

// Passive reports whether the session passes everything through.
func (s *Session) Passive() bool { return s.passive }

// Substitute returns the shared target every capture session is redirected
// to, or nil for a passive session.
func (s *Session) Substitute() surface.Surface {
	if s.substitute == nil {
		return nil
	}
	return s.substitute
}

func (s *Session) guard(hook string) {
	if v := recover(); v != nil {
		s.logger.Error("Hook panicked", "hook", hook, "panic", v)
	}
}

// routing reports whether hooks should act on this session.
func (s *Session) routing() bool {
	return !s.passive && s.ctx != nil && !s.ctx.Closed()
}

// AddTarget tracks t and returns the target the client should add instead.
func (s *Session) AddTarget(t surface.Surface) (out surface.Surface) {
	out = t
	defer s.guard("AddTarget")

	if t == nil || surface.IsSubstitute(t) || !s.routing() {
		return t
	}

	s.ctx.Lock()
	defer s.ctx.Unlock()

	role, cached := s.roles[t]
	if !cached {
		role = Classify(t)
		s.roles[t] = role
	}
	if role == surface.RoleUnknown {
		s.logger.Info("Target not classified, passed through", "target", t.String())
		s.router.bus.Publish(events.TargetClassifiedEvent{Camera: s.id, Target: t.String(), Role: role.String(), Index: -1})
		return t
	}

	slots := s.targets[role]
	index := -1
	for i, tt := range slots {
		if tt != nil && tt.target == t {
			index = i
			break
		}
	}
	if index < 0 {
		for i, tt := range slots {
			if tt == nil {
				slots[i] = &trackedTarget{target: t, role: role, index: i}
				index = i
				break
			}
		}
	}
	if index < 0 {
		s.logger.Warn("Too many targets for role, not tracked", "role", role.String(), "target", t.String())
	} else {
		s.logger.Info("Target tracked", "role", role.String(), "index", index, "target", t.String())
	}
	s.router.bus.Publish(events.TargetClassifiedEvent{Camera: s.id, Target: t.String(), Role: role.String(), Index: index, Tracked: index >= 0})
	return s.substitute
}

// RemoveTarget forgets t and releases whatever was bound to it.
func (s *Session) RemoveTarget(t surface.Surface) (out surface.Surface) {
	out = t
	defer s.guard("RemoveTarget")

	if t == nil || surface.IsSubstitute(t) || !s.routing() {
		return t
	}

	s.ctx.Lock()
	defer s.ctx.Unlock()

	removed := false
	for _, slots := range s.targets {
		for i, tt := range slots {
			if tt != nil && tt.target == t {
				slots[i] = nil
				s.ctx.Release(tt.slot())
				removed = true
				s.logger.Info("Target removed", "role", tt.role.String(), "index", i)
			}
		}
	}
	if !removed {
		return t
	}
	return s.substitute
}

// Tracked returns the tracked targets of role in slot order.
func (s *Session) Tracked(role surface.Role) []surface.Surface {
	if s.ctx == nil {
		return nil
	}
	s.ctx.Lock()
	defer s.ctx.Unlock()
	slots, ok := s.targets[role]
	if !ok {
		return nil
	}
	var out []surface.Surface
	for _, tt := range slots {
		if tt != nil {
			out = append(out, tt.target)
		}
	}
	return out
}

// Role returns the cached classification of t.
func (s *Session) Role(t surface.Surface) (surface.Role, bool) {
	if s.ctx == nil {
		return surface.RoleUnknown, false
	}
	s.ctx.Lock()
	defer s.ctx.Unlock()
	role, ok := s.roles[t]
	return role, ok
}

// CreateCaptureSession redirects a capture-session request to the
// substitute target.
func (s *Session) CreateCaptureSession(req SessionRequest) (out SessionRequest) {
	out = req
	defer s.guard("CreateCaptureSession")
	if !s.routing() {
		return req
	}

	s.logger.Info("Capture session redirected", "kind", req.Kind.String(), "outputs", len(req.Outputs))
	out.Outputs = []surface.Surface{s.substitute}
	out.Callback = s.wrapCallback(req.Callback)
	return out
}

// Build is called when the client builds a capture request. Unless the
// builder is the one that built last, it starts a decoder for every tracked
// reader and a player for every tracked preview, replacing what was bound
// before.
func (s *Session) Build(builder any) {
	defer s.guard("Build")
	if !s.routing() {
		return
	}

	s.ctx.Lock()
	defer s.ctx.Unlock()

	if s.built && s.lastBuilder == builder {
		return
	}
	s.lastBuilder, s.built = builder, true

	r := s.router
	path := r.lib.VideoPath()
	unmute := r.lib.Unmuted()
	readers, previews := 0, 0

	for _, tt := range s.targets[surface.RoleReader] {
		if tt == nil {
			continue
		}
		f := s.readerFormat(tt.target)
		_, err := s.ctx.Replace(tt.slot(), func() (session.Resource, error) {
			task, err := r.dec.Start(path, tt.target, f)
			if err != nil {
				return nil, err
			}
			return task, nil
		})
		if err != nil {
			s.logger.Error("Failed to start reader decoder", "index", tt.index, "error", err)
			continue
		}
		readers++
	}

	for _, tt := range s.targets[surface.RolePreview] {
		if tt == nil {
			continue
		}
		target := tt.target
		_, err := s.ctx.Replace(tt.slot(), func() (session.Resource, error) {
			p := player.New(r.dec, target, s.logger, player.WithArbiter(r.arbiter), player.WithEventBus(r.bus))
			if err := p.Start(path, unmute); err != nil {
				p.Release()
				return nil, err
			}
			return p, nil
		})
		if err != nil {
			s.logger.Error("Failed to start preview player", "index", tt.index, "error", err)
			continue
		}
		previews++
	}
	s.logger.Info("Capture request built", "readers", readers, "previews", previews)
}

// readerFormat picks what a reader target is fed: JPEG when it declares the
// JPEG image format, NV21 otherwise.
func (s *Session) readerFormat(t surface.Surface) yuv.Format {
	format, ok := 0, false
	if fr, isReporter := t.(surface.FormatReporter); isReporter {
		format, ok = fr.ImageFormat(), true
	} else {
		format, ok = s.router.lastReaderFormat()
	}
	if ok && format == ImageFormatJPEG {
		return yuv.FormatJPEG
	}
	return yuv.FormatNV21
}

// Decoder returns the task feeding the reader at index, or nil.
func (s *Session) Decoder(index int) Resource {
	return s.binding(session.Slot{Role: surface.RoleReader, Index: index})
}

// Player returns the player bound to the preview at index, or nil.
func (s *Session) Player(index int) Resource {
	return s.binding(session.Slot{Role: surface.RolePreview, Index: index})
}

// Resource is a bound decoder task or player.
type Resource = session.Resource

func (s *Session) binding(slot session.Slot) Resource {
	if s.ctx == nil {
		return nil
	}
	return s.ctx.Binding(slot)
}

// CaptureFailed is called when a capture request failed.
func (s *Session) CaptureFailed(reason string) {
	defer s.guard("CaptureFailed")
	s.logger.Warn("Capture failed", "reason", reason)
}

// Disconnected handles the device disconnecting.
func (s *Session) Disconnected() {
	defer s.guard("Disconnected")
	s.logger.Warn("Camera disconnected")
	if s.current() {
		s.router.sessions.Close(s.id, session.ReasonDisconnected)
	}
}

// Error handles a device error.
func (s *Session) Error(code int) {
	defer s.guard("Error")
	s.logger.Error("Camera device error", "code", code)
	if s.current() {
		s.router.sessions.Close(s.id, session.ReasonError)
	}
}

// Close handles the device being closed.
func (s *Session) Close() {
	defer s.guard("Close")
	if !s.current() {
		return
	}
	s.router.sessions.Close(s.id, session.ReasonClosed)
	s.router.forget(s)
	s.releaseSubstitute()
}

// current reports whether s is still the camera's live session.
func (s *Session) current() bool {
	return s.ctx != nil && s.router.sessions.Lookup(s.id) == s.ctx
}

func (s *Session) releaseSubstitute() {
	if s.substitute != nil {
		s.substitute.Release()
	}
}
