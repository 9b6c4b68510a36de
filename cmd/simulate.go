package cmd

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/virtualcam/internal/legacy"
	"github.com/smazurov/virtualcam/internal/logging"
	"github.com/smazurov/virtualcam/internal/modern"
	"github.com/smazurov/virtualcam/internal/surface"
	"github.com/smazurov/virtualcam/internal/yuv"
)

// Camera ids used by the simulated client.
const (
	LegacyCameraID = "0"
	ModernCameraID = "1"
)

// clientSurface stands in for a surface created by the client app.
type clientSurface struct {
	name   string
	format int

	frames atomic.Uint64
}

func newClientSurface(name string) *clientSurface {
	return &clientSurface{name: name}
}

func (s *clientSurface) WriteFrame(*surface.Frame) error {
	s.frames.Add(1)
	return nil
}

func (s *clientSurface) String() string { return fmt.Sprintf("Surface(name=%s)", s.name) }

func (s *clientSurface) Valid() bool { return true }

// readerSurface is a client image reader declaring its image format.
type readerSurface struct {
	*clientSurface
}

func (r readerSurface) ImageFormat() int { return r.format }

type simCamera struct {
	id            string
	width, height int
	fps           int
}

func (c *simCamera) ID() string { return c.id }

func (c *simCamera) PreviewSize() (int, int) { return c.width, c.height }

func (c *simCamera) PreviewFrameRate() int { return c.fps }

// SimStats summarizes what the simulated client received.
type SimStats struct {
	Callbacks     uint64
	Substituted   uint64
	LegacyPreview uint64
	ModernPreview uint64
	ModernReader  uint64
	LegacyState   legacy.State
}

// Simulator plays a client app against both routers: a legacy camera with a
// preview texture and a buffered preview callback, and a modern camera with
// one preview and one reader target.
type Simulator struct {
	engine *Engine
	logger logging.Logger
	cam    *simCamera

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
	session *modern.Session

	texture *clientSurface
	preview *clientSurface
	reader  readerSurface

	callbacks   atomic.Uint64
	substituted atomic.Uint64
}

// NewSimulator creates a simulator for a width x height preview at fps.
func NewSimulator(e *Engine, width, height, fps int, logger logging.Logger) *Simulator {
	if fps <= 0 {
		fps = 30
	}
	return &Simulator{
		engine: e,
		logger: logger,
		cam:    &simCamera{id: LegacyCameraID, width: width, height: height, fps: fps},
	}
}

// Start opens both cameras and begins issuing preview callbacks.
func (s *Simulator) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})

	r := s.engine.Legacy
	r.Open(s.cam)
	s.texture = newClientSurface("SurfaceTexture[virtualcam/sim]")
	r.SetPreviewTexture(s.cam, s.texture)
	cb := r.WrapPreviewCallback(s.cam, s.onPreview, legacy.KindWithBuffer)
	r.StartPreview(s.cam)

	s.preview = newClientSurface("SurfaceView[virtualcam/sim]")
	reader := newClientSurface("null")
	reader.format = modern.ImageFormatJPEG
	s.reader = readerSurface{reader}

	m := s.engine.Modern
	m.ImageReaderCreated(s.cam.width, s.cam.height, reader.format)
	s.session = m.OpenDevice(ModernCameraID)
	s.session.AddTarget(s.preview)
	s.session.AddTarget(s.reader)
	s.session.CreateCaptureSession(modern.SessionRequest{
		Kind:    modern.KindDefault,
		Outputs: []surface.Surface{s.preview, s.reader},
	})
	s.session.Build(s)

	s.wg.Add(1)
	go s.loop(cb)
	s.logger.Info("Simulated client started", "width", s.cam.width, "height", s.cam.height, "fps", s.cam.fps)
}

// Stop closes both cameras. Bindings are released through the routers.
func (s *Simulator) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	sess := s.session
	s.mu.Unlock()

	s.wg.Wait()
	sess.Close()
	s.engine.Legacy.Release(s.cam)
	s.logger.Info("Simulated client stopped", "callbacks", s.callbacks.Load())
}

// Restart stops and starts the client, picking up media changes.
func (s *Simulator) Restart() {
	s.Stop()
	s.Start()
}

func (s *Simulator) loop(cb legacy.PreviewCallback) {
	defer s.wg.Done()
	if cb == nil {
		return
	}
	ticker := time.NewTicker(time.Second / time.Duration(s.cam.fps))
	defer ticker.Stop()

	buf := make([]byte, yuv.Size(yuv.FormatNV21, s.cam.width, s.cam.height))
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// The camera would have written a live frame; mark it so a
			// substitution is visible.
			buf[0] = 0xff
			cb(buf, s.cam)
		}
	}
}

func (s *Simulator) onPreview(data []byte, _ legacy.Camera) {
	s.callbacks.Add(1)
	if len(data) > 0 && data[0] != 0xff {
		s.substituted.Add(1)
	}
}

// Stats returns a snapshot of what the client has seen so far.
func (s *Simulator) Stats() SimStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SimStats{
		Callbacks:   s.callbacks.Load(),
		Substituted: s.substituted.Load(),
		LegacyState: s.engine.Legacy.State(s.cam.id),
	}
	if s.texture != nil {
		st.LegacyPreview = s.texture.frames.Load()
	}
	if s.preview != nil {
		st.ModernPreview = s.preview.frames.Load()
	}
	if s.reader.clientSurface != nil {
		st.ModernReader = s.reader.frames.Load()
	}
	return st
}
