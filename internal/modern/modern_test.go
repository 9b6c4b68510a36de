package modern

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/smazurov/virtualcam/internal/decoder"
	"github.com/smazurov/virtualcam/internal/decoder/pattern"
	"github.com/smazurov/virtualcam/internal/events"
	"github.com/smazurov/virtualcam/internal/media"
	"github.com/smazurov/virtualcam/internal/player"
	"github.com/smazurov/virtualcam/internal/session"
	"github.com/smazurov/virtualcam/internal/surface"
	"github.com/smazurov/virtualcam/internal/yuv"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSurface is a client target that records what it receives.
type fakeSurface struct {
	mu      sync.Mutex
	desc    string
	frames  int
	format  yuv.Format
	size    int
	invalid bool
}

func newSurface(desc string) *fakeSurface { return &fakeSurface{desc: desc} }

func previewSurface(n int) *fakeSurface {
	return newSurface("Surface(name=SurfaceView[com.example/Main" + strings.Repeat("'", n) + "])/@0x1f2e")
}

func readerSurface() *fakeSurface { return newSurface("Surface(name=null)/@0x3c4d") }

func (s *fakeSurface) WriteFrame(f *surface.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	s.format = f.Format
	s.size = len(f.Data)
	return nil
}

func (s *fakeSurface) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc
}

func (s *fakeSurface) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.invalid
}

func (s *fakeSurface) setDesc(d string) {
	s.mu.Lock()
	s.desc = d
	s.mu.Unlock()
}

func (s *fakeSurface) received() (int, yuv.Format, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, s.format, s.size
}

func (s *fakeSurface) waitFrames(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		got, _, _ := s.received()
		if got >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s received %d frames, want %d", s.desc, got, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// jpegReader declares its image format.
type jpegReader struct {
	*fakeSurface
	format int
}

func (r *jpegReader) ImageFormat() int { return r.format }

// rolePreview reports its own role regardless of its description.
type rolePreview struct{ *fakeSurface }

func (rolePreview) SurfaceRole() surface.Role { return surface.RolePreview }

type harness struct {
	router   *Router
	sessions *session.Manager
	backend  *pattern.Backend
	dir      string

	mu      sync.Mutex
	notices []string
}

func newHarness(t *testing.T, backend *pattern.Backend, video bool, opts ...session.Option) *harness {
	t.Helper()
	dir := t.TempDir()
	if video {
		if err := os.WriteFile(filepath.Join(dir, media.VideoFile), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	h := &harness{dir: dir, backend: backend}
	lib := media.New(dir, "")
	bus := events.New()
	unsub := bus.Subscribe(func(e events.NoticeEvent) {
		h.mu.Lock()
		h.notices = append(h.notices, e.Message)
		h.mu.Unlock()
	})
	h.sessions = session.NewManager("modern", testLogger(), opts...)
	h.router = NewRouter(lib, decoder.New(backend, testLogger()), h.sessions, testLogger(),
		WithNotifier(events.NewNotifier(bus, lib.NotificationsEnabled, testLogger())),
		WithEventBus(bus),
	)
	t.Cleanup(func() {
		h.sessions.CloseAll()
		unsub()
	})
	return h
}

func (h *harness) hasNotice(substr string) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		for _, n := range h.notices {
			if strings.Contains(n, substr) {
				h.mu.Unlock()
				return true
			}
		}
		h.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		target surface.Surface
		want   surface.Role
	}{
		{"reader", readerSurface(), surface.RoleReader},
		{"surface view", previewSurface(0), surface.RolePreview},
		{"surface texture", newSurface("Surface(name=android.graphics.SurfaceTexture@8c1)/@0x99"), surface.RolePreview},
		{"empty name", newSurface("Surface(name=)/@0x1"), surface.RoleUnknown},
		{"unterminated", newSurface("Surface(name=null"), surface.RoleUnknown},
		{"foreign", newSurface("android.view.Surface@5e1"), surface.RoleUnknown},
		{"reported role wins", rolePreview{newSurface("Surface(name=null)")}, surface.RolePreview},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.target); got != tt.want {
				t.Errorf("Classify(%s) = %s, want %s", tt.target, got, tt.want)
			}
		})
	}
}

func TestTwoTargetSession(t *testing.T) {
	h := newHarness(t, &pattern.Backend{Width: 1280, Height: 720, FrameRate: 30, Frames: 3}, true)
	preview, reader := previewSurface(0), readerSurface()

	s := h.router.OpenDevice("0")
	sub := s.Substitute()
	if sub == nil {
		t.Fatal("no substitute target")
	}
	if got := s.AddTarget(preview); got != sub {
		t.Errorf("AddTarget(preview) = %v, want substitute", got)
	}
	if got := s.AddTarget(reader); got != sub {
		t.Errorf("AddTarget(reader) = %v, want substitute", got)
	}
	s.Build("request-1")

	firstPlayer, firstDecoder := s.Player(0), s.Decoder(0)
	if firstPlayer == nil || firstDecoder == nil {
		t.Fatalf("player %v decoder %v, want one of each", firstPlayer, firstDecoder)
	}
	if s.Player(1) != nil || s.Decoder(1) != nil {
		t.Error("second slot bound with only one target per role")
	}
	if task := firstDecoder.(*decoder.Task); task.Format() != yuv.FormatNV21 {
		t.Errorf("reader format = %s, want nv21", task.Format())
	}

	reader.waitFrames(t, 1)
	if _, f, size := reader.received(); f != yuv.FormatNV21 || size != yuv.Size(yuv.FormatNV21, 1280, 720) {
		t.Errorf("reader got %s frames of %d bytes", f, size)
	}
	preview.waitFrames(t, 1)

	// Tear down and rebuild with the same targets.
	s2 := h.router.OpenDevice("0")
	if !firstDecoder.(*decoder.Task).Released() {
		t.Error("decoder of the previous session not released")
	}
	if firstPlayer.(*player.Player).Playing() {
		t.Error("player of the previous session still playing")
	}
	if s.Substitute().Valid() {
		t.Error("previous substitute still valid")
	}
	s2.AddTarget(preview)
	s2.AddTarget(reader)
	s2.Build("request-2")

	ctx := h.sessions.Lookup("0")
	if n := ctx.Len(); n != 2 {
		t.Errorf("bindings after rebuild = %d, want 2", n)
	}
	if s2.Player(0) == nil || s2.Decoder(0) == nil {
		t.Error("rebuild did not bind one player and one decoder")
	}
}

func TestBuildSkipsRepeatedBuilder(t *testing.T) {
	h := newHarness(t, &pattern.Backend{Width: 8, Height: 4, FrameRate: 100, Frames: 5}, true)
	s := h.router.OpenDevice("0")
	s.AddTarget(readerSurface())

	s.Build("a")
	first := s.Decoder(0)
	s.Build("a")
	if s.Decoder(0) != first {
		t.Error("same builder built twice")
	}

	s.Build("b")
	second := s.Decoder(0)
	if second == first {
		t.Fatal("new builder did not replace the decoder")
	}
	if !first.(*decoder.Task).Released() {
		t.Error("replaced decoder not released")
	}
	if n := h.sessions.Lookup("0").Len(); n != 1 {
		t.Errorf("bindings = %d, want 1", n)
	}

	// Only the latest builder is remembered: returning to an earlier one
	// builds again.
	s.Build("a")
	third := s.Decoder(0)
	if third == second {
		t.Error("earlier builder was not built again after another builder")
	}
	s.Build("a")
	if s.Decoder(0) != third {
		t.Error("repeated build from the latest builder replaced the decoder")
	}
}

func TestAddTargetPassThrough(t *testing.T) {
	h := newHarness(t, &pattern.Backend{Width: 8, Height: 4, Frames: 5}, true)
	s := h.router.OpenDevice("0")

	if got := s.AddTarget(nil); got != nil {
		t.Error("nil target rewritten")
	}
	if got := s.AddTarget(s.Substitute()); got != s.Substitute() {
		t.Error("substitute not passed through")
	}
	odd := newSurface("android.view.Surface@5e1")
	if got := s.AddTarget(odd); got != odd {
		t.Error("unclassified target rewritten")
	}
	if n := len(s.Tracked(surface.RolePreview)) + len(s.Tracked(surface.RoleReader)); n != 0 {
		t.Errorf("%d targets tracked, want 0", n)
	}
}

func TestRoleStability(t *testing.T) {
	h := newHarness(t, &pattern.Backend{Width: 8, Height: 4, Frames: 5}, true)
	s := h.router.OpenDevice("0")
	target := readerSurface()

	s.AddTarget(target)
	target.setDesc("Surface(name=SurfaceView[late])")
	s.AddTarget(target)

	if role, ok := s.Role(target); !ok || role != surface.RoleReader {
		t.Errorf("Role = %s, %v; want cached reader", role, ok)
	}
	if got := s.Tracked(surface.RoleReader); len(got) != 1 {
		t.Errorf("reader tracked %d times, want once", len(got))
	}
	if got := s.Tracked(surface.RolePreview); len(got) != 0 {
		t.Error("reclassified as preview")
	}
}

func TestTooManyTargets(t *testing.T) {
	h := newHarness(t, &pattern.Backend{Width: 8, Height: 4, Frames: 5}, true)
	s := h.router.OpenDevice("0")

	targets := []*fakeSurface{previewSurface(0), previewSurface(1), previewSurface(2)}
	for _, tg := range targets {
		if got := s.AddTarget(tg); got != s.Substitute() {
			t.Errorf("AddTarget(%s) not rewritten", tg)
		}
	}
	tracked := s.Tracked(surface.RolePreview)
	if len(tracked) != maxPerRole {
		t.Fatalf("tracked %d previews, want %d", len(tracked), maxPerRole)
	}
	if tracked[0] != surface.Surface(targets[0]) || tracked[1] != surface.Surface(targets[1]) {
		t.Error("first two previews not the tracked ones")
	}
}

func TestRemoveTargetReleasesBinding(t *testing.T) {
	h := newHarness(t, &pattern.Backend{Width: 8, Height: 4, FrameRate: 100, Frames: 5}, true)
	s := h.router.OpenDevice("0")
	reader := readerSurface()
	s.AddTarget(reader)
	s.Build("a")
	task := s.Decoder(0).(*decoder.Task)

	if got := s.RemoveTarget(reader); got != s.Substitute() {
		t.Error("RemoveTarget not rewritten to the substitute")
	}
	if !task.Released() || s.Decoder(0) != nil {
		t.Error("decoder of removed target still bound")
	}
	if len(s.Tracked(surface.RoleReader)) != 0 {
		t.Error("removed target still tracked")
	}
	unknown := readerSurface()
	if got := s.RemoveTarget(unknown); got != unknown {
		t.Error("untracked target rewritten on removal")
	}
}

func TestReaderFormat(t *testing.T) {
	tests := []struct {
		name   string
		target func() surface.Surface
		seen   int
		want   yuv.Format
	}{
		{"declared jpeg", func() surface.Surface { return &jpegReader{readerSurface(), ImageFormatJPEG} }, 0, yuv.FormatJPEG},
		{"declared yuv", func() surface.Surface { return &jpegReader{readerSurface(), 35} }, ImageFormatJPEG, yuv.FormatNV21},
		{"observed jpeg reader", func() surface.Surface { return readerSurface() }, ImageFormatJPEG, yuv.FormatJPEG},
		{"default", func() surface.Surface { return readerSurface() }, 0, yuv.FormatNV21},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &pattern.Backend{Width: 8, Height: 4, FrameRate: 100, Frames: 5}, true)
			if tt.seen != 0 {
				h.router.ImageReaderCreated(8, 4, tt.seen)
			}
			s := h.router.OpenDevice("0")
			s.AddTarget(tt.target())
			s.Build("a")
			res := s.Decoder(0)
			if res == nil {
				t.Fatal("no decoder bound")
			}
			if got := res.(*decoder.Task).Format(); got != tt.want {
				t.Errorf("format = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPassiveWithoutVideo(t *testing.T) {
	h := newHarness(t, &pattern.Backend{Width: 8, Height: 4, Frames: 5}, false)
	s := h.router.OpenDevice("0")
	if !s.Passive() || s.Substitute() != nil {
		t.Fatal("session not passive without a video")
	}

	reader := readerSurface()
	if got := s.AddTarget(reader); got != reader {
		t.Error("target rewritten in a passive session")
	}
	req := SessionRequest{Kind: KindDefault, Outputs: []surface.Surface{reader}}
	if out := s.CreateCaptureSession(req); len(out.Outputs) != 1 || out.Outputs[0] != reader {
		t.Error("capture session rewritten in a passive session")
	}
	s.Build("a")
	if s.Decoder(0) != nil || h.backend.Opens() != 0 {
		t.Error("passive session started a decoder")
	}
	if !h.hasNotice("no substitute video") {
		t.Error("no notice for the missing video")
	}
}

func TestCreateCaptureSessionAllKinds(t *testing.T) {
	h := newHarness(t, &pattern.Backend{Width: 8, Height: 4, Frames: 5}, true)
	s := h.router.OpenDevice("0")
	input := &InputConfig{Width: 640, Height: 480, Format: 35}

	kinds := []SessionKind{
		KindDefault, KindOutputConfigurations, KindConstrainedHighSpeed,
		KindReprocessable, KindReprocessableByConfigurations, KindSessionConfiguration,
	}
	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			var configured, failed, closed int
			req := SessionRequest{
				Kind:    kind,
				Outputs: []surface.Surface{previewSurface(0), readerSurface()},
				Input:   input,
				Callback: &StateCallback{
					Configured:      func() { configured++ },
					ConfigureFailed: func() { failed++ },
					Closed:          func() { closed++ },
				},
			}
			out := s.CreateCaptureSession(req)
			if len(out.Outputs) != 1 || out.Outputs[0] != s.Substitute() {
				t.Errorf("outputs = %v, want only the substitute", out.Outputs)
			}
			if out.Kind != kind || out.Input != input {
				t.Error("request kind or input changed")
			}
			out.Callback.Configured()
			out.Callback.ConfigureFailed()
			out.Callback.Closed()
			if configured != 1 || failed != 1 || closed != 1 {
				t.Errorf("callbacks = %d/%d/%d, want 1/1/1", configured, failed, closed)
			}
		})
	}

	// A request without callback still gets a usable one.
	out := s.CreateCaptureSession(SessionRequest{Kind: KindDefault})
	out.Callback.Configured()
}

func TestDisconnectReleasesBindings(t *testing.T) {
	tests := []struct {
		name    string
		release bool
		want    int
	}{
		{"release on disconnect", true, 0},
		{"log only", false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &pattern.Backend{Width: 8, Height: 4, FrameRate: 100, Frames: 5}, true,
				session.WithReleaseOnDisconnect(tt.release))
			s := h.router.OpenDevice("0")
			reader := readerSurface()
			s.AddTarget(reader)
			s.Build("a")

			s.Disconnected()
			if n := h.sessions.Lookup("0").Len(); n != tt.want {
				t.Errorf("bindings after disconnect = %d, want %d", n, tt.want)
			}
			if len(s.Tracked(surface.RoleReader)) != 1 {
				t.Error("tracked targets changed on disconnect")
			}
		})
	}
}

func TestErrorAndClose(t *testing.T) {
	h := newHarness(t, &pattern.Backend{Width: 8, Height: 4, FrameRate: 100, Frames: 5}, true)
	s := h.router.OpenDevice("0")
	s.AddTarget(readerSurface())
	s.Build("a")

	s.CaptureFailed("buffer lost")
	if s.Decoder(0) == nil {
		t.Error("capture failure released bindings")
	}
	s.Error(4)
	if s.Decoder(0) != nil {
		t.Error("device error did not release bindings")
	}

	s.Close()
	if h.router.Session("0") != nil || h.sessions.Lookup("0") != nil {
		t.Error("session survived Close")
	}
	if s.Substitute().Valid() {
		t.Error("substitute valid after Close")
	}
	// Hooks on a closed session pass through.
	reader := readerSurface()
	if got := s.AddTarget(reader); got != reader {
		t.Error("closed session rewrote a target")
	}
}

func TestStaleSessionDoesNotCloseNewOne(t *testing.T) {
	h := newHarness(t, &pattern.Backend{Width: 8, Height: 4, FrameRate: 100, Frames: 5}, true)
	old := h.router.OpenDevice("0")
	s := h.router.OpenDevice("0")
	s.AddTarget(readerSurface())
	s.Build("a")

	old.Disconnected()
	old.Close()
	if s.Decoder(0) == nil {
		t.Error("stale session released the live session's bindings")
	}
}
