package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/smazurov/virtualcam/internal/events"
	"github.com/smazurov/virtualcam/internal/metrics"
	"github.com/smazurov/virtualcam/internal/surface"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// journal records resource lifecycle calls in order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.entries)
}

type fakeResource struct {
	name     string
	j        *journal
	stops    int
	releases int
}

func (r *fakeResource) Stop()    { r.stops++; r.j.add("stop " + r.name) }
func (r *fakeResource) Release() { r.releases++; r.j.add("release " + r.name) }

func creator(j *journal, name string) func() (Resource, error) {
	return func() (Resource, error) {
		j.add("create " + name)
		return &fakeResource{name: name, j: j}, nil
	}
}

var (
	previewSlot = Slot{Role: surface.RolePreview, Index: 0}
	readerSlot  = Slot{Role: surface.RoleReader, Index: 0}
)

func TestReplaceOrdering(t *testing.T) {
	j := &journal{}
	m := NewManager("modern", testLogger())
	ctx := m.Open("cam-order", false)

	if _, err := ctx.Replace(readerSlot, creator(j, "a")); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if _, err := ctx.Replace(readerSlot, creator(j, "b")); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	want := []string{"create a", "stop a", "release a", "create b"}
	if got := j.all(); !slices.Equal(got, want) {
		t.Errorf("journal = %v, want %v", got, want)
	}
	if ctx.Len() != 1 {
		t.Errorf("Len = %d, want 1", ctx.Len())
	}
	if r := ctx.Binding(readerSlot).(*fakeResource); r.name != "b" {
		t.Errorf("bound %q, want b", r.name)
	}
}

func TestReplaceCreateError(t *testing.T) {
	j := &journal{}
	m := NewManager("modern", testLogger())
	ctx := m.Open("cam-err", false)

	if _, err := ctx.Replace(previewSlot, creator(j, "a")); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	boom := errors.New("boom")
	_, err := ctx.Replace(previewSlot, func() (Resource, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Replace error = %v, want boom", err)
	}
	if ctx.Binding(previewSlot) != nil {
		t.Error("slot still bound after failed create")
	}
	if got := j.all(); !slices.Contains(got, "release a") {
		t.Errorf("old binding not released: %v", got)
	}
}

func TestTeardownIdempotent(t *testing.T) {
	j := &journal{}
	m := NewManager("legacy", testLogger())
	ctx := m.Open("cam-teardown", false)
	a, _ := ctx.Replace(previewSlot, creator(j, "a"))
	b, _ := ctx.Replace(readerSlot, creator(j, "b"))

	if n := ctx.Teardown(); n != 2 {
		t.Errorf("Teardown = %d, want 2", n)
	}
	if n := ctx.Teardown(); n != 0 {
		t.Errorf("second Teardown = %d, want 0", n)
	}
	for _, r := range []*fakeResource{a.(*fakeResource), b.(*fakeResource)} {
		if r.stops != 1 || r.releases != 1 {
			t.Errorf("%s stopped %d released %d times, want 1/1", r.name, r.stops, r.releases)
		}
	}
	// Still usable after teardown.
	if _, err := ctx.Replace(previewSlot, creator(j, "c")); err != nil {
		t.Errorf("Replace after Teardown: %v", err)
	}
}

func TestOpenResetsPreviousContext(t *testing.T) {
	bus := events.New()
	closed := make(chan events.SessionClosedEvent, 4)
	opened := make(chan events.SessionOpenedEvent, 4)
	defer bus.Subscribe(func(e events.SessionClosedEvent) { closed <- e })()
	defer bus.Subscribe(func(e events.SessionOpenedEvent) { opened <- e })()

	j := &journal{}
	m := NewManager("modern", testLogger(), WithEventBus(bus))
	first := m.Open("cam-reopen", false)
	_, _ = first.Replace(readerSlot, creator(j, "a"))

	second := m.Open("cam-reopen", true)
	if second == first {
		t.Fatal("Open returned the old context")
	}
	if second.Generation() <= first.Generation() {
		t.Errorf("generation %d not above %d", second.Generation(), first.Generation())
	}
	if !second.Passive() {
		t.Error("Passive() = false")
	}
	if !first.Closed() || first.Len() != 0 {
		t.Error("previous context not torn down")
	}
	if _, err := first.Replace(readerSlot, creator(j, "late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Replace on stale context = %v, want ErrClosed", err)
	}
	if m.Get("cam-reopen") != second {
		t.Error("Get did not return the current context")
	}

	select {
	case e := <-closed:
		if e.Reason != ReasonReopened || e.Released != 1 {
			t.Errorf("closed event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no SessionClosedEvent")
	}
	for range 2 {
		select {
		case <-opened:
		case <-time.After(time.Second):
			t.Fatal("missing SessionOpenedEvent")
		}
	}
}

func TestCloseReasons(t *testing.T) {
	tests := []struct {
		name         string
		release      bool
		reason       string
		wantReleased int
		wantForget   bool
	}{
		{"close releases and forgets", true, ReasonClosed, 1, true},
		{"disconnect releases", true, ReasonDisconnected, 1, false},
		{"error releases", true, ReasonError, 1, false},
		{"disconnect log only", false, ReasonDisconnected, 0, false},
		{"close ignores setting", false, ReasonClosed, 1, true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &journal{}
			m := NewManager("legacy", testLogger(), WithReleaseOnDisconnect(tt.release))
			id := fmt.Sprintf("cam-close-%d", i)
			ctx := m.Open(id, false)
			_, _ = ctx.Replace(previewSlot, creator(j, "p"))

			if got := m.Close(id, tt.reason); got != tt.wantReleased {
				t.Errorf("Close = %d, want %d", got, tt.wantReleased)
			}
			if forgotten := m.Lookup(id) == nil; forgotten != tt.wantForget {
				t.Errorf("forgotten = %v, want %v", forgotten, tt.wantForget)
			}
			if tt.wantReleased == 0 && ctx.Len() != 1 {
				t.Error("log-only close dropped the binding")
			}
		})
	}
}

func TestCloseUnknown(t *testing.T) {
	m := NewManager("legacy", testLogger())
	if n := m.Close("nope", ReasonError); n != 0 {
		t.Errorf("Close unknown = %d", n)
	}
}

func TestCloseAll(t *testing.T) {
	j := &journal{}
	m := NewManager("modern", testLogger())
	for _, id := range []string{"cam-all-0", "cam-all-1"} {
		ctx := m.Open(id, false)
		_, _ = ctx.Replace(previewSlot, creator(j, id))
	}
	m.CloseAll()
	if len(m.Sessions()) != 0 {
		t.Errorf("Sessions = %v after CloseAll", m.Sessions())
	}
	if n := len(j.all()); n != 6 {
		t.Errorf("journal has %d entries, want 6", n)
	}
}

func TestBindingsAndMetrics(t *testing.T) {
	j := &journal{}
	m := NewManager("modern", testLogger())
	ctx := m.Open("cam-metrics", false)

	_, _ = ctx.Replace(Slot{Role: surface.RoleReader, Index: 1}, creator(j, "r1"))
	_, _ = ctx.Replace(readerSlot, creator(j, "r0"))
	_, _ = ctx.Replace(previewSlot, creator(j, "p0"))

	want := []Slot{previewSlot, readerSlot, {Role: surface.RoleReader, Index: 1}}
	if got := ctx.Bindings(); !slices.Equal(got, want) {
		t.Errorf("Bindings = %v, want %v", got, want)
	}
	if got := testutil.ToFloat64(metrics.SessionBindings("cam-metrics")); got != 3 {
		t.Errorf("session bindings metric = %v, want 3", got)
	}

	if n := ctx.ReleaseRole(surface.RoleReader); n != 2 {
		t.Errorf("ReleaseRole = %d, want 2", n)
	}
	if got := testutil.ToFloat64(metrics.SessionBindings("cam-metrics")); got != 1 {
		t.Errorf("session bindings metric = %v, want 1", got)
	}
	if ctx.Release(readerSlot) {
		t.Error("Release of empty slot reported true")
	}
	if previewSlot.String() != "preview/0" {
		t.Errorf("Slot.String() = %q", previewSlot.String())
	}
}
