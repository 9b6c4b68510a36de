// Package player plays the substitute video onto a client rendering surface,
// looping and muted unless the arbiter grants it audio.
package player

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/smazurov/virtualcam/internal/decoder"
	"github.com/smazurov/virtualcam/internal/events"
	"github.com/smazurov/virtualcam/internal/logging"
	"github.com/smazurov/virtualcam/internal/metrics"
	"github.com/smazurov/virtualcam/internal/surface"
	"github.com/smazurov/virtualcam/internal/yuv"
)

var (
	// ErrReleased is returned when starting a released player.
	ErrReleased = errors.New("player released")
	// ErrInvalidTarget is returned when the target surface is no longer valid.
	ErrInvalidTarget = errors.New("target surface is not valid")
)

var playerSeq atomic.Uint64

// Player binds one looping surface-mode decode task to one target.
type Player struct {
	id      string
	dec     *decoder.Decoder
	target  surface.Surface
	arbiter *Arbiter
	bus     *events.Bus
	logger  logging.Logger

	mu        sync.Mutex
	task      *decoder.Task
	presenter *surface.Presenter
	audible   bool
	released  bool
	watchers  sync.WaitGroup
}

// Option configures a Player.
type Option func(*Player)

// WithEventBus publishes playback failures on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(p *Player) { p.bus = bus }
}

// WithArbiter sets the audio arbiter. Without one the player is always muted.
func WithArbiter(a *Arbiter) Option {
	return func(p *Player) { p.arbiter = a }
}

// New creates a player for target. Nothing plays until Start.
func New(dec *decoder.Decoder, target surface.Surface, logger logging.Logger, opts ...Option) *Player {
	p := &Player{
		id:     fmt.Sprintf("player-%d", playerSeq.Add(1)),
		dec:    dec,
		target: target,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.With(logger, "player", p.id)
	return p
}

// ID returns the player's identifier.
func (p *Player) ID() string { return p.id }

// Target returns the surface the player renders to.
func (p *Player) Target() surface.Surface { return p.target }

// Start begins looping playback of path. With unmute set the player asks
// the arbiter for audio. Starting a playing player is a no-op.
func (p *Player) Start(path string, unmute bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return ErrReleased
	}
	if p.task != nil {
		return nil
	}
	if p.target == nil || !p.target.Valid() {
		return p.fail(ErrInvalidTarget)
	}

	presenter := surface.NewPresenter(p.target, p.logger)
	task, err := p.dec.Start(path, presenter, yuv.FormatSurface)
	if err != nil {
		presenter.Close()
		return p.fail(fmt.Errorf("start playback: %w", err))
	}
	p.task, p.presenter = task, presenter

	p.audible = unmute && p.arbiter.Acquire(p)
	if vc, ok := p.target.(surface.VolumeControl); ok {
		if p.audible {
			vc.SetVolume(1)
		} else {
			vc.SetVolume(0)
		}
	}
	metrics.PlayerStarted()
	p.logger.Info("Playback started", "target", p.target.String(), "path", path, "audible", p.audible)

	p.watchers.Add(1)
	go p.watch(task)
	return nil
}

// watch reports a task that died on its own.
func (p *Player) watch(task *decoder.Task) {
	defer p.watchers.Done()
	<-task.Done()
	if err := task.Err(); err != nil {
		p.fail(err)
	}
}

func (p *Player) fail(err error) error {
	target := "<nil>"
	if p.target != nil {
		target = p.target.String()
	}
	p.logger.Error("Playback failed", "target", target, "error", err)
	p.bus.Publish(events.PlaybackFailedEvent{Target: target, Error: err.Error()})
	return err
}

// Playing reports whether a decode task is bound and still running.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.task == nil {
		return false
	}
	select {
	case <-p.task.Done():
		return false
	default:
		return true
	}
}

// Audible reports whether this player holds audio.
func (p *Player) Audible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.audible
}

// Stop ends playback. It is idempotent.
func (p *Player) Stop() {
	p.mu.Lock()
	task, presenter := p.task, p.presenter
	p.task, p.presenter = nil, nil
	audible := p.audible
	p.audible = false
	p.mu.Unlock()

	if task == nil {
		return
	}
	// The task may be blocked on a full presenter queue; the presenter keeps
	// draining until the task has exited.
	task.Release()
	presenter.Close()
	p.watchers.Wait()
	if audible {
		p.arbiter.Release(p)
	}
	metrics.PlayerStopped()
	p.logger.Info("Playback stopped", "frames", task.Frames(), "loops", task.Loops())
}

// Release stops playback and makes the player unusable. It is idempotent.
func (p *Player) Release() {
	p.Stop()
	p.mu.Lock()
	p.released = true
	p.mu.Unlock()
}
