package player

import (
	"sync"

	"github.com/smazurov/virtualcam/internal/metrics"
)

// Arbiter grants audio to at most one player at a time, so two substitute
// previews never play the soundtrack over each other.
type Arbiter struct {
	mu     sync.Mutex
	holder *Player
}

// NewArbiter creates an arbiter with nobody audible.
func NewArbiter() *Arbiter {
	return &Arbiter{}
}

// Acquire makes p the audible player if nobody else is. It reports whether
// p holds audio afterwards.
func (a *Arbiter) Acquire(p *Player) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holder != nil && a.holder != p {
		return false
	}
	a.holder = p
	metrics.SetAudiblePlayers(1)
	return true
}

// Release gives up audio if p holds it.
func (a *Arbiter) Release(p *Player) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holder == p {
		a.holder = nil
		metrics.SetAudiblePlayers(0)
	}
}

// Holder returns the audible player, or nil.
func (a *Arbiter) Holder() *Player {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.holder
}
