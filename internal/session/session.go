// Package session owns the decoders and players bound to a camera session.
//
// A Context holds the bindings of one camera session, keyed by target role
// and index. Replacing a binding stops and releases the old resource before
// the new one is created, so at most one resource ever writes to a target.
// The Manager opens, looks up and closes contexts per camera.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/smazurov/virtualcam/internal/logging"
	"github.com/smazurov/virtualcam/internal/surface"
)

// ErrClosed is returned when binding into a torn-down context.
var ErrClosed = errors.New("session closed")

// Resource is a decoder task or player bound to a target.
type Resource interface {
	Stop()
	Release()
}

// Slot identifies a binding within a session.
type Slot struct {
	Role  surface.Role
	Index int
}

func (s Slot) String() string {
	return fmt.Sprintf("%s/%d", s.Role, s.Index)
}

// Context is the state of one camera session. The embedded mutex is the
// coarse session lock routers hold while mutating their own per-session
// state; bindings are guarded separately.
type Context struct {
	sync.Mutex

	id         string
	generation uint64
	passive    bool
	logger     logging.Logger
	onChange   func(c *Context)

	mu       sync.Mutex
	bindings map[Slot]Resource
	closed   bool
}

func newContext(id string, generation uint64, passive bool, logger logging.Logger, onChange func(*Context)) *Context {
	return &Context{
		id:         id,
		generation: generation,
		passive:    passive,
		logger:     logger,
		onChange:   onChange,
		bindings:   make(map[Slot]Resource),
	}
}

// ID returns the camera id.
func (c *Context) ID() string { return c.id }

// Generation increases with every open of any session.
func (c *Context) Generation() uint64 { return c.generation }

// Passive reports whether the session was opened without substitution.
func (c *Context) Passive() bool { return c.passive }

// Replace stops and releases the resource bound to slot, forgets it, and
// binds the result of create in its place. A create error leaves the slot
// empty.
func (c *Context) Replace(slot Slot, create func() (Resource, error)) (Resource, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	old := c.bindings[slot]
	c.mu.Unlock()

	if old != nil {
		c.logger.Debug("Replacing binding", "session", c.id, "slot", slot.String())
		old.Stop()
		old.Release()
		c.mu.Lock()
		if c.bindings[slot] == old {
			delete(c.bindings, slot)
		}
		c.mu.Unlock()
	}

	res, err := create()
	if err != nil {
		c.changed()
		return nil, err
	}
	if res == nil {
		c.changed()
		return nil, nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		res.Stop()
		res.Release()
		return nil, ErrClosed
	}
	c.bindings[slot] = res
	c.mu.Unlock()

	c.changed()
	return res, nil
}

// Binding returns the resource bound to slot, or nil.
func (c *Context) Binding(slot Slot) Resource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bindings[slot]
}

// Release stops and releases the binding of slot, if any.
func (c *Context) Release(slot Slot) bool {
	c.mu.Lock()
	res := c.bindings[slot]
	delete(c.bindings, slot)
	c.mu.Unlock()

	if res == nil {
		return false
	}
	res.Stop()
	res.Release()
	c.changed()
	return true
}

// ReleaseRole releases every binding of role and returns how many there were.
func (c *Context) ReleaseRole(role surface.Role) int {
	n := 0
	for _, slot := range c.Bindings() {
		if slot.Role == role && c.Release(slot) {
			n++
		}
	}
	return n
}

// Bindings returns the bound slots in role, index order.
func (c *Context) Bindings() []Slot {
	c.mu.Lock()
	slots := make([]Slot, 0, len(c.bindings))
	for s := range c.bindings {
		slots = append(slots, s)
	}
	c.mu.Unlock()

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Role != slots[j].Role {
			return slots[i].Role < slots[j].Role
		}
		return slots[i].Index < slots[j].Index
	})
	return slots
}

// Len returns the number of live bindings.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bindings)
}

// Teardown releases every binding. The context stays usable. It returns the
// number of bindings released and is idempotent.
func (c *Context) Teardown() int {
	c.mu.Lock()
	bound := c.bindings
	c.bindings = make(map[Slot]Resource)
	c.mu.Unlock()

	for slot, res := range bound {
		c.logger.Debug("Releasing binding", "session", c.id, "slot", slot.String())
		res.Stop()
		res.Release()
	}
	if len(bound) > 0 {
		c.changed()
	}
	return len(bound)
}

// Closed reports whether the context was closed.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// close tears down and refuses new bindings.
func (c *Context) close() int {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.Teardown()
}

func (c *Context) changed() {
	if c.onChange != nil {
		c.onChange(c)
	}
}
