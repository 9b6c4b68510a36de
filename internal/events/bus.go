package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher. A nil *Bus drops everything, so
// components can publish unconditionally.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish delivers ev to the subscribers of its concrete type.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case SessionOpenedEvent:
		event.Publish(b.dispatcher, e)
	case SessionClosedEvent:
		event.Publish(b.dispatcher, e)
	case TargetClassifiedEvent:
		event.Publish(b.dispatcher, e)
	case DecoderStartedEvent:
		event.Publish(b.dispatcher, e)
	case DecoderStoppedEvent:
		event.Publish(b.dispatcher, e)
	case PlaybackFailedEvent:
		event.Publish(b.dispatcher, e)
	case NoticeEvent:
		event.Publish(b.dispatcher, e)
	case FlagsChangedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers handler for the event type in its signature and
// returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e NoticeEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	if b == nil {
		return func() {}
	}
	switch h := handler.(type) {
	case func(SessionOpenedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SessionClosedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(TargetClassifiedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DecoderStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DecoderStoppedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PlaybackFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(NoticeEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FlagsChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

// SubscribeToChannel forwards events of type T into ch without blocking the
// dispatcher; events are dropped while ch is full.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	if bus == nil {
		return func() {}
	}
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}
