package events

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Handler consumes an event. Returned errors are logged by the bus and never
// propagated back to the emitter.
type Handler func(Event) error

// Bus is a synchronous in-process publish/subscribe bus.
// Handlers run on the emitting goroutine after the emitter's state change is committed;
// a failing or panicking handler never affects the emitter or other handlers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Handler
	log         zerolog.Logger
}

// NewBus creates an empty bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Handler),
		log:         log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers handler for every event of the given type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish delivers event to all subscribers of its type
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := b.invoke(h, event); err != nil {
			b.log.Error().
				Err(err).
				Str("event_type", string(event.Type)).
				Str("module", event.Module).
				Msg("Event handler failed")
		}
	}
}

func (b *Bus) invoke(h Handler, event Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(event)
}
