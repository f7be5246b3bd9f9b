package events

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var (
	eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ottdwire",
		Subsystem: "events",
		Name:      "emitted_total",
		Help:      "Events delivered to at least one handler, by type.",
	}, []string{"event"})
	handlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ottdwire",
		Subsystem: "events",
		Name:      "handler_failures_total",
		Help:      "Handlers that returned an error or panicked, by event type and handler.",
	}, []string{"event", "handler"})
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus fans decoded packets out to sinks such as the MQTT publisher and
// the CLI printer. Handlers run on their own goroutines.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		stopCh:   make(chan struct{}),
	}
}

// Subscribe registers a handler function for a specific event type.
// The name parameter is used for logging/debugging purposes.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
	})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes a named handler from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers, exists := eb.handlers[eventType]
	if !exists {
		return
	}

	filtered := make([]handlerEntry, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	eb.handlers[eventType] = filtered

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("unsubscribed from event")
}

// snapshot returns a copy of the handlers for eventType, or nil when the bus
// is stopped.
func (eb *EventBus) snapshot(eventType EventType) []handlerEntry {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return nil
	}
	return slices.Clone(eb.handlers[eventType])
}

// run invokes one handler. A panic is recovered and returned as an error;
// every failure is logged and counted.
func run(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", h.name, r)
		}
		if err != nil {
			handlerFailures.WithLabelValues(string(event.Type), h.name).Inc()
			log.Error().
				Err(err).
				Str("event", string(event.Type)).
				Str("source", event.Source).
				Str("handler", h.name).
				Msg("event handler failed")
		}
	}()
	return h.handler(ctx, event)
}

// Emit publishes an event to all subscribed handlers asynchronously.
// A zero event time is set to the current time.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	// wg.Add happens under the read lock so Stop cannot start waiting
	// between the stopped check and the add.
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return
	}
	handlers := slices.Clone(eb.handlers[event.Type])
	eb.wg.Add(len(handlers))
	eb.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}
	eventsEmitted.WithLabelValues(string(event.Type)).Inc()

	for _, h := range handlers {
		go func() {
			defer eb.wg.Done()
			_ = run(ctx, h, event)
		}()
	}
}

// EmitSync publishes an event and waits for all handlers to complete. The
// handler errors are returned joined.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	handlers := eb.snapshot(event.Type)
	if len(handlers) == 0 {
		return nil
	}
	eventsEmitted.WithLabelValues(string(event.Type)).Inc()

	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for i, h := range handlers {
		go func() {
			defer wg.Done()
			errs[i] = run(ctx, h, event)
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Stop signals the EventBus to stop accepting new events and waits
// for all in-flight handlers to complete. It is safe to call more than once.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for a specific event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
