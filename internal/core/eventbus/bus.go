package eventbus

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/Hexidecibel/companion/internal/core/logging"
)

// Event identifies one event type on the bus.
type Event string

// EventBus dispatches typed events to subscribers. Subscribers for an event
// run synchronously in registration order; a panicking subscriber is
// recovered and logged without affecting later subscribers.
type EventBus struct {
	mu   sync.RWMutex
	subs map[Event][]func(any)
	log  zerolog.Logger
}

// New creates an empty EventBus.
func New() *EventBus {
	return &EventBus{
		subs: make(map[Event][]func(any)),
		log:  logging.Component("eventbus"),
	}
}

func (bus *EventBus) subscribe(event Event, fn func(any)) {
	bus.mu.Lock()
	bus.subs[event] = append(bus.subs[event], fn)
	bus.mu.Unlock()
}

func (bus *EventBus) publish(event Event, payload any) {
	bus.mu.RLock()
	handlers := make([]func(any), len(bus.subs[event]))
	copy(handlers, bus.subs[event])
	bus.mu.RUnlock()

	for _, fn := range handlers {
		bus.safeCall(event, fn, payload)
	}
}

func (bus *EventBus) safeCall(event Event, fn func(any), payload any) {
	defer func() {
		if recovered := recover(); recovered != nil {
			bus.log.Error().
				Str("event", string(event)).
				Interface("panic", recovered).
				Msg("subscriber panicked")
		}
	}()
	fn(payload)
}

func subscribeTyped[T any](bus *EventBus, event Event, fn func(T)) {
	bus.subscribe(event, func(v any) {
		if payload, ok := v.(T); ok {
			fn(payload)
		}
	})
}

// PublishConversationUpdate publishes a conversation.updated event.
func (bus *EventBus) PublishConversationUpdate(p ConversationUpdatePayload) {
	bus.publish(EventConversationUpdate, p)
}

// SubscribeConversationUpdate registers a subscriber for conversation.updated events.
func (bus *EventBus) SubscribeConversationUpdate(fn func(ConversationUpdatePayload)) {
	subscribeTyped(bus, EventConversationUpdate, fn)
}

// PublishStatusChange publishes a status.changed event.
func (bus *EventBus) PublishStatusChange(p StatusChangePayload) {
	bus.publish(EventStatusChange, p)
}

// SubscribeStatusChange registers a subscriber for status.changed events.
func (bus *EventBus) SubscribeStatusChange(fn func(StatusChangePayload)) {
	subscribeTyped(bus, EventStatusChange, fn)
}

// PublishPendingApproval publishes an approval.pending event.
func (bus *EventBus) PublishPendingApproval(p PendingApprovalPayload) {
	bus.publish(EventPendingApproval, p)
}

// SubscribePendingApproval registers a subscriber for approval.pending events.
func (bus *EventBus) SubscribePendingApproval(fn func(PendingApprovalPayload)) {
	subscribeTyped(bus, EventPendingApproval, fn)
}

// PublishErrorDetected publishes an error.detected event.
func (bus *EventBus) PublishErrorDetected(p ErrorDetectedPayload) {
	bus.publish(EventErrorDetected, p)
}

// SubscribeErrorDetected registers a subscriber for error.detected events.
func (bus *EventBus) SubscribeErrorDetected(fn func(ErrorDetectedPayload)) {
	subscribeTyped(bus, EventErrorDetected, fn)
}

// PublishSessionCompleted publishes a session.completed event.
func (bus *EventBus) PublishSessionCompleted(p SessionCompletedPayload) {
	bus.publish(EventSessionCompleted, p)
}

// SubscribeSessionCompleted registers a subscriber for session.completed events.
func (bus *EventBus) SubscribeSessionCompleted(fn func(SessionCompletedPayload)) {
	subscribeTyped(bus, EventSessionCompleted, fn)
}

// PublishCompaction publishes a conversation.compacted event.
func (bus *EventBus) PublishCompaction(p CompactionPayload) {
	bus.publish(EventCompaction, p)
}

// SubscribeCompaction registers a subscriber for conversation.compacted events.
func (bus *EventBus) SubscribeCompaction(fn func(CompactionPayload)) {
	subscribeTyped(bus, EventCompaction, fn)
}

// PublishOtherSessionActivity publishes a session.background-activity event.
func (bus *EventBus) PublishOtherSessionActivity(p OtherSessionActivityPayload) {
	bus.publish(EventOtherSessionActivity, p)
}

// SubscribeOtherSessionActivity registers a subscriber for session.background-activity events.
func (bus *EventBus) SubscribeOtherSessionActivity(fn func(OtherSessionActivityPayload)) {
	subscribeTyped(bus, EventOtherSessionActivity, fn)
}

// PublishWatcherError publishes a watcher.error event.
func (bus *EventBus) PublishWatcherError(p WatcherErrorPayload) {
	bus.publish(EventWatcherError, p)
}

// SubscribeWatcherError registers a subscriber for watcher.error events.
func (bus *EventBus) SubscribeWatcherError(fn func(WatcherErrorPayload)) {
	subscribeTyped(bus, EventWatcherError, fn)
}
