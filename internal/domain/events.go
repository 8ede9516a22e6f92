package domain

import (
	"sync"
	"time"
)

// EventType classifies domain events for routing and filtering.
type EventType string

// Bounded-context-prefixed event names.
const (
	EventTaskCreated        EventType = "task.created"
	EventTaskUpdated        EventType = "task.updated"
	EventTaskAssigned       EventType = "task.assigned"
	EventTaskClaimed        EventType = "task.claimed"
	EventTaskProgress       EventType = "task.progress"
	EventTaskCompleted      EventType = "task.completed"
	EventTaskFailed         EventType = "task.failed"
	EventTaskRetryScheduled EventType = "task.retry_scheduled"
	EventTaskAvailable      EventType = "task.available"

	EventAgentStarted EventType = "agent.started"
	EventAgentStopped EventType = "agent.stopped"
	EventAgentStatus  EventType = "agent.status"

	EventFileLock   EventType = "file.lock"
	EventFileUnlock EventType = "file.unlock"

	EventObjectiveCreated   EventType = "objective.created"
	EventMilestoneAdvanced  EventType = "objective.milestone.advanced"
	EventObjectiveCompleted EventType = "objective.completed"

	EventGovernorEndState EventType = "governor.end_state"

	EventSystemStartup  EventType = "system.startup"
	EventSystemShutdown EventType = "system.shutdown"
)

// Event is the interface all domain events implement.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() EntityID
	Payload() interface{}
}

// BaseEvent provides a reusable implementation of the Event interface.
type BaseEvent struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	AggID     EntityID    `json:"aggregate_id"`
	EventData interface{} `json:"data,omitempty"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() EntityID { return e.AggID }
func (e BaseEvent) Payload() interface{}  { return e.EventData }

// NewEvent creates a new domain event.
func NewEvent(eventType EventType, aggregateID EntityID, data interface{}) BaseEvent {
	return BaseEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		AggID:     aggregateID,
		EventData: data,
	}
}

// EventHandler processes a domain event. Handlers should be idempotent.
type EventHandler func(Event)

// SubscriptionID identifies a single Subscribe call so it can later be
// removed with Unsubscribe. Go func values are not comparable, so this
// token — not the handler itself — is the "exact handler reference" the
// caller retains and passes back.
type SubscriptionID string

// EventBus dispatches domain events to registered handlers.
type EventBus interface {
	Publish(event Event)
	Subscribe(eventType EventType, handler EventHandler) SubscriptionID
	SubscribeAll(handler EventHandler) SubscriptionID
	Unsubscribe(id SubscriptionID)
	Close()
}

type subscription struct {
	id      SubscriptionID
	handler EventHandler
}

// InProcessEventBus is a synchronous, in-memory EventBus.
type InProcessEventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]subscription
	all      []subscription
	byID     map[SubscriptionID]EventType // "" sentinel means "all" bucket
	closed   bool
	seq      uint64
}

// NewInProcessEventBus constructs a ready-to-use event bus.
func NewInProcessEventBus() *InProcessEventBus {
	return &InProcessEventBus{
		handlers: make(map[EventType][]subscription),
		byID:     make(map[SubscriptionID]EventType),
	}
}

func (b *InProcessEventBus) nextID() SubscriptionID {
	b.seq++
	return SubscriptionID(NewID().String() + "-" + itoa(b.seq))
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Publish dispatches an event to all registered handlers, typed first, then global.
func (b *InProcessEventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.handlers[event.EventType()] {
		s.handler(event)
	}
	for _, s := range b.all {
		s.handler(event)
	}
}

// Subscribe registers a handler for a specific event type and returns a
// token that can later be passed to Unsubscribe.
func (b *InProcessEventBus) Subscribe(eventType EventType, handler EventHandler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID()
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})
	b.byID[id] = eventType
	return id
}

// SubscribeAll registers a handler that receives every event.
func (b *InProcessEventBus) SubscribeAll(handler EventHandler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID()
	b.all = append(b.all, subscription{id: id, handler: handler})
	b.byID[id] = ""
	return id
}

// Unsubscribe removes a previously registered handler. After it returns, the
// handler will not be invoked for any event published afterwards.
func (b *InProcessEventBus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	eventType, ok := b.byID[id]
	if !ok {
		return
	}
	delete(b.byID, id)
	if eventType == "" {
		b.all = removeSubscription(b.all, id)
		return
	}
	b.handlers[eventType] = removeSubscription(b.handlers[eventType], id)
}

func removeSubscription(list []subscription, id SubscriptionID) []subscription {
	out := list[:0:0]
	for _, s := range list {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Close shuts down the event bus; subsequent Publish calls are no-ops.
func (b *InProcessEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = nil
	b.all = nil
	b.byID = nil
}

var _ EventBus = (*InProcessEventBus)(nil)
