// Package mailbus implements the MailBus capability set from spec.md §4.2:
// topic subscribe/unsubscribe, publish with producer-order delivery,
// heartbeat, ack, and an exclusive lease table for file locking.
//
// The fan-out mechanics are grounded on the ancestor gateway's
// pkg/bus/bus.go (buffered-channel taps, non-blocking broadcast), and the
// lease bookkeeping on pkg/orchestration/orchestrator.go's claim/lease maps.
package mailbus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/agentclaw/internal/logger"
)

type subscription struct {
	id      SubscriptionID
	topic   string
	handler MessageHandler
}

type retained struct {
	msg Message
	at  time.Time
}

// Bus is the concrete, in-process MailBus.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]subscription // topic -> subscriptions, in Subscribe order
	byID map[SubscriptionID]string  // id -> topic, for Unsubscribe

	retentionMu     sync.Mutex
	retention       map[string][]retained
	retentionLimit  int
	retentionWindow time.Duration

	leaseMu sync.Mutex
	leases  map[string]*Lease

	ackMu sync.Mutex
	acked map[string]map[string]bool // messageID -> agentID -> true

	heartbeatMu sync.Mutex
	heartbeats  map[string]time.Time

	closed bool
}

// New constructs a ready-to-use Bus with default retention (256 messages per
// topic, 10 minute window).
func New() *Bus {
	return &Bus{
		subs:            make(map[string][]subscription),
		byID:            make(map[SubscriptionID]string),
		retention:       make(map[string][]retained),
		retentionLimit:  256,
		retentionWindow: 10 * time.Minute,
		leases:          make(map[string]*Lease),
		acked:           make(map[string]map[string]bool),
		heartbeats:      make(map[string]time.Time),
	}
}

// Subscribe registers handler for an exact topic string and returns a token
// that must be passed to Unsubscribe to remove it.
func (b *Bus) Subscribe(topic string, handler MessageHandler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := SubscriptionID(uuid.NewString())
	b.subs[topic] = append(b.subs[topic], subscription{id: id, topic: topic, handler: handler})
	b.byID[id] = topic
	return id
}

// Unsubscribe removes a previously registered handler. Best-effort: after it
// returns, no further invocations of that handler will occur for messages
// published afterwards (an invocation already in flight may still finish).
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	topic, ok := b.byID[id]
	if !ok {
		return
	}
	delete(b.byID, id)
	list := b.subs[topic]
	out := list[:0:0]
	for _, s := range list {
		if s.id != id {
			out = append(out, s)
		}
	}
	b.subs[topic] = out
}

// Publish fans the message out to every subscriber of message.Type.
// Handlers for a single Publish call are invoked synchronously, in
// subscription order, in the publishing goroutine — this is what gives
// per-(producer,topic) ordering: a producer that calls Publish sequentially
// sees its own messages delivered to each subscriber in that same order.
func (b *Bus) Publish(msg Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	closed := b.closed
	subs := append([]subscription(nil), b.subs[msg.Type]...)
	b.mu.RUnlock()
	if closed {
		return
	}

	b.retain(msg)

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorCF("mailbus", "subscriber panicked", map[string]interface{}{
						"topic": msg.Type,
						"panic": r,
					})
				}
			}()
			s.handler(msg)
		}()
	}
}

func (b *Bus) retain(msg Message) {
	b.retentionMu.Lock()
	defer b.retentionMu.Unlock()
	cutoff := time.Now().Add(-b.retentionWindow)
	list := b.retention[msg.Type]
	trimmed := list[:0:0]
	for _, r := range list {
		if r.at.After(cutoff) {
			trimmed = append(trimmed, r)
		}
	}
	trimmed = append(trimmed, retained{msg: msg, at: time.Now()})
	if len(trimmed) > b.retentionLimit {
		trimmed = trimmed[len(trimmed)-b.retentionLimit:]
	}
	b.retention[msg.Type] = trimmed
}

// ReplaySince returns retained messages for topic published after since,
// letting a subscriber that restarted within the retention window catch up.
func (b *Bus) ReplaySince(topic string, since time.Time) []Message {
	b.retentionMu.Lock()
	defer b.retentionMu.Unlock()
	var out []Message
	for _, r := range b.retention[topic] {
		if r.at.After(since) {
			out = append(out, r.msg)
		}
	}
	return out
}

// SendHeartbeat records a lightweight liveness signal for agentID.
func (b *Bus) SendHeartbeat(agentID string) {
	b.heartbeatMu.Lock()
	defer b.heartbeatMu.Unlock()
	b.heartbeats[agentID] = time.Now().UTC()
}

// LastHeartbeat returns the last recorded heartbeat time for agentID.
func (b *Bus) LastHeartbeat(agentID string) (time.Time, bool) {
	b.heartbeatMu.Lock()
	defer b.heartbeatMu.Unlock()
	t, ok := b.heartbeats[agentID]
	return t, ok
}

// Acknowledge marks messageID as received by agentID, for messages whose
// AckRequired flag is set.
func (b *Bus) Acknowledge(messageID, agentID string) {
	b.ackMu.Lock()
	defer b.ackMu.Unlock()
	if b.acked[messageID] == nil {
		b.acked[messageID] = make(map[string]bool)
	}
	b.acked[messageID][agentID] = true
}

// IsAcknowledged reports whether agentID has acknowledged messageID.
func (b *Bus) IsAcknowledged(messageID, agentID string) bool {
	b.ackMu.Lock()
	defer b.ackMu.Unlock()
	return b.acked[messageID][agentID]
}

// AcquireLease grants an exclusive, short-lived reservation of key to
// holderAgentID for ttl. It never blocks: it either succeeds immediately or
// fails immediately because a live lease is already held by someone else.
func (b *Bus) AcquireLease(key, holderAgentID string, ttl time.Duration) bool {
	b.leaseMu.Lock()
	defer b.leaseMu.Unlock()
	now := time.Now().UTC()
	if existing, ok := b.leases[key]; ok && existing.ExpiresAt.After(now) {
		if existing.HolderAgentID == holderAgentID {
			existing.ExpiresAt = now.Add(ttl)
			return true
		}
		return false
	}
	b.leases[key] = &Lease{
		ResourceKey:   key,
		HolderAgentID: holderAgentID,
		AcquiredAt:    now,
		ExpiresAt:     now.Add(ttl),
	}
	return true
}

// IsLeased reports whether key currently has a live holder.
func (b *Bus) IsLeased(key string) (leased bool, holderID string) {
	b.leaseMu.Lock()
	defer b.leaseMu.Unlock()
	existing, ok := b.leases[key]
	if !ok || !existing.ExpiresAt.After(time.Now().UTC()) {
		return false, ""
	}
	return true, existing.HolderAgentID
}

// ReleaseLease releases key; a no-op if holderAgentID is not the current holder.
func (b *Bus) ReleaseLease(key, holderAgentID string) {
	b.leaseMu.Lock()
	defer b.leaseMu.Unlock()
	existing, ok := b.leases[key]
	if !ok || existing.HolderAgentID != holderAgentID {
		return
	}
	delete(b.leases, key)
}

// CleanupExpiredLeases removes leases whose TTL has elapsed, independent of
// holder liveness, and returns the count removed.
func (b *Bus) CleanupExpiredLeases() int {
	b.leaseMu.Lock()
	defer b.leaseMu.Unlock()
	now := time.Now().UTC()
	n := 0
	for k, l := range b.leases {
		if !l.ExpiresAt.After(now) {
			delete(b.leases, k)
			n++
		}
	}
	return n
}

// Close shuts the bus down; subsequent Publish calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
