package mailbus

import "time"

// Message is the unit of communication on the bus. Delivery is at-least-once;
// subscribers must be idempotent on repeated delivery.
type Message struct {
	ID          string
	Type        string // topic — an exact string match against subscriptions
	From        string
	To          string // optional direct-addressing hint; bus still fans out by topic
	Payload     map[string]interface{}
	Timestamp   time.Time
	AckRequired bool
}

// MessageHandler processes a Message delivered for a subscribed topic.
type MessageHandler func(Message)

// SubscriptionID is the token returned by Subscribe and required by
// Unsubscribe — the "exact handler reference" spec.md calls for, modeled as
// a token rather than the func value itself since Go func values are not
// comparable.
type SubscriptionID string

// Lease is a short-lived exclusive reservation of a resource key, typically
// a file path extracted from a task's title/description.
type Lease struct {
	ResourceKey   string
	HolderAgentID string
	AcquiredAt    time.Time
	ExpiresAt     time.Time
}
