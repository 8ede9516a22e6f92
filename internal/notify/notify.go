// Package notify sends outbound alerts for events an operator should see
// without tailing logs: permanent task failure and the runtime governor
// reaching an end state.
//
// Grounded on pkg/integration/registry.go's Integration shape (Name/Init/
// Start/Stop/Health) — a Sink registers and is driven the same way.
package notify

import "context"

// Event is a single outbound notification.
type Event struct {
	Title   string
	Message string
}

// Sink delivers Events to an external channel.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// NopSink discards every event; used when no webhook is configured.
type NopSink struct{}

// Notify implements Sink.
func (NopSink) Notify(context.Context, Event) error { return nil }

var _ Sink = NopSink{}
