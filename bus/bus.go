// Package bus provides event distribution and run-history persistence for
// checkflow pipeline execution. It lets components publish and subscribe to
// runtime events, enabling decoupled communication between the execution
// engine and observers such as loggers, the daemon API, and monitoring
// systems, and it records finished runs for the history command.
package bus

import checkflow "github.com/petal-labs/checkflow"

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event checkflow.Event)

	// Subscribe registers a subscriber for a specific run.
	// Returns a Subscription that must be closed when done.
	Subscribe(runID string) Subscription

	// SubscribeAll registers a subscriber that receives events from all runs.
	// Returns a Subscription that must be closed when done.
	SubscribeAll() Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription interface {
	// Events returns a channel of events for this subscription.
	Events() <-chan checkflow.Event

	// Close unsubscribes and releases resources.
	Close() error
}
