// Package broker defines the typed pub/sub abstraction (spec §4.A) that
// every message in the system is routed through, so that the transport and
// protocol engine can be horizontally scaled across instances: publish and
// subscribe happen against named subjects rather than in-process channels.
package broker

import "context"

// Message is a single delivered payload, carrying the broker-assigned
// event id and delivery metadata plus ack/nack handles (spec's "Broker
// message").
type Message struct {
	Subject  string
	Payload  []byte
	EventID  string // opaque, monotone per (subject, producer)
	Attempt  int    // delivery attempt, starting at 1
	Ack      func()
	Nack     func(delay bool)
}

// SubscribeOptions configures a Subscribe call.
type SubscribeOptions struct {
	// FromEventID, if set, requests replay of all messages with an event
	// id strictly greater than this one for subjects matching the
	// pattern, followed by live messages.
	FromEventID string
	// QueueGroup, if set, makes this subscription compete with other
	// subscribers in the same group for each message (exactly one
	// delivery per message within the group).
	QueueGroup string
}

// Subscription is a lazy, ordered sequence of delivered messages.
type Subscription interface {
	// Ready returns a channel that closes once the subscription is live:
	// no message published strictly after Ready() is observed closed can
	// be missed. Backends whose Subscribe is synchronously live may
	// return an already-closed channel.
	Ready() <-chan struct{}

	// C is the channel of delivered messages. It closes when the
	// subscription is unsubscribed or the broker is closed.
	C() <-chan Message

	// Unsubscribe tears down the subscription. Idempotent.
	Unsubscribe() error
}

// Broker is the narrow interface every concrete backend implements
// (in-memory, NATS, or any other queue/log store).
type Broker interface {
	// Publish enqueues payload on subject, returning the assigned event
	// id on success.
	Publish(ctx context.Context, subject string, payload []byte) (eventID string, err error)

	// Subscribe opens a subscription against subject (which may contain
	// `*`/`>` wildcards; a backend may reject wildcards it cannot
	// implement, but must always accept wildcard-free patterns).
	Subscribe(ctx context.Context, subject string, opts SubscribeOptions) (Subscription, error)

	// Close tears down the broker and every subscription derived from it.
	Close() error
}
