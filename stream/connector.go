package stream

import (
	"context"
	"time"

	"tickflow/event"
	"tickflow/subscription"
	"tickflow/ws"
)

// Connector is the static per-exchange capability bundle: identity, wire
// naming, subscribe request construction, acknowledgement interpretation,
// optional ping policy and the transformer factory. Implementations hold no
// mutable state.
type Connector interface {
	// ID returns the exchange identity.
	ID() subscription.ExchangeID

	// URL returns the websocket endpoint to dial.
	URL() string

	// Channel returns the wire-level channel name for a subscription, or an
	// error when the exchange does not support the requested kind.
	Channel(sub subscription.Subscription) (string, error)

	// Market returns the wire-level market string for a subscription.
	Market(sub subscription.Subscription) (string, error)

	// SubscribeRequests builds the subscribe payload(s) for the given set.
	// Exchanges are free to batch many subscriptions per request or emit one
	// request each.
	SubscribeRequests(subs []subscription.Subscription) ([]ws.Message, error)

	// ExpectedAcks returns how many acknowledgement frames the exchange will
	// send for the given set. Zero means no explicit ack is expected and the
	// handshake is optimistically confirmed.
	ExpectedAcks(subs []subscription.Subscription) int

	// Validator returns a fresh acknowledgement interpreter for one handshake.
	Validator() SubscriptionValidator

	// PingInterval returns the exchange's custom application-level ping
	// policy, or nil when the protocol-level ping suffices.
	PingInterval() *PingInterval

	// NewTransformer builds the per-connection translator. outbound is the
	// send side of the connection's control message queue; m is the resolution
	// map owned by the transformer from here on. Construction may perform
	// blocking work such as REST snapshot seeding and may fail, which is fatal
	// to stream initialisation.
	NewTransformer(ctx context.Context, outbound chan<- ws.Message, m subscription.Map) (Transformer, error)
}

// PingInterval describes a custom application-level ping policy. Ping is
// invoked at each tick so payloads carrying timestamps are fresh.
type PingInterval struct {
	Interval time.Duration
	Ping     func() ws.Message
}

// Result is one item of the normalised stream: either a market event or a
// recoverable error.
type Result struct {
	Market event.Market
	Err    error
}

// Transformer translates one raw inbound frame into zero or more results. The
// call is synchronous: any outbound traffic it needs (acks, resubscribes,
// custom pongs) goes through the outbound queue, never direct I/O.
type Transformer interface {
	Transform(raw []byte) []Result
}

// TrySend enqueues an outbound message without blocking. Returns false when
// the queue is full or no longer drained; the message is dropped.
func TrySend(outbound chan<- ws.Message, msg ws.Message) bool {
	select {
	case outbound <- msg:
		return true
	default:
		return false
	}
}
