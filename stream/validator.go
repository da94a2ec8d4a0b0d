package stream

import "tickflow/subscription"

// Outcome classifies one inbound frame observed during the handshake.
type Outcome int

const (
	// OutcomeData marks a frame that is not an acknowledgement, e.g. a data
	// frame arriving before the exchange confirms the subscription. Such
	// frames are buffered while the handshake is in flight and replayed once
	// it completes.
	OutcomeData Outcome = iota

	// OutcomeConfirmed marks one successful acknowledgement.
	OutcomeConfirmed

	// OutcomeRejected marks a rejection. The whole handshake fails.
	OutcomeRejected

	// OutcomeNoAck signals the exchange sends no explicit acknowledgement and
	// the subscription set should be treated as optimistically confirmed.
	OutcomeNoAck
)

// Ack is the interpretation of one handshake frame.
type Ack struct {
	Outcome Outcome
	// Reason describes a rejection.
	Reason string
	// Failed lists the rejected wire identifiers when the exchange names
	// them, e.g. a partial rejection inside a batched subscribe.
	Failed []subscription.SubID
}

// SubscriptionValidator interprets exchange acknowledgement frames during the
// handshake. Implementations are stateless apart from correlation identifiers
// carried over from the subscribe requests.
type SubscriptionValidator interface {
	Validate(frame []byte) Ack
}

// OptimisticValidator is the validator for exchanges that send no
// acknowledgement at all: every frame confirms the handshake.
type OptimisticValidator struct{}

func (OptimisticValidator) Validate([]byte) Ack {
	return Ack{Outcome: OutcomeNoAck}
}
