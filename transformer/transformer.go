// Package transformer provides the two standard transformer shapes used by
// market streams: a stateless pass-through for self-contained events (trades,
// top-of-book) and a stateful multi-book variant that reconstructs one order
// book per instrument from snapshots and sequenced deltas.
package transformer

import (
	"time"

	"tickflow/book"
	"tickflow/event"
	"tickflow/subscription"
)

// BookMessage carries one instrument's book payload extracted from a raw
// frame: either a full snapshot or a delta covering the sequence range
// [FirstSeq, LastSeq].
type BookMessage struct {
	Snapshot bool
	FirstSeq uint64
	LastSeq  uint64
	Time     time.Time
	Bids     []book.Level
	Asks     []book.Level
}

// Decoded is one logical message extracted from a raw exchange frame. Either
// Events (self-contained) or Book (stateful) is set, never both.
type Decoded struct {
	ID     subscription.SubID
	Events []event.Event
	Book   *BookMessage
}

// Codec decodes one raw exchange frame into zero or more logical messages.
// Control frames such as pongs and heartbeats decode to an empty set. Each
// exchange module supplies its own codec; the transformers stay generic.
type Codec interface {
	Decode(raw []byte) ([]Decoded, error)
}

// CodecFunc adapts a function to the Codec interface.
type CodecFunc func(raw []byte) ([]Decoded, error)

func (f CodecFunc) Decode(raw []byte) ([]Decoded, error) { return f(raw) }

func eventTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
