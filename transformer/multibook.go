package transformer

import (
	"context"
	"fmt"
	"time"

	"tickflow/book"
	"tickflow/event"
	"tickflow/instrument"
	"tickflow/metrics"
	"tickflow/stream"
	"tickflow/subscription"
	"tickflow/ws"
)

// SeedFunc fetches an initial snapshot for one book subscription, typically
// over REST. Invoked during construction only; a failure is fatal to stream
// initialisation.
type SeedFunc func(ctx context.Context, sub subscription.Subscription) (*BookMessage, error)

// ResyncFunc builds the outbound messages that make the exchange push a fresh
// snapshot for the given subscription after a sequence gap, typically an
// unsubscribe followed by a resubscribe. Exchanges whose snapshots only come
// from REST return false; their consumers recover by restarting the stream.
type ResyncFunc func(sub subscription.Subscription) ([]ws.Message, bool)

// MultiBookConfig wires a MultiBook transformer.
type MultiBookConfig struct {
	Exchange subscription.ExchangeID
	Codec    Codec
	Subs     subscription.Map
	Outbound chan<- ws.Message
	Seed     SeedFunc
	Resync   ResyncFunc
}

type bookState struct {
	book    *book.Book
	lastSeq uint64
	seeded  bool
}

// MultiBook is the stateful transformer for L2/L3 streams. It keeps one book
// per instrument, applies deltas in strict sequence order and invalidates the
// book on a detected gap. Self-contained events decoded from the same
// connection (e.g. trades subscribed alongside a book) pass through
// unchanged, so one connection can carry mixed kinds.
type MultiBook struct {
	exchange subscription.ExchangeID
	codec    Codec
	subs     subscription.Map
	outbound chan<- ws.Message
	resync   ResyncFunc
	books    map[instrument.Instrument]*bookState
}

// NewMultiBook builds the transformer and, when the exchange requires it,
// seeds every book instrument from cfg.Seed.
func NewMultiBook(ctx context.Context, cfg MultiBookConfig) (*MultiBook, error) {
	t := &MultiBook{
		exchange: cfg.Exchange,
		codec:    cfg.Codec,
		subs:     cfg.Subs,
		outbound: cfg.Outbound,
		resync:   cfg.Resync,
		books:    make(map[instrument.Instrument]*bookState),
	}

	for _, sub := range cfg.Subs {
		if !sub.Kind.IsBook() {
			continue
		}
		state := &bookState{book: book.New()}
		t.books[sub.Instrument] = state

		if cfg.Seed == nil {
			continue
		}
		snapshot, err := cfg.Seed(ctx, sub)
		if err != nil {
			return nil, fmt.Errorf("seed %s book: %w", sub.Instrument, err)
		}
		state.book.Replace(snapshot.Bids, snapshot.Asks)
		state.lastSeq = snapshot.LastSeq
		state.seeded = true
	}
	return t, nil
}

// Transform translates one raw frame. Synchronous; any outbound traffic goes
// through the queue.
func (t *MultiBook) Transform(raw []byte) []stream.Result {
	decoded, err := t.codec.Decode(raw)
	if err != nil {
		return []stream.Result{{Err: &stream.ParseError{Exchange: t.exchange, Err: err}}}
	}

	var results []stream.Result
	received := time.Now().UTC()
	for _, d := range decoded {
		sub, ok := t.subs.Find(d.ID)
		if !ok {
			results = append(results, stream.Result{Err: &stream.UnknownChannelError{Exchange: t.exchange, ID: d.ID}})
			continue
		}

		if d.Book == nil {
			for _, ev := range d.Events {
				results = append(results, stream.Result{Market: event.Market{
					Exchange:     t.exchange,
					Instrument:   sub.Instrument,
					ReceivedTime: received,
					Event:        ev,
				}})
			}
			continue
		}

		state, ok := t.books[sub.Instrument]
		if !ok {
			results = append(results, stream.Result{Err: fmt.Errorf("%s: book message for non-book subscription %s", t.exchange, sub)})
			continue
		}
		if r, yield := t.applyBook(sub, state, d.Book, received); yield {
			results = append(results, r)
		}
	}
	return results
}

// applyBook runs the sequenced reconstruction for one book message. The
// second return value is false when the message produced no stream item
// (stale delta, or delta while awaiting a fresh snapshot).
func (t *MultiBook) applyBook(sub subscription.Subscription, state *bookState, msg *BookMessage, received time.Time) (stream.Result, bool) {
	if msg.Snapshot {
		state.book.Replace(msg.Bids, msg.Asks)
		state.lastSeq = msg.LastSeq
		state.seeded = true
		return stream.Result{Market: event.Market{
			Exchange:     t.exchange,
			Instrument:   sub.Instrument,
			ReceivedTime: received,
			Event: event.OrderBookSnapshot{
				Time: eventTime(msg.Time),
				Seq:  msg.LastSeq,
				Bids: state.book.Bids(),
				Asks: state.book.Asks(),
			},
		}}, true
	}

	if !state.seeded {
		// awaiting a fresh snapshot after invalidation; deltas are discarded
		return stream.Result{}, false
	}

	expected := state.lastSeq + 1
	switch {
	case msg.LastSeq < expected:
		// stale: already covered by the current state
		return stream.Result{}, false

	case msg.FirstSeq > expected:
		// gap: drop state, request a resync, surface the gap
		state.book = book.New()
		state.lastSeq = 0
		state.seeded = false
		metrics.GapsTotal.WithLabelValues(string(t.exchange)).Inc()
		if t.resync != nil {
			if reqs, ok := t.resync(sub); ok {
				for _, req := range reqs {
					stream.TrySend(t.outbound, req)
				}
			}
		}
		return stream.Result{Err: &stream.GapError{
			Exchange:   t.exchange,
			Instrument: sub.Instrument,
			Expected:   expected,
			Got:        msg.FirstSeq,
		}}, true

	default:
		state.book.Apply(msg.Bids, msg.Asks)
		state.lastSeq = msg.LastSeq
		return stream.Result{Market: event.Market{
			Exchange:     t.exchange,
			Instrument:   sub.Instrument,
			ReceivedTime: received,
			Event: event.OrderBookUpdate{
				Time: eventTime(msg.Time),
				Seq:  msg.LastSeq,
				Bids: msg.Bids,
				Asks: msg.Asks,
			},
		}}, true
	}
}

// Book exposes the reconstructed book for an instrument, primarily for
// consumers that want best bid/ask queries between updates.
func (t *MultiBook) Book(inst instrument.Instrument) (*book.Book, bool) {
	state, ok := t.books[inst]
	if !ok || !state.seeded {
		return nil, false
	}
	return state.book, true
}
