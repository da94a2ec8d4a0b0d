package transformer

import (
	"fmt"
	"time"

	"tickflow/event"
	"tickflow/stream"
	"tickflow/subscription"
)

// Stateless transforms self-contained frames (public trades, L1 books) where
// no reconstruction state is needed: each frame maps directly to zero or more
// normalised events.
type Stateless struct {
	exchange subscription.ExchangeID
	codec    Codec
	subs     subscription.Map
}

// NewStateless builds a stateless transformer owning the resolution map.
func NewStateless(exchange subscription.ExchangeID, codec Codec, subs subscription.Map) *Stateless {
	return &Stateless{exchange: exchange, codec: codec, subs: subs}
}

// Transform translates one raw frame. Synchronous: no suspension, no I/O.
func (t *Stateless) Transform(raw []byte) []stream.Result {
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
		if d.Book != nil {
			results = append(results, stream.Result{Err: fmt.Errorf("%s: stateful book message on stateless stream %s", t.exchange, d.ID)})
			continue
		}
		for _, ev := range d.Events {
			results = append(results, stream.Result{Market: event.Market{
				Exchange:     t.exchange,
				Instrument:   sub.Instrument,
				ReceivedTime: received,
				Event:        ev,
			}})
		}
	}
	return results
}
