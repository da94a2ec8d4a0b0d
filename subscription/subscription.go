package subscription

import (
	"fmt"

	"tickflow/instrument"
)

// ExchangeID identifies a supported exchange.
type ExchangeID string

const (
	Binance ExchangeID = "binance"
	Okx     ExchangeID = "okx"
	Bybit   ExchangeID = "bybit"
)

// SubKind defines the category of market data requested. The kind fixes the
// normalised event type the stream yields for it.
type SubKind string

const (
	PublicTrades SubKind = "public_trades"
	OrderBooksL1 SubKind = "order_books_l1"
	OrderBooksL2 SubKind = "order_books_l2"
	OrderBooksL3 SubKind = "order_books_l3"
)

// IsBook reports whether the kind requires stateful book reconstruction.
func (k SubKind) IsBook() bool {
	switch k {
	case OrderBooksL2, OrderBooksL3:
		return true
	default:
		return false
	}
}

// Subscription pairs an instrument with a data kind for one exchange. Values
// are built once by the caller before stream initialisation and never mutated.
type Subscription struct {
	Exchange   ExchangeID
	Instrument instrument.Instrument
	Kind       SubKind
}

// New builds a Subscription.
func New(exchange ExchangeID, base, quote string, market instrument.Kind, kind SubKind) Subscription {
	return Subscription{
		Exchange:   exchange,
		Instrument: instrument.New(base, quote, market),
		Kind:       kind,
	}
}

func (s Subscription) String() string {
	return fmt.Sprintf("%s|%s|%s", s.Exchange, s.Instrument, s.Kind)
}

// SubID is the wire-level identifier of a subscription: the exchange channel
// name plus the exchange market string. It is the key inbound frames are
// resolved by.
type SubID struct {
	Channel string
	Market  string
}

func (id SubID) String() string {
	return fmt.Sprintf("%s:%s", id.Channel, id.Market)
}

// Map resolves wire-level identifiers to the subscriptions that requested
// them. It is built once during the handshake and owned exclusively by the
// transformer afterwards.
type Map map[SubID]Subscription

// NewMap allocates an empty resolution map.
func NewMap() Map { return make(Map) }

// Add inserts an entry, rejecting duplicate identifiers. Keys must be unique
// per connection.
func (m Map) Add(id SubID, sub Subscription) error {
	if existing, ok := m[id]; ok {
		return fmt.Errorf("duplicate subscription id %s: held by %s", id, existing)
	}
	m[id] = sub
	return nil
}

// Find looks up the subscription for a wire identifier.
func (m Map) Find(id SubID) (Subscription, bool) {
	sub, ok := m[id]
	return sub, ok
}
