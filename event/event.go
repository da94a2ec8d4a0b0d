// Package event defines the normalised output types yielded by every market
// stream regardless of the originating exchange.
package event

import (
	"time"

	"tickflow/book"
	"tickflow/instrument"
	"tickflow/subscription"
)

// TradeSide is the aggressor side of a public trade.
type TradeSide string

const (
	Buy  TradeSide = "buy"
	Sell TradeSide = "sell"
)

// Event is the closed set of normalised payloads carried by a Market
// envelope. The concrete type is fixed by the SubKind of the subscription
// that produced it.
type Event interface {
	Kind() subscription.SubKind
}

// Market is the envelope around every normalised event.
type Market struct {
	Exchange     subscription.ExchangeID `json:"exchange"`
	Instrument   instrument.Instrument   `json:"instrument"`
	ReceivedTime time.Time               `json:"received_time"`
	Event        Event                   `json:"event"`
}

// Trade is one public trade.
type Trade struct {
	ID     string    `json:"id"`
	Price  float64   `json:"price"`
	Amount float64   `json:"amount"`
	Side   TradeSide `json:"side"`
	Time   time.Time `json:"time"`
}

func (Trade) Kind() subscription.SubKind { return subscription.PublicTrades }

// OrderBookL1 is a self-contained top-of-book update.
type OrderBookL1 struct {
	Time    time.Time  `json:"time"`
	BestBid book.Level `json:"best_bid"`
	BestAsk book.Level `json:"best_ask"`
}

func (OrderBookL1) Kind() subscription.SubKind { return subscription.OrderBooksL1 }

// OrderBookSnapshot is the full book state after a (re)seed.
type OrderBookSnapshot struct {
	Time time.Time    `json:"time"`
	Seq  uint64       `json:"seq"`
	Bids []book.Level `json:"bids"`
	Asks []book.Level `json:"asks"`
}

func (OrderBookSnapshot) Kind() subscription.SubKind { return subscription.OrderBooksL2 }

// OrderBookUpdate is the incremental diff applied by one accepted delta.
type OrderBookUpdate struct {
	Time time.Time    `json:"time"`
	Seq  uint64       `json:"seq"`
	Bids []book.Level `json:"bids"`
	Asks []book.Level `json:"asks"`
}

func (OrderBookUpdate) Kind() subscription.SubKind { return subscription.OrderBooksL2 }
