// Package book maintains per-instrument order book state reconstructed from
// exchange snapshots and deltas. A Book has no internal locking: it is owned
// and mutated by a single transformer goroutine.
package book

import "sort"

// Level is a single price level.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Side holds one side of the book ordered by price: bids descending, asks
// ascending, so the best level is always index zero.
type Side struct {
	levels     []Level
	descending bool
}

func newSide(descending bool) Side {
	return Side{descending: descending}
}

// search returns the insertion index for price using the side's ordering.
func (s *Side) search(price float64) int {
	return sort.Search(len(s.levels), func(i int) bool {
		if s.descending {
			return s.levels[i].Price <= price
		}
		return s.levels[i].Price >= price
	})
}

// Replace discards current levels and installs the given snapshot levels.
// Zero-sized levels are dropped.
func (s *Side) Replace(levels []Level) {
	s.levels = s.levels[:0]
	for _, l := range levels {
		if l.Size > 0 {
			s.levels = append(s.levels, l)
		}
	}
	sort.Slice(s.levels, func(i, j int) bool {
		if s.descending {
			return s.levels[i].Price > s.levels[j].Price
		}
		return s.levels[i].Price < s.levels[j].Price
	})
}

// Update applies one delta entry: size zero removes the price level, any other
// size replaces it.
func (s *Side) Update(l Level) {
	i := s.search(l.Price)
	exists := i < len(s.levels) && s.levels[i].Price == l.Price

	switch {
	case l.Size <= 0 && exists:
		s.levels = append(s.levels[:i], s.levels[i+1:]...)
	case l.Size <= 0:
		// removal of an absent level is a no-op
	case exists:
		s.levels[i].Size = l.Size
	default:
		s.levels = append(s.levels, Level{})
		copy(s.levels[i+1:], s.levels[i:])
		s.levels[i] = l
	}
}

// Best returns the top level of the side.
func (s *Side) Best() (Level, bool) {
	if len(s.levels) == 0 {
		return Level{}, false
	}
	return s.levels[0], true
}

// Levels returns a copy of the side's levels in order.
func (s *Side) Levels() []Level {
	out := make([]Level, len(s.levels))
	copy(out, s.levels)
	return out
}

// Len returns the number of levels on the side.
func (s *Side) Len() int { return len(s.levels) }

// Book is a two-sided order book.
type Book struct {
	bids Side
	asks Side
}

// New allocates an empty book.
func New() *Book {
	return &Book{bids: newSide(true), asks: newSide(false)}
}

// Replace installs a full snapshot, discarding prior state.
func (b *Book) Replace(bids, asks []Level) {
	b.bids.Replace(bids)
	b.asks.Replace(asks)
}

// Apply applies delta entries to both sides.
func (b *Book) Apply(bids, asks []Level) {
	for _, l := range bids {
		b.bids.Update(l)
	}
	for _, l := range asks {
		b.asks.Update(l)
	}
}

// BestBid returns the highest bid.
func (b *Book) BestBid() (Level, bool) { return b.bids.Best() }

// BestAsk returns the lowest ask.
func (b *Book) BestAsk() (Level, bool) { return b.asks.Best() }

// Bids returns a copy of the bid levels, best first.
func (b *Book) Bids() []Level { return b.bids.Levels() }

// Asks returns a copy of the ask levels, best first.
func (b *Book) Asks() []Level { return b.asks.Levels() }
