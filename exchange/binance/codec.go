package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tickflow/book"
	"tickflow/event"
	"tickflow/subscription"
	"tickflow/transformer"
)

// tradeEvent mirrors the futures aggTrade stream payload.
type tradeEvent struct {
	Event      string `json:"e"`
	Time       int64  `json:"E"`
	Symbol     string `json:"s"`
	TradeID    int64  `json:"a"`
	Price      string `json:"p"`
	Quantity   string `json:"q"`
	TradeTime  int64  `json:"T"`
	BuyerMaker bool   `json:"m"`
}

// bookTickerEvent mirrors the futures bookTicker stream payload.
type bookTickerEvent struct {
	Event      string `json:"e"`
	UpdateID   int64  `json:"u"`
	Symbol     string `json:"s"`
	BestBid    string `json:"b"`
	BestBidQty string `json:"B"`
	BestAsk    string `json:"a"`
	BestAskQty string `json:"A"`
	Time       int64  `json:"E"`
}

// depthEvent mirrors the futures diff depth stream payload.
type depthEvent struct {
	Event         string     `json:"e"`
	Time          int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	LastUpdateID  int64      `json:"u"`
	PrevUpdateID  int64      `json:"pu"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// decode translates one raw Binance frame into logical messages. Ack and
// result frames carry no "e" field and decode to an empty set.
func decode(raw []byte) ([]transformer.Decoded, error) {
	var probe struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("binance frame: %w", err)
	}
	if probe.Event == "" {
		return nil, nil
	}

	switch probe.Event {
	case "aggTrade":
		return decodeTrade(raw)
	case "bookTicker":
		return decodeBookTicker(raw)
	case "depthUpdate":
		return decodeDepth(raw)
	default:
		return nil, fmt.Errorf("binance frame: unsupported event type %q", probe.Event)
	}
}

func decodeTrade(raw []byte) ([]transformer.Decoded, error) {
	var evt tradeEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("binance aggTrade: %w", err)
	}

	price, err := strconv.ParseFloat(evt.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("binance aggTrade price: %w", err)
	}
	amount, err := strconv.ParseFloat(evt.Quantity, 64)
	if err != nil {
		return nil, fmt.Errorf("binance aggTrade quantity: %w", err)
	}

	// buyer-is-maker means the aggressor sold
	side := event.Buy
	if evt.BuyerMaker {
		side = event.Sell
	}

	return []transformer.Decoded{{
		ID: subscription.SubID{Channel: channelTrades, Market: strings.ToLower(evt.Symbol)},
		Events: []event.Event{event.Trade{
			ID:     strconv.FormatInt(evt.TradeID, 10),
			Price:  price,
			Amount: amount,
			Side:   side,
			Time:   time.UnixMilli(evt.TradeTime).UTC(),
		}},
	}}, nil
}

func decodeBookTicker(raw []byte) ([]transformer.Decoded, error) {
	var evt bookTickerEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("binance bookTicker: %w", err)
	}

	bid, err := parseLevel(evt.BestBid, evt.BestBidQty)
	if err != nil {
		return nil, fmt.Errorf("binance bookTicker bid: %w", err)
	}
	ask, err := parseLevel(evt.BestAsk, evt.BestAskQty)
	if err != nil {
		return nil, fmt.Errorf("binance bookTicker ask: %w", err)
	}

	return []transformer.Decoded{{
		ID: subscription.SubID{Channel: channelBookL1, Market: strings.ToLower(evt.Symbol)},
		Events: []event.Event{event.OrderBookL1{
			Time:    time.UnixMilli(evt.Time).UTC(),
			BestBid: bid,
			BestAsk: ask,
		}},
	}}, nil
}

func decodeDepth(raw []byte) ([]transformer.Decoded, error) {
	var evt depthEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("binance depthUpdate: %w", err)
	}

	bids, err := parseLevels(evt.Bids)
	if err != nil {
		return nil, fmt.Errorf("binance depthUpdate bids: %w", err)
	}
	asks, err := parseLevels(evt.Asks)
	if err != nil {
		return nil, fmt.Errorf("binance depthUpdate asks: %w", err)
	}

	// Deltas chain on pu: a delta follows the book state at pu. When pu is
	// absent, U is the first id the delta covers.
	first := uint64(evt.FirstUpdateID)
	if evt.PrevUpdateID > 0 {
		first = uint64(evt.PrevUpdateID) + 1
	}

	return []transformer.Decoded{{
		ID: subscription.SubID{Channel: channelBookL2, Market: strings.ToLower(evt.Symbol)},
		Book: &transformer.BookMessage{
			FirstSeq: first,
			LastSeq:  uint64(evt.LastUpdateID),
			Time:     time.UnixMilli(evt.Time).UTC(),
			Bids:     bids,
			Asks:     asks,
		},
	}}, nil
}

func parseLevel(price, size string) (book.Level, error) {
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return book.Level{}, fmt.Errorf("price %q: %w", price, err)
	}
	s, err := strconv.ParseFloat(size, 64)
	if err != nil {
		return book.Level{}, fmt.Errorf("size %q: %w", size, err)
	}
	return book.Level{Price: p, Size: s}, nil
}

func parseLevels(entries [][]string) ([]book.Level, error) {
	levels := make([]book.Level, 0, len(entries))
	for _, e := range entries {
		if len(e) < 2 {
			return nil, fmt.Errorf("level entry has %d fields", len(e))
		}
		level, err := parseLevel(e[0], e[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, nil
}
