package bybit

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

// frame is the envelope Bybit wraps every data push in. Op frames (pongs,
// subscribe acks) carry "op" instead of "topic".
type frame struct {
	Op    string          `json:"op"`
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Time  int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

// tradeData mirrors one entry of the publicTrade topic payload.
type tradeData struct {
	TradeID string `json:"i"`
	Price   string `json:"p"`
	Size    string `json:"v"`
	Side    string `json:"S"`
	Time    int64  `json:"T"`
}

// bookData mirrors the orderbook topic payload. UpdateID restarts from 1
// whenever the topic is (re)subscribed, so snapshots reset the sequence.
type bookData struct {
	Bids     [][]string `json:"b"`
	Asks     [][]string `json:"a"`
	UpdateID uint64     `json:"u"`
}

// decode translates one raw Bybit frame into logical messages. Op frames
// decode to an empty set.
func decode(raw []byte) ([]transformer.Decoded, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("bybit frame: %w", err)
	}
	if f.Op != "" || f.Topic == "" {
		return nil, nil
	}

	channel, market, ok := splitTopic(f.Topic)
	if !ok {
		return nil, fmt.Errorf("bybit frame: malformed topic %q", f.Topic)
	}
	id := subscription.SubID{Channel: channel, Market: market}

	switch channel {
	case topicTrades:
		return decodeTrades(id, f.Data)
	case topicBook:
		return decodeBook(id, f.Type, f.Time, f.Data)
	default:
		return nil, fmt.Errorf("bybit frame: unsupported topic %q", f.Topic)
	}
}

// splitTopic separates "orderbook.50.BTCUSDT" into channel "orderbook.50"
// and market "BTCUSDT".
func splitTopic(topic string) (channel, market string, ok bool) {
	i := strings.LastIndex(topic, ".")
	if i <= 0 || i == len(topic)-1 {
		return "", "", false
	}
	return topic[:i], topic[i+1:], true
}

func decodeTrades(id subscription.SubID, data json.RawMessage) ([]transformer.Decoded, error) {
	var entries []tradeData
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("bybit trades: %w", err)
	}

	events := make([]event.Event, 0, len(entries))
	for _, e := range entries {
		price, err := strconv.ParseFloat(e.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("bybit trade price: %w", err)
		}
		size, err := strconv.ParseFloat(e.Size, 64)
		if err != nil {
			return nil, fmt.Errorf("bybit trade size: %w", err)
		}

		side := event.Buy
		if e.Side == "Sell" {
			side = event.Sell
		}

		events = append(events, event.Trade{
			ID:     e.TradeID,
			Price:  price,
			Amount: size,
			Side:   side,
			Time:   time.UnixMilli(e.Time).UTC(),
		})
	}

	return []transformer.Decoded{{ID: id, Events: events}}, nil
}

func decodeBook(id subscription.SubID, typ string, ts int64, data json.RawMessage) ([]transformer.Decoded, error) {
	var e bookData
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("bybit orderbook: %w", err)
	}

	bids, err := parseLevels(e.Bids)
	if err != nil {
		return nil, fmt.Errorf("bybit orderbook bids: %w", err)
	}
	asks, err := parseLevels(e.Asks)
	if err != nil {
		return nil, fmt.Errorf("bybit orderbook asks: %w", err)
	}

	// deltas carry consecutive update ids, so one delta covers exactly u
	return []transformer.Decoded{{
		ID: id,
		Book: &transformer.BookMessage{
			Snapshot: typ == "snapshot",
			FirstSeq: e.UpdateID,
			LastSeq:  e.UpdateID,
			Time:     time.UnixMilli(ts).UTC(),
			Bids:     bids,
			Asks:     asks,
		},
	}}, nil
}

func parseLevels(entries [][]string) ([]book.Level, error) {
	levels := make([]book.Level, 0, len(entries))
	for _, e := range entries {
		if len(e) < 2 {
			return nil, fmt.Errorf("level entry has %d fields", len(e))
		}
		price, err := strconv.ParseFloat(e[0], 64)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", e[0], err)
		}
		size, err := strconv.ParseFloat(e[1], 64)
		if err != nil {
			return nil, fmt.Errorf("size %q: %w", e[1], err)
		}
		levels = append(levels, book.Level{Price: price, Size: size})
	}
	return levels, nil
}
