package okx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"tickflow/book"
	"tickflow/event"
	"tickflow/subscription"
	"tickflow/transformer"
)

// frame is the envelope OKX wraps every data push in.
type frame struct {
	Event  string `json:"event"`
	Action string `json:"action"`
	Arg    struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data json.RawMessage `json:"data"`
}

// tradeData mirrors one entry of the trades channel payload.
type tradeData struct {
	TradeID string `json:"tradeId"`
	Price   string `json:"px"`
	Size    string `json:"sz"`
	Side    string `json:"side"`
	Time    string `json:"ts"`
}

// bookData mirrors one entry of the books channel payload. Levels carry
// extra depth fields beyond price and size that are ignored.
type bookData struct {
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
	Time      string     `json:"ts"`
	SeqID     int64      `json:"seqId"`
	PrevSeqID int64      `json:"prevSeqId"`
}

// decode translates one raw OKX frame into logical messages. Pongs and
// subscribe event frames decode to an empty set.
func decode(raw []byte) ([]transformer.Decoded, error) {
	if bytes.Equal(raw, []byte("pong")) {
		return nil, nil
	}

	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("okx frame: %w", err)
	}
	if f.Event != "" {
		return nil, nil
	}

	id := subscription.SubID{Channel: f.Arg.Channel, Market: f.Arg.InstID}

	switch f.Arg.Channel {
	case channelTrades:
		return decodeTrades(id, f.Data)
	case channelBooks:
		return decodeBooks(id, f.Action, f.Data)
	default:
		return nil, fmt.Errorf("okx frame: unsupported channel %q", f.Arg.Channel)
	}
}

func decodeTrades(id subscription.SubID, data json.RawMessage) ([]transformer.Decoded, error) {
	var entries []tradeData
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("okx trades: %w", err)
	}

	events := make([]event.Event, 0, len(entries))
	for _, e := range entries {
		price, err := strconv.ParseFloat(e.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("okx trade price: %w", err)
		}
		size, err := strconv.ParseFloat(e.Size, 64)
		if err != nil {
			return nil, fmt.Errorf("okx trade size: %w", err)
		}
		ts, err := parseMillis(e.Time)
		if err != nil {
			return nil, fmt.Errorf("okx trade ts: %w", err)
		}

		side := event.Buy
		if e.Side == "sell" {
			side = event.Sell
		}

		events = append(events, event.Trade{
			ID:     e.TradeID,
			Price:  price,
			Amount: size,
			Side:   side,
			Time:   ts,
		})
	}

	return []transformer.Decoded{{ID: id, Events: events}}, nil
}

func decodeBooks(id subscription.SubID, action string, data json.RawMessage) ([]transformer.Decoded, error) {
	var entries []bookData
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("okx books: %w", err)
	}

	out := make([]transformer.Decoded, 0, len(entries))
	for _, e := range entries {
		bids, err := parseLevels(e.Bids)
		if err != nil {
			return nil, fmt.Errorf("okx book bids: %w", err)
		}
		asks, err := parseLevels(e.Asks)
		if err != nil {
			return nil, fmt.Errorf("okx book asks: %w", err)
		}
		ts, err := parseMillis(e.Time)
		if err != nil {
			return nil, fmt.Errorf("okx book ts: %w", err)
		}

		msg := &transformer.BookMessage{
			Snapshot: action == "snapshot",
			LastSeq:  uint64(e.SeqID),
			Time:     ts,
			Bids:     bids,
			Asks:     asks,
		}
		// updates chain on the previous seqId; snapshots have prevSeqId -1
		if !msg.Snapshot {
			msg.FirstSeq = uint64(e.PrevSeqID) + 1
		}

		out = append(out, transformer.Decoded{ID: id, Book: msg})
	}
	return out, nil
}

func parseMillis(ts string) (time.Time, error) {
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// parseLevels reads the leading price and size of each OKX level entry.
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
