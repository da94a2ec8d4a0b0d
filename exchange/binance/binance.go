// Package binance implements the Connector for Binance USDT-margined
// futures. Trades and top-of-book frames are self-contained; L2 books are
// seeded from the REST depth endpoint and maintained from the diff depth
// stream using Binance's update-id chaining.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adshao/go-binance/v2/futures"

	"tickflow/book"
	"tickflow/instrument"
	"tickflow/stream"
	"tickflow/subscription"
	"tickflow/transformer"
	"tickflow/ws"
)

const (
	// DefaultWSURL is the raw stream endpoint for USDT-margined futures.
	DefaultWSURL = "wss://fstream.binance.com/ws"

	channelTrades = "aggTrade"
	channelBookL1 = "bookTicker"
	channelBookL2 = "depth@100ms"
)

// SnapshotFunc fetches the REST depth snapshot used to seed an L2 book.
type SnapshotFunc func(ctx context.Context, symbol string) (*transformer.BookMessage, error)

// Config tunes the connector. Zero values get defaults.
type Config struct {
	WSURL string
	// DepthLimit is the REST snapshot depth. Default 1000.
	DepthLimit int
	// Snapshot overrides the REST seed, used by tests.
	Snapshot SnapshotFunc
}

// Connector is the static Binance capability bundle.
type Connector struct {
	wsURL    string
	snapshot SnapshotFunc
}

// New creates the connector.
func New(cfg Config) *Connector {
	if cfg.WSURL == "" {
		cfg.WSURL = DefaultWSURL
	}
	if cfg.DepthLimit <= 0 {
		cfg.DepthLimit = 1000
	}
	if cfg.Snapshot == nil {
		cfg.Snapshot = restSnapshot(futures.NewClient("", ""), cfg.DepthLimit)
	}
	return &Connector{wsURL: cfg.WSURL, snapshot: cfg.Snapshot}
}

func (c *Connector) ID() subscription.ExchangeID { return subscription.Binance }

func (c *Connector) URL() string { return c.wsURL }

// Channel maps a subscription kind to the Binance stream suffix.
func (c *Connector) Channel(sub subscription.Subscription) (string, error) {
	switch sub.Kind {
	case subscription.PublicTrades:
		return channelTrades, nil
	case subscription.OrderBooksL1:
		return channelBookL1, nil
	case subscription.OrderBooksL2:
		return channelBookL2, nil
	default:
		return "", fmt.Errorf("binance: unsupported subscription kind %s", sub.Kind)
	}
}

// Market returns the lower-cased concatenated pair, e.g. "btcusdt". Only
// futures instruments are accepted; the connector speaks the fstream
// endpoint, so a spot subscription would silently receive futures data.
func (c *Connector) Market(sub subscription.Subscription) (string, error) {
	if sub.Instrument.Kind != instrument.Future {
		return "", fmt.Errorf("binance: unsupported instrument kind %s", sub.Instrument.Kind)
	}
	return string(sub.Instrument.Base) + string(sub.Instrument.Quote), nil
}

// SubscribeRequests batches the whole set into one SUBSCRIBE frame; Binance
// acknowledges each request with a single result frame.
func (c *Connector) SubscribeRequests(subs []subscription.Subscription) ([]ws.Message, error) {
	params := make([]string, 0, len(subs))
	for _, sub := range subs {
		channel, err := c.Channel(sub)
		if err != nil {
			return nil, err
		}
		market, err := c.Market(sub)
		if err != nil {
			return nil, err
		}
		params = append(params, market+"@"+channel)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": params,
		"id":     1,
	})
	if err != nil {
		return nil, fmt.Errorf("binance: marshal subscribe request: %w", err)
	}
	return []ws.Message{ws.Text(payload)}, nil
}

func (c *Connector) ExpectedAcks([]subscription.Subscription) int { return 1 }

func (c *Connector) Validator() stream.SubscriptionValidator { return validator{} }

// PingInterval is nil: Binance relies on protocol-level ping/pong handled by
// the transport.
func (c *Connector) PingInterval() *stream.PingInterval { return nil }

// NewTransformer picks the transformer shape from the subscribed kinds: a
// multi-book transformer whenever an L2 book is present (trades and L1 pass
// through it), otherwise the stateless one.
func (c *Connector) NewTransformer(ctx context.Context, outbound chan<- ws.Message, m subscription.Map) (stream.Transformer, error) {
	hasBook := false
	for _, sub := range m {
		if sub.Kind.IsBook() {
			hasBook = true
			break
		}
	}

	if !hasBook {
		return transformer.NewStateless(subscription.Binance, transformer.CodecFunc(decode), m), nil
	}

	return transformer.NewMultiBook(ctx, transformer.MultiBookConfig{
		Exchange: subscription.Binance,
		Codec:    transformer.CodecFunc(decode),
		Subs:     m,
		Outbound: outbound,
		Seed: func(ctx context.Context, sub subscription.Subscription) (*transformer.BookMessage, error) {
			symbol := strings.ToUpper(string(sub.Instrument.Base) + string(sub.Instrument.Quote))
			return c.snapshot(ctx, symbol)
		},
		// Binance snapshots come from REST only; a gap is surfaced and the
		// caller restarts the stream.
		Resync: nil,
	})
}

// validator interprets Binance subscribe acknowledgements:
// {"result":null,"id":1} confirms, {"error":{...},"id":1} rejects.
type validator struct{}

func (validator) Validate(frame []byte) stream.Ack {
	var ack struct {
		ID     *int64 `json:"id"`
		Result json.RawMessage
		Error  *struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		} `json:"error"`
	}
	if err := json.Unmarshal(frame, &ack); err != nil {
		return stream.Ack{Outcome: stream.OutcomeData}
	}
	if ack.Error != nil {
		return stream.Ack{
			Outcome: stream.OutcomeRejected,
			Reason:  fmt.Sprintf("binance error %d: %s", ack.Error.Code, ack.Error.Msg),
		}
	}
	if ack.ID != nil {
		return stream.Ack{Outcome: stream.OutcomeConfirmed}
	}
	return stream.Ack{Outcome: stream.OutcomeData}
}

// restSnapshot seeds an L2 book from the futures REST depth endpoint.
func restSnapshot(client *futures.Client, limit int) SnapshotFunc {
	return func(ctx context.Context, symbol string) (*transformer.BookMessage, error) {
		res, err := client.NewDepthService().Symbol(symbol).Limit(limit).Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch depth snapshot for %s: %w", symbol, err)
		}

		bids := make([]book.Level, 0, len(res.Bids))
		for _, b := range res.Bids {
			level, err := parseLevel(b.Price, b.Quantity)
			if err != nil {
				return nil, fmt.Errorf("parse %s snapshot bid: %w", symbol, err)
			}
			bids = append(bids, level)
		}
		asks := make([]book.Level, 0, len(res.Asks))
		for _, a := range res.Asks {
			level, err := parseLevel(a.Price, a.Quantity)
			if err != nil {
				return nil, fmt.Errorf("parse %s snapshot ask: %w", symbol, err)
			}
			asks = append(asks, level)
		}

		return &transformer.BookMessage{
			Snapshot: true,
			LastSeq:  uint64(res.LastUpdateID),
			Bids:     bids,
			Asks:     asks,
		}, nil
	}
}
