// Package okx implements the Connector for the OKX v5 public websocket.
// Books are seeded by the snapshot OKX pushes on subscribe and maintained
// from sequenced update actions; a gap is recovered by resubscribing, which
// makes OKX push a fresh snapshot. OKX requires an application-level "ping"
// text frame when the connection is idle.
package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tickflow/instrument"
	"tickflow/stream"
	"tickflow/subscription"
	"tickflow/transformer"
	"tickflow/ws"
)

const (
	// DefaultWSURL is the OKX v5 public websocket endpoint.
	DefaultWSURL = "wss://ws.okx.com:8443/ws/v5/public"

	channelTrades = "trades"
	channelBooks  = "books"

	pingEvery = 20 * time.Second
)

// Config tunes the connector.
type Config struct {
	WSURL string
}

// Connector is the static OKX capability bundle.
type Connector struct {
	wsURL string
}

// New creates the connector.
func New(cfg Config) *Connector {
	if cfg.WSURL == "" {
		cfg.WSURL = DefaultWSURL
	}
	return &Connector{wsURL: cfg.WSURL}
}

func (c *Connector) ID() subscription.ExchangeID { return subscription.Okx }

func (c *Connector) URL() string { return c.wsURL }

func (c *Connector) Channel(sub subscription.Subscription) (string, error) {
	switch sub.Kind {
	case subscription.PublicTrades:
		return channelTrades, nil
	case subscription.OrderBooksL2:
		return channelBooks, nil
	default:
		return "", fmt.Errorf("okx: unsupported subscription kind %s", sub.Kind)
	}
}

// Market returns the OKX instId: "BTC-USDT" for spot, "BTC-USDT-SWAP" for
// perpetual futures.
func (c *Connector) Market(sub subscription.Subscription) (string, error) {
	instID := strings.ToUpper(string(sub.Instrument.Base)) + "-" + strings.ToUpper(string(sub.Instrument.Quote))
	if sub.Instrument.Kind == instrument.Future {
		instID += "-SWAP"
	}
	return instID, nil
}

// SubscribeRequests batches all subscriptions into one subscribe op; OKX
// acknowledges each arg individually.
func (c *Connector) SubscribeRequests(subs []subscription.Subscription) ([]ws.Message, error) {
	args, err := c.subscribeArgs(subs)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(map[string]interface{}{"op": "subscribe", "args": args})
	if err != nil {
		return nil, fmt.Errorf("okx: marshal subscribe request: %w", err)
	}
	return []ws.Message{ws.Text(payload)}, nil
}

func (c *Connector) subscribeArgs(subs []subscription.Subscription) ([]map[string]string, error) {
	args := make([]map[string]string, 0, len(subs))
	for _, sub := range subs {
		channel, err := c.Channel(sub)
		if err != nil {
			return nil, err
		}
		market, err := c.Market(sub)
		if err != nil {
			return nil, err
		}
		args = append(args, map[string]string{"channel": channel, "instId": market})
	}
	return args, nil
}

// ExpectedAcks is one per subscription: OKX confirms each arg with its own
// event frame.
func (c *Connector) ExpectedAcks(subs []subscription.Subscription) int { return len(subs) }

func (c *Connector) Validator() stream.SubscriptionValidator { return validator{} }

// PingInterval declares the OKX custom application-level ping: a literal
// "ping" text frame, answered by a literal "pong".
func (c *Connector) PingInterval() *stream.PingInterval {
	return &stream.PingInterval{
		Interval: pingEvery,
		Ping: func() ws.Message {
			return ws.Text([]byte("ping"))
		},
	}
}

func (c *Connector) NewTransformer(ctx context.Context, outbound chan<- ws.Message, m subscription.Map) (stream.Transformer, error) {
	hasBook := false
	for _, sub := range m {
		if sub.Kind.IsBook() {
			hasBook = true
			break
		}
	}

	if !hasBook {
		return transformer.NewStateless(subscription.Okx, transformer.CodecFunc(decode), m), nil
	}

	return transformer.NewMultiBook(ctx, transformer.MultiBookConfig{
		Exchange: subscription.Okx,
		Codec:    transformer.CodecFunc(decode),
		Subs:     m,
		Outbound: outbound,
		// no REST seed: OKX pushes the snapshot on subscribe
		Seed:   nil,
		Resync: c.resync,
	})
}

// resync unsubscribes and resubscribes the book channel so OKX pushes a
// fresh snapshot.
func (c *Connector) resync(sub subscription.Subscription) ([]ws.Message, bool) {
	args, err := c.subscribeArgs([]subscription.Subscription{sub})
	if err != nil {
		return nil, false
	}

	unsub, err := json.Marshal(map[string]interface{}{"op": "unsubscribe", "args": args})
	if err != nil {
		return nil, false
	}
	resub, err := json.Marshal(map[string]interface{}{"op": "subscribe", "args": args})
	if err != nil {
		return nil, false
	}
	return []ws.Message{ws.Text(unsub), ws.Text(resub)}, true
}

// validator interprets OKX handshake frames: one {"event":"subscribe"} per
// confirmed arg, {"event":"error"} rejects the handshake.
type validator struct{}

func (validator) Validate(frame []byte) stream.Ack {
	var evt struct {
		Event string `json:"event"`
		Code  string `json:"code"`
		Msg   string `json:"msg"`
		Arg   struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		} `json:"arg"`
	}
	if err := json.Unmarshal(frame, &evt); err != nil {
		return stream.Ack{Outcome: stream.OutcomeData}
	}

	switch evt.Event {
	case "subscribe":
		return stream.Ack{Outcome: stream.OutcomeConfirmed}
	case "error":
		ack := stream.Ack{
			Outcome: stream.OutcomeRejected,
			Reason:  fmt.Sprintf("okx error %s: %s", evt.Code, evt.Msg),
		}
		if evt.Arg.Channel != "" {
			ack.Failed = []subscription.SubID{{Channel: evt.Arg.Channel, Market: evt.Arg.InstID}}
		}
		return ack
	default:
		return stream.Ack{Outcome: stream.OutcomeData}
	}
}
