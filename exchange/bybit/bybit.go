// Package bybit implements the Connector for the Bybit v5 public websocket
// (linear perpetuals by default). Books are seeded by the snapshot Bybit
// pushes on subscribe and maintained from delta messages; a gap is recovered
// by resubscribing the topic. Bybit expects an application-level
// {"op":"ping"} frame to keep the connection alive.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tickflow/stream"
	"tickflow/subscription"
	"tickflow/transformer"
	"tickflow/ws"
)

const (
	// DefaultWSURL is the Bybit v5 linear public websocket endpoint.
	DefaultWSURL = "wss://stream.bybit.com/v5/public/linear"

	topicTrades = "publicTrade"
	topicBook   = "orderbook.50"

	pingEvery = 20 * time.Second
)

// Config tunes the connector.
type Config struct {
	WSURL string
}

// Connector is the static Bybit capability bundle.
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

func (c *Connector) ID() subscription.ExchangeID { return subscription.Bybit }

func (c *Connector) URL() string { return c.wsURL }

func (c *Connector) Channel(sub subscription.Subscription) (string, error) {
	switch sub.Kind {
	case subscription.PublicTrades:
		return topicTrades, nil
	case subscription.OrderBooksL2:
		return topicBook, nil
	default:
		return "", fmt.Errorf("bybit: unsupported subscription kind %s", sub.Kind)
	}
}

// Market returns the Bybit symbol, e.g. "BTCUSDT".
func (c *Connector) Market(sub subscription.Subscription) (string, error) {
	return strings.ToUpper(string(sub.Instrument.Base) + string(sub.Instrument.Quote)), nil
}

// SubscribeRequests batches all topics into one subscribe op tagged with a
// request id, which Bybit echoes back in the single ack.
func (c *Connector) SubscribeRequests(subs []subscription.Subscription) ([]ws.Message, error) {
	topics, err := c.topics(subs)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(map[string]interface{}{
		"req_id": uuid.NewString(),
		"op":     "subscribe",
		"args":   topics,
	})
	if err != nil {
		return nil, fmt.Errorf("bybit: marshal subscribe request: %w", err)
	}
	return []ws.Message{ws.Text(payload)}, nil
}

func (c *Connector) topics(subs []subscription.Subscription) ([]string, error) {
	topics := make([]string, 0, len(subs))
	for _, sub := range subs {
		topic, err := c.topic(sub)
		if err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	return topics, nil
}

func (c *Connector) topic(sub subscription.Subscription) (string, error) {
	channel, err := c.Channel(sub)
	if err != nil {
		return "", err
	}
	market, err := c.Market(sub)
	if err != nil {
		return "", err
	}
	return channel + "." + market, nil
}

// ExpectedAcks is one: Bybit answers the batched subscribe with a single
// success frame.
func (c *Connector) ExpectedAcks(subs []subscription.Subscription) int { return 1 }

func (c *Connector) Validator() stream.SubscriptionValidator { return validator{} }

// PingInterval declares the Bybit application-level ping op.
func (c *Connector) PingInterval() *stream.PingInterval {
	return &stream.PingInterval{
		Interval: pingEvery,
		Ping: func() ws.Message {
			payload, _ := json.Marshal(map[string]string{
				"req_id": uuid.NewString(),
				"op":     "ping",
			})
			return ws.Text(payload)
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
		return transformer.NewStateless(subscription.Bybit, transformer.CodecFunc(decode), m), nil
	}

	return transformer.NewMultiBook(ctx, transformer.MultiBookConfig{
		Exchange: subscription.Bybit,
		Codec:    transformer.CodecFunc(decode),
		Subs:     m,
		Outbound: outbound,
		// no REST seed: Bybit pushes the snapshot on subscribe
		Seed:   nil,
		Resync: c.resync,
	})
}

// resync unsubscribes and resubscribes the book topic so Bybit pushes a
// fresh snapshot.
func (c *Connector) resync(sub subscription.Subscription) ([]ws.Message, bool) {
	topic, err := c.topic(sub)
	if err != nil {
		return nil, false
	}

	unsub, err := json.Marshal(map[string]interface{}{
		"req_id": uuid.NewString(),
		"op":     "unsubscribe",
		"args":   []string{topic},
	})
	if err != nil {
		return nil, false
	}
	resub, err := json.Marshal(map[string]interface{}{
		"req_id": uuid.NewString(),
		"op":     "subscribe",
		"args":   []string{topic},
	})
	if err != nil {
		return nil, false
	}
	return []ws.Message{ws.Text(unsub), ws.Text(resub)}, true
}

// validator interprets the Bybit subscribe ack: one frame with op
// "subscribe" whose success flag decides the whole batch.
type validator struct{}

func (validator) Validate(frame []byte) stream.Ack {
	var evt struct {
		Op      string `json:"op"`
		Success *bool  `json:"success"`
		RetMsg  string `json:"ret_msg"`
	}
	if err := json.Unmarshal(frame, &evt); err != nil {
		return stream.Ack{Outcome: stream.OutcomeData}
	}

	if evt.Op != "subscribe" || evt.Success == nil {
		return stream.Ack{Outcome: stream.OutcomeData}
	}
	if *evt.Success {
		return stream.Ack{Outcome: stream.OutcomeConfirmed}
	}
	return stream.Ack{
		Outcome: stream.OutcomeRejected,
		Reason:  fmt.Sprintf("bybit subscribe failed: %s", evt.RetMsg),
	}
}
