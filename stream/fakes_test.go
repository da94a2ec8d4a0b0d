package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"tickflow/subscription"
	"tickflow/ws"
)

// fakeConn is a scripted duplex connection. Reads pop from frames; once
// exhausted they block until Close and then fail as a dead transport does.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	writes []ws.Message
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(frames ...[]byte) *fakeConn {
	return &fakeConn{frames: frames, closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	if len(c.frames) > 0 {
		frame := c.frames[0]
		c.frames = c.frames[1:]
		c.mu.Unlock()
		return ws.TextMessage, frame, nil
	}
	c.mu.Unlock()

	<-c.closed
	return 0, nil, net.ErrClosed
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, ws.Message{Type: messageType, Data: data})
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) written() []ws.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ws.Message, len(c.writes))
	copy(out, c.writes)
	return out
}

func dialTo(conn ws.Conn) ws.DialFunc {
	return func(context.Context, string) (ws.Conn, error) { return conn, nil }
}

// ackValidator interprets {"ok":true|false} handshake frames.
type ackValidator struct{}

func (ackValidator) Validate(frame []byte) Ack {
	var msg struct {
		OK *bool `json:"ok"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil || msg.OK == nil {
		return Ack{Outcome: OutcomeData}
	}
	if *msg.OK {
		return Ack{Outcome: OutcomeConfirmed}
	}
	return Ack{Outcome: OutcomeRejected, Reason: "rejected by fake exchange"}
}

// echoTransformer yields one result per frame carrying the raw payload as a
// parse error when the frame says so, otherwise resolving the frame's id.
type echoTransformer struct {
	results map[string][]Result
}

func (t *echoTransformer) Transform(raw []byte) []Result {
	return t.results[string(raw)]
}

// fakeConnector is a minimal scripted exchange.
type fakeConnector struct {
	id           subscription.ExchangeID
	expectedAcks int
	validator    SubscriptionValidator
	ping         *PingInterval
	transformer  Transformer
	transformErr error
}

func (c *fakeConnector) ID() subscription.ExchangeID { return c.id }

func (c *fakeConnector) URL() string { return "wss://fake.test/ws" }

func (c *fakeConnector) Channel(sub subscription.Subscription) (string, error) {
	if sub.Kind == subscription.OrderBooksL3 {
		return "", errors.New("unsupported kind")
	}
	return string(sub.Kind), nil
}

func (c *fakeConnector) Market(sub subscription.Subscription) (string, error) {
	return string(sub.Instrument.Base) + string(sub.Instrument.Quote), nil
}

func (c *fakeConnector) SubscribeRequests(subs []subscription.Subscription) ([]ws.Message, error) {
	requests := make([]ws.Message, 0, len(subs))
	for _, sub := range subs {
		channel, err := c.Channel(sub)
		if err != nil {
			return nil, err
		}
		market, err := c.Market(sub)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(map[string]string{"op": "subscribe", "channel": channel, "market": market})
		if err != nil {
			return nil, err
		}
		requests = append(requests, ws.Text(payload))
	}
	return requests, nil
}

func (c *fakeConnector) ExpectedAcks(subs []subscription.Subscription) int { return c.expectedAcks }

func (c *fakeConnector) Validator() SubscriptionValidator {
	if c.validator == nil {
		return ackValidator{}
	}
	return c.validator
}

func (c *fakeConnector) PingInterval() *PingInterval { return c.ping }

func (c *fakeConnector) NewTransformer(ctx context.Context, outbound chan<- ws.Message, m subscription.Map) (Transformer, error) {
	if c.transformErr != nil {
		return nil, c.transformErr
	}
	if c.transformer != nil {
		return c.transformer, nil
	}
	return &echoTransformer{}, nil
}
