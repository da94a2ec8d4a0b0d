package streams

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"tickflow/event"
	"tickflow/exchange"
	"tickflow/instrument"
	"tickflow/stream"
	"tickflow/subscription"
	"tickflow/ws"
)

// scriptedConn yields its frames then fails reads like a dead transport.
type scriptedConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.frames) == 0 {
		return 0, nil, net.ErrClosed
	}
	frame := c.frames[0]
	c.frames = c.frames[1:]
	return ws.TextMessage, frame, nil
}

func (c *scriptedConn) WriteMessage(int, []byte) error { return nil }

func (c *scriptedConn) SetReadDeadline(time.Time) error { return nil }

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// queueDial hands out one connection per dial and fails once exhausted. A nil
// entry scripts one transient dial failure.
func queueDial(conns ...*scriptedConn) ws.DialFunc {
	var mu sync.Mutex
	return func(context.Context, string) (ws.Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(conns) == 0 {
			return nil, errors.New("no more connections scripted")
		}
		conn := conns[0]
		conns = conns[1:]
		if conn == nil {
			return nil, errors.New("connection refused")
		}
		return conn, nil
	}
}

// scriptedConnector is a scripted exchange whose frames are trade payloads of
// the form {"price":N}.
type scriptedConnector struct{}

func (scriptedConnector) ID() subscription.ExchangeID { return "fake" }

func (scriptedConnector) URL() string { return "wss://fake.test/ws" }

func (scriptedConnector) Channel(sub subscription.Subscription) (string, error) {
	return string(sub.Kind), nil
}

func (scriptedConnector) Market(sub subscription.Subscription) (string, error) {
	return string(sub.Instrument.Base) + string(sub.Instrument.Quote), nil
}

func (scriptedConnector) SubscribeRequests(subs []subscription.Subscription) ([]ws.Message, error) {
	return []ws.Message{ws.Text([]byte(`{"op":"subscribe"}`))}, nil
}

func (scriptedConnector) ExpectedAcks([]subscription.Subscription) int { return 0 }

func (scriptedConnector) Validator() stream.SubscriptionValidator { return stream.OptimisticValidator{} }

func (scriptedConnector) PingInterval() *stream.PingInterval { return nil }

func (scriptedConnector) NewTransformer(ctx context.Context, outbound chan<- ws.Message, m subscription.Map) (stream.Transformer, error) {
	var sub subscription.Subscription
	for _, s := range m {
		sub = s
		break
	}
	return priceTransformer{sub: sub}, nil
}

// ackingConnector expects one {"ok":bool} acknowledgement per connection.
type ackingConnector struct{ scriptedConnector }

func (ackingConnector) ExpectedAcks([]subscription.Subscription) int { return 1 }

func (ackingConnector) Validator() stream.SubscriptionValidator { return okValidator{} }

type okValidator struct{}

func (okValidator) Validate(frame []byte) stream.Ack {
	var msg struct {
		OK *bool `json:"ok"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil || msg.OK == nil {
		return stream.Ack{Outcome: stream.OutcomeData}
	}
	if *msg.OK {
		return stream.Ack{Outcome: stream.OutcomeConfirmed}
	}
	return stream.Ack{Outcome: stream.OutcomeRejected, Reason: "subscribe rejected"}
}

type priceTransformer struct {
	sub subscription.Subscription
}

func (t priceTransformer) Transform(raw []byte) []stream.Result {
	var msg struct {
		Price float64 `json:"price"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return []stream.Result{{Err: &stream.ParseError{Exchange: "fake", Err: err}}}
	}
	return []stream.Result{{Market: event.Market{
		Exchange:     "fake",
		Instrument:   t.sub.Instrument,
		ReceivedTime: time.Now().UTC(),
		Event:        event.Trade{ID: "1", Price: msg.Price, Amount: 1, Side: event.Buy},
	}}}
}

func testRegistry(t *testing.T) *exchange.Registry {
	t.Helper()
	r, err := exchange.NewRegistry(scriptedConnector{})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return r
}

func testBatch() []subscription.Subscription {
	return []subscription.Subscription{
		subscription.New("fake", "btc", "usdt", instrument.Spot, subscription.PublicTrades),
	}
}

func TestBuilderRequiresSubscriptions(t *testing.T) {
	b := NewBuilder(testRegistry(t), stream.Config{})
	if _, err := b.Init(context.Background()); err == nil {
		t.Fatal("expected error for empty builder")
	}
}

func TestBuilderRejectsMixedBatch(t *testing.T) {
	b := NewBuilder(testRegistry(t), stream.Config{Dial: queueDial(&scriptedConn{})})
	b.Subscribe(
		subscription.New("fake", "btc", "usdt", instrument.Spot, subscription.PublicTrades),
		subscription.New("other", "btc", "usdt", instrument.Spot, subscription.PublicTrades),
	)
	if _, err := b.Init(context.Background()); err == nil {
		t.Fatal("expected error for mixed-exchange batch")
	}
}

func TestBuilderRejectsUnknownExchange(t *testing.T) {
	b := NewBuilder(testRegistry(t), stream.Config{Dial: queueDial(&scriptedConn{})})
	b.Subscribe(subscription.New("other", "btc", "usdt", instrument.Spot, subscription.PublicTrades))
	if _, err := b.Init(context.Background()); err == nil {
		t.Fatal("expected error for unregistered exchange")
	}
}

func TestStreamsReconnectAndMerge(t *testing.T) {
	conn1 := &scriptedConn{frames: [][]byte{[]byte(`{"price":1}`)}}
	conn2 := &scriptedConn{frames: [][]byte{[]byte(`{"price":2}`)}}

	b := NewBuilder(testRegistry(t), stream.Config{Dial: queueDial(conn1, conn2)})
	b.Subscribe(testBatch()...)

	s, err := b.Init(context.Background())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer s.Close()

	next := func() stream.Result {
		select {
		case r, ok := <-s.Events():
			if !ok {
				t.Fatal("events channel closed early")
			}
			return r
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for stream result")
			return stream.Result{}
		}
	}

	first := next()
	if first.Err != nil {
		t.Fatalf("unexpected error: %v", first.Err)
	}
	if trade := first.Market.Event.(event.Trade); trade.Price != 1 {
		t.Errorf("unexpected first trade: %+v", trade)
	}

	// conn1 dies after its frame; the second event proves the reconnect
	second := next()
	if second.Err != nil {
		t.Fatalf("unexpected error after reconnect: %v", second.Err)
	}
	if trade := second.Market.Event.(event.Trade); trade.Price != 2 {
		t.Errorf("unexpected second trade: %+v", trade)
	}

	// conn2 dies too and no further connection is scripted: dial failures
	// keep being retried under the policy until Close cancels the loop
	s.Close()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case _, ok := <-s.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel not closed after Close")
		}
	}
}

func TestStreamsRetryTransientDialFailure(t *testing.T) {
	conn1 := &scriptedConn{frames: [][]byte{[]byte(`{"price":1}`)}}
	conn2 := &scriptedConn{frames: [][]byte{[]byte(`{"price":2}`)}}

	// one refused dial between the two live connections
	b := NewBuilder(testRegistry(t), stream.Config{Dial: queueDial(conn1, nil, conn2)})
	b.Subscribe(testBatch()...)

	s, err := b.Init(context.Background())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer s.Close()

	want := []float64{1, 2}
	for i, price := range want {
		select {
		case r, ok := <-s.Events():
			if !ok {
				t.Fatal("events channel closed early")
			}
			if r.Err != nil {
				t.Fatalf("result %d: unexpected error: %v", i, r.Err)
			}
			if trade := r.Market.Event.(event.Trade); trade.Price != price {
				t.Errorf("result %d: unexpected trade: %+v", i, trade)
			}
		case <-time.After(30 * time.Second):
			t.Fatalf("timed out waiting for result %d", i)
		}
	}
}

func TestStreamsGiveUpOnRejectedResubscribe(t *testing.T) {
	conn1 := &scriptedConn{frames: [][]byte{
		[]byte(`{"ok":true}`),
		[]byte(`{"price":1}`),
	}}
	conn2 := &scriptedConn{frames: [][]byte{[]byte(`{"ok":false}`)}}

	r, err := exchange.NewRegistry(ackingConnector{})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	b := NewBuilder(r, stream.Config{Dial: queueDial(conn1, conn2)})
	b.Subscribe(testBatch()...)

	s, err := b.Init(context.Background())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer s.Close()

	next := func() stream.Result {
		select {
		case r, ok := <-s.Events():
			if !ok {
				t.Fatal("events channel closed early")
			}
			return r
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for stream result")
			return stream.Result{}
		}
	}

	first := next()
	if first.Err != nil {
		t.Fatalf("unexpected error: %v", first.Err)
	}

	// conn1 dies; the resubscribe on conn2 is rejected, which no retry fixes
	rejected := next()
	var subErr *stream.SubscriptionError
	if !errors.As(rejected.Err, &subErr) {
		t.Fatalf("expected SubscriptionError, got %+v", rejected)
	}

	select {
	case _, ok := <-s.Events():
		if ok {
			t.Error("unexpected extra result")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("events channel not closed after rejection")
	}
}

func TestStreamsForwardsRecoverableErrors(t *testing.T) {
	conn := &scriptedConn{frames: [][]byte{
		[]byte(`not json`),
		[]byte(`{"price":7}`),
	}}

	b := NewBuilder(testRegistry(t), stream.Config{Dial: queueDial(conn)})
	b.Subscribe(testBatch()...)

	s, err := b.Init(context.Background())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer s.Close()

	r := <-s.Events()
	var parseErr *stream.ParseError
	if !errors.As(r.Err, &parseErr) {
		t.Fatalf("expected ParseError, got %+v", r)
	}

	r = <-s.Events()
	if r.Err != nil {
		t.Fatalf("stream died after recoverable error: %v", r.Err)
	}
	if trade := r.Market.Event.(event.Trade); trade.Price != 7 {
		t.Errorf("unexpected trade: %+v", trade)
	}
}

func TestStreamsCloseStopsConsumers(t *testing.T) {
	conn := &scriptedConn{frames: [][]byte{[]byte(`{"price":1}`)}}

	b := NewBuilder(testRegistry(t), stream.Config{Dial: queueDial(conn)})
	b.Subscribe(testBatch()...)

	s, err := b.Init(context.Background())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	s.Close()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case _, ok := <-s.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel not closed after Close")
		}
	}
}
