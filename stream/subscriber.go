package stream

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"tickflow/logger"
	"tickflow/subscription"
	"tickflow/ws"
)

// SubscriberConfig tunes the handshake. Zero values get defaults.
type SubscriberConfig struct {
	// Dial establishes the transport connection. Defaults to ws.Dial.
	Dial ws.DialFunc
	// Timeout bounds the wait for acknowledgement frames. Default 10s.
	Timeout time.Duration
	// RequestsPerSecond limits the rate subscribe requests are written at, so
	// large subscription sets do not trip exchange rate limits. Default 5.
	RequestsPerSecond int
}

func (c *SubscriberConfig) applyDefaults() {
	if c.Dial == nil {
		c.Dial = ws.Dial
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
}

// Subscriber executes the connect + subscribe + validate protocol against an
// exchange, producing a connected socket plus the resolution map for it.
type Subscriber struct {
	cfg     SubscriberConfig
	limiter *rate.Limiter
	log     *logger.Log
}

// NewSubscriber creates a Subscriber.
func NewSubscriber(cfg SubscriberConfig) *Subscriber {
	cfg.applyDefaults()
	return &Subscriber{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond),
		log:     logger.GetLogger(),
	}
}

// Subscribe performs the full handshake. The handshake is all-or-nothing: any
// rejection closes the transport and fails the whole set. No retry happens
// here; reconnect policy belongs to the caller. Data frames read while waiting
// for acknowledgements are returned in arrival order so the caller can replay
// them through the transformer; exchanges that push book snapshots in-band may
// interleave them with the acks.
func (s *Subscriber) Subscribe(ctx context.Context, c Connector, subs []subscription.Subscription) (ws.Conn, subscription.Map, [][]byte, error) {
	log := s.log.WithComponent("subscriber").WithFields(logger.Fields{"exchange": string(c.ID())})

	m, err := buildMap(c, subs)
	if err != nil {
		return nil, nil, nil, err
	}

	requests, err := c.SubscribeRequests(subs)
	if err != nil {
		return nil, nil, nil, &SubscriptionError{Exchange: c.ID(), Reason: err.Error()}
	}

	conn, err := s.cfg.Dial(ctx, c.URL())
	if err != nil {
		return nil, nil, nil, &ConnectionError{Exchange: c.ID(), URL: c.URL(), Err: err}
	}

	for _, req := range requests {
		if err := s.limiter.Wait(ctx); err != nil {
			conn.Close()
			return nil, nil, nil, &ConnectionError{Exchange: c.ID(), URL: c.URL(), Err: err}
		}
		if err := conn.WriteMessage(req.Type, req.Data); err != nil {
			conn.Close()
			return nil, nil, nil, &ConnectionError{Exchange: c.ID(), URL: c.URL(), Err: err}
		}
	}
	log.WithFields(logger.Fields{"subscriptions": len(subs), "requests": len(requests)}).Debug("subscribe requests sent")

	buffered, err := s.awaitAcks(conn, c, subs)
	if err != nil {
		conn.Close()
		return nil, nil, nil, err
	}

	log.WithFields(logger.Fields{"channels": len(m), "buffered": len(buffered)}).Info("subscriptions confirmed")
	return conn, m, buffered, nil
}

// buildMap derives the resolution map, one unique entry per accepted
// subscription's (channel, market) identifier.
func buildMap(c Connector, subs []subscription.Subscription) (subscription.Map, error) {
	if len(subs) == 0 {
		return nil, &SubscriptionError{Exchange: c.ID(), Reason: "no subscriptions supplied"}
	}

	m := subscription.NewMap()
	for _, sub := range subs {
		if sub.Exchange != c.ID() {
			return nil, &SubscriptionError{
				Exchange: c.ID(),
				Reason:   "subscription " + sub.String() + " targets a different exchange",
			}
		}
		channel, err := c.Channel(sub)
		if err != nil {
			return nil, &SubscriptionError{Exchange: c.ID(), Reason: err.Error()}
		}
		market, err := c.Market(sub)
		if err != nil {
			return nil, &SubscriptionError{Exchange: c.ID(), Reason: err.Error()}
		}
		id := subscription.SubID{Channel: channel, Market: market}
		if err := m.Add(id, sub); err != nil {
			return nil, &SubscriptionError{Exchange: c.ID(), Reason: err.Error(), Failed: []subscription.SubID{id}}
		}
	}
	return m, nil
}

// awaitAcks reads frames until the expected number of confirmations arrived,
// delegating interpretation to the connector's validator. Non-ack frames are
// buffered, not dropped: a book snapshot pushed between per-channel acks must
// still reach the transformer.
func (s *Subscriber) awaitAcks(conn ws.Conn, c Connector, subs []subscription.Subscription) ([][]byte, error) {
	expected := c.ExpectedAcks(subs)
	if expected <= 0 {
		return nil, nil
	}

	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		return nil, &ConnectionError{Exchange: c.ID(), URL: c.URL(), Err: err}
	}
	defer conn.SetReadDeadline(time.Time{})

	validator := c.Validator()
	var buffered [][]byte
	confirmed := 0
	for confirmed < expected {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return nil, &ConnectionError{Exchange: c.ID(), URL: c.URL(), Err: err}
		}

		ack := validator.Validate(frame)
		switch ack.Outcome {
		case OutcomeConfirmed:
			confirmed++
		case OutcomeNoAck:
			// optimistic confirm; the frame that proved it is stream data
			return append(buffered, frame), nil
		case OutcomeRejected:
			return nil, &SubscriptionError{Exchange: c.ID(), Reason: ack.Reason, Failed: ack.Failed}
		case OutcomeData:
			buffered = append(buffered, frame)
		}
	}
	return buffered, nil
}
