// Package stream implements the exchange-agnostic streaming core: the
// connector contract, the subscribe/validate handshake, the transformer seam
// and the concurrency plumbing that lets a synchronous transformer emit
// outbound control traffic over the shared connection.
package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tickflow/event"
	"tickflow/logger"
	"tickflow/metrics"
	"tickflow/subscription"
	"tickflow/ws"
)

// Config tunes one market stream. Zero values get defaults.
type Config struct {
	// Dial establishes the transport connection. Defaults to ws.Dial.
	Dial ws.DialFunc
	// SubscribeTimeout bounds the handshake ack wait.
	SubscribeTimeout time.Duration
	// SubscribeRPS limits subscribe request writes per second.
	SubscribeRPS int
	// OutboundBuffer sizes the outbound control queue. Default 64.
	OutboundBuffer int
}

// MarketStream is the consumer-facing pipeline over one exchange connection.
// Next pulls raw frames, feeds them through the transformer and yields the
// normalised results one at a time. Not safe for concurrent polling.
type MarketStream struct {
	exchange    subscription.ExchangeID
	conn        ws.Conn
	transformer Transformer
	outbound    chan ws.Message
	stop        chan struct{}
	// replay holds data frames the handshake read before all acks arrived.
	// They go through the transformer ahead of any live read.
	replay  [][]byte
	pending []Result
	closeOnce   sync.Once
	wg          sync.WaitGroup
	log         *logger.Entry
}

// Init performs the full initialisation sequence: handshake, task spawning
// and transformer construction. Fatal conditions (connection failure,
// rejection, transformer construction failure) abort before any stream
// exists.
func Init(ctx context.Context, c Connector, subs []subscription.Subscription, cfg Config) (*MarketStream, error) {
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = 64
	}

	subscriber := NewSubscriber(SubscriberConfig{
		Dial:              cfg.Dial,
		Timeout:           cfg.SubscribeTimeout,
		RequestsPerSecond: cfg.SubscribeRPS,
	})
	conn, m, buffered, err := subscriber.Subscribe(ctx, c, subs)
	if err != nil {
		return nil, err
	}

	s := &MarketStream{
		exchange: c.ID(),
		conn:     conn,
		replay:   buffered,
		outbound: make(chan ws.Message, cfg.OutboundBuffer),
		stop:     make(chan struct{}),
		log:      logger.GetLogger().WithComponent("market_stream").WithFields(logger.Fields{"exchange": string(c.ID())}),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		Distribute(s.exchange, conn, s.outbound, s.stop)
	}()

	if p := c.PingInterval(); p != nil {
		ping := *p
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			SchedulePings(s.exchange, s.outbound, ping, s.stop)
		}()
	}

	transformer, err := c.NewTransformer(ctx, s.outbound, m)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%s: construct transformer: %w", c.ID(), err)
	}
	s.transformer = transformer

	s.log.WithFields(logger.Fields{"subscriptions": len(subs)}).Info("market stream initialised")
	return s, nil
}

// Next yields the next stream item. Recoverable conditions come back as a
// non-nil error with the stream still alive; a fatal condition returns an
// error wrapping ErrClosed and every later call fails the same way. Frames
// are processed strictly sequentially, so transformer state needs no locking.
func (s *MarketStream) Next(ctx context.Context) (event.Market, error) {
	for {
		if len(s.pending) > 0 {
			r := s.pending[0]
			s.pending = s.pending[1:]
			if r.Err != nil {
				metrics.ErrorsTotal.WithLabelValues(string(s.exchange), errorKind(r.Err)).Inc()
				return event.Market{}, r.Err
			}
			metrics.EventsTotal.WithLabelValues(string(s.exchange), string(r.Market.Event.Kind())).Inc()
			return r.Market, nil
		}

		select {
		case <-ctx.Done():
			return event.Market{}, ctx.Err()
		case <-s.stop:
			return event.Market{}, ErrClosed
		default:
		}

		var frame []byte
		if len(s.replay) > 0 {
			frame = s.replay[0]
			s.replay = s.replay[1:]
		} else {
			var err error
			if _, frame, err = s.conn.ReadMessage(); err != nil {
				s.Close()
				return event.Market{}, fmt.Errorf("%w: %v", ErrClosed, err)
			}
		}

		logger.RecordFrame(string(s.exchange), len(frame))
		s.pending = s.transformer.Transform(frame)
	}
}

// Exchange returns the exchange this stream is connected to.
func (s *MarketStream) Exchange() subscription.ExchangeID { return s.exchange }

// Close tears the stream down: background tasks stop and the transport is
// closed. Safe to call more than once.
func (s *MarketStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.conn.Close()
		s.wg.Wait()
		s.log.Info("market stream closed")
	})
	return nil
}
