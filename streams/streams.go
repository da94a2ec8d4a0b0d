// Package streams is the composition layer: it fans many market streams out
// into one merged result channel and owns the reconnection policy the core
// deliberately leaves to its caller.
package streams

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"tickflow/exchange"
	"tickflow/logger"
	"tickflow/metrics"
	"tickflow/stream"
	"tickflow/subscription"
)

// Builder accumulates subscription batches and initialises one market stream
// per batch. Batches for the same exchange may share a connection or use
// separate ones depending on how the caller groups them.
type Builder struct {
	registry *exchange.Registry
	cfg      stream.Config
	batches  [][]subscription.Subscription
	log      *logger.Entry
}

// NewBuilder creates a builder resolving connectors through the registry.
func NewBuilder(registry *exchange.Registry, cfg stream.Config) *Builder {
	return &Builder{
		registry: registry,
		cfg:      cfg,
		log:      logger.GetLogger().WithComponent("streams_builder"),
	}
}

// Subscribe adds one batch of subscriptions that will share one connection.
// All subscriptions in a batch must target the same exchange.
func (b *Builder) Subscribe(subs ...subscription.Subscription) *Builder {
	if len(subs) > 0 {
		b.batches = append(b.batches, subs)
	}
	return b
}

// Init establishes every batch's stream and starts the consume loops. It
// fails on the first batch that cannot be initialised; streams already
// established are closed on failure.
func (b *Builder) Init(ctx context.Context) (*Streams, error) {
	if len(b.batches) == 0 {
		return nil, errors.New("streams: no subscriptions")
	}

	s := &Streams{
		events: make(chan stream.Result, 256),
		log:    b.log,
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, batch := range b.batches {
		connector, err := b.connectorFor(batch)
		if err != nil {
			s.close()
			return nil, err
		}

		ms, err := stream.Init(runCtx, connector, batch, b.cfg)
		if err != nil {
			s.close()
			return nil, err
		}

		s.wg.Add(1)
		go b.run(runCtx, &s.wg, s.events, connector, batch, ms)
	}

	go func() {
		s.wg.Wait()
		close(s.events)
	}()

	return s, nil
}

func (b *Builder) connectorFor(batch []subscription.Subscription) (stream.Connector, error) {
	id := batch[0].Exchange
	for _, sub := range batch[1:] {
		if sub.Exchange != id {
			return nil, fmt.Errorf("streams: batch mixes exchanges %s and %s", id, sub.Exchange)
		}
	}
	connector, ok := b.registry.Connector(id)
	if !ok {
		return nil, fmt.Errorf("streams: no connector registered for exchange %s", id)
	}
	return connector, nil
}

// run consumes one stream until it dies, then reconnects with exponential
// backoff. A successful reconnect resets the backoff. Connection failures
// during re-init are the condition the policy exists for and are retried;
// a rejected handshake or transformer construction failure ends the loop.
func (b *Builder) run(ctx context.Context, wg *sync.WaitGroup, out chan<- stream.Result, c stream.Connector, subs []subscription.Subscription, ms *stream.MarketStream) {
	defer wg.Done()

	log := b.log.WithFields(logger.Fields{"exchange": string(c.ID())})

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = time.Minute
	policy.MaxElapsedTime = 0

	for {
		b.consume(ctx, out, ms)
		ms.Close()
		if ctx.Err() != nil {
			return
		}

		metrics.ReconnectsTotal.WithLabelValues(string(c.ID())).Inc()
		log.Warn("market stream died, reconnecting")

		for {
			wait := policy.NextBackOff()
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}

			next, err := stream.Init(ctx, c, subs, b.cfg)
			if err != nil {
				var connErr *stream.ConnectionError
				if stream.IsFatal(err) && !errors.As(err, &connErr) {
					log.WithError(err).Error("reconnect rejected, giving up")
					select {
					case out <- stream.Result{Err: err}:
					case <-ctx.Done():
					}
					return
				}
				log.WithError(err).Warn("reconnect failed")
				continue
			}

			ms = next
			policy.Reset()
			log.Info("market stream reconnected")
			break
		}
	}
}

// consume forwards stream items until the stream closes or ctx is done.
func (b *Builder) consume(ctx context.Context, out chan<- stream.Result, ms *stream.MarketStream) {
	for {
		evt, err := ms.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			if errors.Is(err, stream.ErrClosed) {
				return
			}
			select {
			case out <- stream.Result{Err: err}:
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case out <- stream.Result{Market: evt}:
		case <-ctx.Done():
			return
		}
	}
}

// Streams is the merged output of every established market stream.
type Streams struct {
	events chan stream.Result
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logger.Entry
}

// Events returns the merged result channel. It is closed after Close once
// every consume loop has exited.
func (s *Streams) Events() <-chan stream.Result { return s.events }

// Close stops every stream and consume loop.
func (s *Streams) Close() {
	s.close()
	s.log.Info("streams closed")
}

func (s *Streams) close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
