package stream

import (
	"errors"
	"fmt"
	"strings"

	"tickflow/instrument"
	"tickflow/subscription"
)

// ErrClosed is returned by Next once the stream has terminated. Wrapped with
// the underlying cause when the transport failed.
var ErrClosed = errors.New("market stream closed")

// ConnectionError reports a transport-level failure. Fatal: Init fails
// immediately and no retry is attempted inside the core.
type ConnectionError struct {
	Exchange subscription.ExchangeID
	URL      string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection to %s failed: %v", e.Exchange, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SubscriptionError reports a rejected or malformed handshake. The handshake
// is all-or-nothing: any rejection fails the whole subscription set. Failed
// carries the wire identifiers the exchange rejected when they are known.
type SubscriptionError struct {
	Exchange subscription.ExchangeID
	Reason   string
	Failed   []subscription.SubID
}

func (e *SubscriptionError) Error() string {
	if len(e.Failed) == 0 {
		return fmt.Sprintf("%s: subscription failed: %s", e.Exchange, e.Reason)
	}
	ids := make([]string, 0, len(e.Failed))
	for _, id := range e.Failed {
		ids = append(ids, id.String())
	}
	return fmt.Sprintf("%s: subscription failed: %s (rejected: %s)", e.Exchange, e.Reason, strings.Join(ids, ", "))
}

// ParseError reports a malformed inbound frame. Recoverable: surfaced as one
// failed stream item, the pipeline continues.
type ParseError struct {
	Exchange subscription.ExchangeID
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: malformed frame: %v", e.Exchange, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnknownChannelError reports an inbound frame whose wire identifier has no
// resolution map entry. Recoverable.
type UnknownChannelError struct {
	Exchange subscription.ExchangeID
	ID       subscription.SubID
}

func (e *UnknownChannelError) Error() string {
	return fmt.Sprintf("%s: no subscription for channel %s", e.Exchange, e.ID)
}

// GapError reports a sequence gap in stateful book reconstruction. The
// instrument's state has been invalidated and a resync requested; recoverable.
type GapError struct {
	Exchange   subscription.ExchangeID
	Instrument instrument.Instrument
	Expected   uint64
	Got        uint64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("%s: %s book sequence gap: expected %d, got %d", e.Exchange, e.Instrument, e.Expected, e.Got)
}

// IsFatal reports whether err terminates the stream. Everything else is a
// per-item error the consumer may skip.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) {
		return true
	}
	var connErr *ConnectionError
	var subErr *SubscriptionError
	return errors.As(err, &connErr) || errors.As(err, &subErr)
}

// errorKind labels an error for metrics.
func errorKind(err error) string {
	var parseErr *ParseError
	var chanErr *UnknownChannelError
	var gapErr *GapError
	switch {
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &chanErr):
		return "unknown_channel"
	case errors.As(err, &gapErr):
		return "gap"
	default:
		return "transform"
	}
}
