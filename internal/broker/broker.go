package broker

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned once a subscription or broker has been shut down.
	ErrClosed = errors.New("broker closed")
	// ErrUnavailable is returned when a publish could not reach the broker after retries.
	ErrUnavailable = errors.New("broker unavailable")
)

// Broker is a named publish/subscribe fanout with per-channel FIFO delivery.
// A channel name equals the game id it carries events for.
type Broker interface {
	// Subscribe starts receiving every payload published on channel from now on.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Publish delivers payload to all current subscribers of channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// NumSubscribers reports how many subscriptions exist for channel across all processes.
	NumSubscribers(ctx context.Context, channel string) (int64, error)

	// Close releases the broker connection.
	Close() error
}

// Subscription is a single process's view of one channel.
type Subscription interface {
	// Channel returns the subscribed channel name.
	Channel() string

	// Next blocks until the next payload arrives, ctx is done, or the subscription closes.
	Next(ctx context.Context) ([]byte, error)

	// Unsubscribe stops delivery and releases resources. Safe to call more than once.
	Unsubscribe(ctx context.Context) error
}
