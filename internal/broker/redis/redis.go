package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Comcenn/jamgenguessr/internal/broker"
)

// Options configures the redis broker.
type Options struct {
	Addr     string
	Password string
	DB       int

	// MinBackoff and MaxBackoff bound the exponential delay between reconnect
	// attempts, both for publish retries and for a broken subscription.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// PublishRetries is how many times a failed publish is retried before
	// it is rejected with broker.ErrUnavailable.
	PublishRetries int
}

// Broker implements broker.Broker on redis pub/sub.
type Broker struct {
	client *goredis.Client
	opts   Options
	log    *zerolog.Logger
}

// New creates a redis-backed broker. The connection is established lazily.
func New(opts Options, logger *zerolog.Logger) *Broker {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 100 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = opts.MinBackoff
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:            opts.Addr,
		Password:        opts.Password,
		DB:              opts.DB,
		MaxRetries:      opts.PublishRetries,
		MinRetryBackoff: opts.MinBackoff,
		MaxRetryBackoff: opts.MaxBackoff,
	})

	return &Broker{client: client, opts: opts, log: logger}
}

// Ping checks connectivity to the redis server.
func (b *Broker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Subscribe opens a dedicated pub/sub connection for channel and waits for
// the server to confirm the subscription.
func (b *Broker) Subscribe(ctx context.Context, channel string) (broker.Subscription, error) {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return &subscription{
		ps:      ps,
		channel: channel,
		opts:    b.opts,
		log:     b.log,
	}, nil
}

// Publish sends payload to channel. go-redis retries with backoff; once
// retries are exhausted the publish is rejected rather than queued.
func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, goredis.ErrClosed) {
			return broker.ErrClosed
		}
		b.log.Warn().Err(err).Str("channel", channel).Msg("publish rejected, broker unreachable")
		return fmt.Errorf("%w: publish %s: %v", broker.ErrUnavailable, channel, err)
	}
	return nil
}

// NumSubscribers asks redis how many connections are subscribed to channel.
func (b *Broker) NumSubscribers(ctx context.Context, channel string) (int64, error) {
	counts, err := b.client.PubSubNumSub(ctx, channel).Result()
	if err != nil {
		return 0, fmt.Errorf("numsub %s: %w", channel, err)
	}
	return counts[channel], nil
}

// Close closes the client and its connection pool.
func (b *Broker) Close() error {
	return b.client.Close()
}

type subscription struct {
	ps      *goredis.PubSub
	channel string
	opts    Options
	log     *zerolog.Logger

	closeOnce sync.Once
}

func (s *subscription) Channel() string {
	return s.channel
}

// Next waits for the next message. On a connection error go-redis re-dials
// and re-subscribes on the following receive; Next keeps retrying with
// exponential backoff until ctx ends or the subscription is closed.
func (s *subscription) Next(ctx context.Context) ([]byte, error) {
	backoff := s.opts.MinBackoff
	for {
		msg, err := s.ps.ReceiveMessage(ctx)
		if err == nil {
			return []byte(msg.Payload), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, goredis.ErrClosed) {
			return nil, broker.ErrClosed
		}

		s.log.Warn().Err(err).Str("channel", s.channel).Dur("backoff", backoff).Msg("subscription receive failed, reconnecting")

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		backoff = min(backoff*2, s.opts.MaxBackoff)
	}
}

func (s *subscription) Unsubscribe(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		if unsubErr := s.ps.Unsubscribe(ctx, s.channel); unsubErr != nil && !errors.Is(unsubErr, goredis.ErrClosed) {
			s.log.Debug().Err(unsubErr).Str("channel", s.channel).Msg("unsubscribe")
		}
		err = s.ps.Close()
	})
	return err
}

var _ broker.Broker = (*Broker)(nil)
