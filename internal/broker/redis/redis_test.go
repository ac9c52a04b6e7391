package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/Comcenn/jamgenguessr/internal/broker"
)

func newTestBroker(t *testing.T) (*Broker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	logger := zerolog.Nop()
	b := New(Options{
		Addr:           mr.Addr(),
		MinBackoff:     5 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		PublishRetries: 1,
	}, &logger)
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func TestSubscribePublishNext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	b, _ := newTestBroker(t)

	sub, err := b.Subscribe(ctx, "G1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe(ctx)

	if sub.Channel() != "G1" {
		t.Fatalf("unexpected channel %q", sub.Channel())
	}

	for _, payload := range []string{"one", "two", "three"} {
		if err := b.Publish(ctx, "G1", []byte(payload)); err != nil {
			t.Fatalf("publish %s: %v", payload, err)
		}
	}

	for _, want := range []string{"one", "two", "three"} {
		got, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if string(got) != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}

func TestNumSubscribers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	b, _ := newTestBroker(t)

	if n, err := b.NumSubscribers(ctx, "G1"); err != nil || n != 0 {
		t.Fatalf("expected 0 subscribers, got %d (%v)", n, err)
	}

	sub, err := b.Subscribe(ctx, "G1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if n, err := b.NumSubscribers(ctx, "G1"); err != nil || n != 1 {
		t.Fatalf("expected 1 subscriber, got %d (%v)", n, err)
	}

	if err := sub.Unsubscribe(ctx); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := b.NumSubscribers(ctx, "G1")
		if err == nil && n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscriber count did not drop to 0, last %d (%v)", n, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := sub.Next(ctx); !errors.Is(err, broker.ErrClosed) {
		t.Fatalf("expected ErrClosed after unsubscribe, got %v", err)
	}
}

func TestPublishRejectedWhenServerDown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	b, mr := newTestBroker(t)
	mr.Close()

	err := b.Publish(ctx, "G1", []byte("lost"))
	if !errors.Is(err, broker.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSubscriptionSurvivesServerRestart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, mr := newTestBroker(t)

	sub, err := b.Subscribe(ctx, "G1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe(ctx)

	got := make(chan []byte, 1)
	go func() {
		msg, err := sub.Next(ctx)
		if err == nil {
			got <- msg
		}
	}()

	time.Sleep(20 * time.Millisecond)
	if err := mr.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}

	// wait until the subscription has been re-established on the new server
	for {
		if n, err := b.NumSubscribers(ctx, "G1"); err == nil && n == 1 {
			break
		}
		if ctx.Err() != nil {
			t.Fatalf("subscription was not re-established")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := b.Publish(ctx, "G1", []byte("after-restart")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-got:
		if string(msg) != "after-restart" {
			t.Fatalf("unexpected payload %q", msg)
		}
	case <-ctx.Done():
		t.Fatalf("no message after restart")
	}
}
