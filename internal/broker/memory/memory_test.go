package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Comcenn/jamgenguessr/internal/broker"
)

func TestPublishFanoutKeepsOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	b := New()
	defer b.Close()

	subA, err := b.Subscribe(ctx, "G1")
	if err != nil {
		t.Fatalf("subscribe A: %v", err)
	}
	subB, err := b.Subscribe(ctx, "G1")
	if err != nil {
		t.Fatalf("subscribe B: %v", err)
	}
	other, err := b.Subscribe(ctx, "G2")
	if err != nil {
		t.Fatalf("subscribe other: %v", err)
	}

	for i := range 50 {
		if err := b.Publish(ctx, "G1", []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	for _, sub := range []broker.Subscription{subA, subB} {
		for i := range 50 {
			msg, err := sub.Next(ctx)
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			if want := fmt.Sprintf("m%d", i); string(msg) != want {
				t.Fatalf("expected %s, got %s", want, msg)
			}
		}
	}

	shortCtx, shortCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer shortCancel()
	if _, err := other.Next(shortCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected no cross-channel delivery, got %v", err)
	}
}

func TestConcurrentPublishersSameOrderForAllSubscribers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	b := New()
	defer b.Close()

	subA, _ := b.Subscribe(ctx, "G1")
	subB, _ := b.Subscribe(ctx, "G1")

	var wg sync.WaitGroup
	for p := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				_ = b.Publish(ctx, "G1", []byte(fmt.Sprintf("p%d-%d", p, i)))
			}
		}()
	}
	wg.Wait()

	for range 100 {
		a, err := subA.Next(ctx)
		if err != nil {
			t.Fatalf("next A: %v", err)
		}
		bb, err := subB.Next(ctx)
		if err != nil {
			t.Fatalf("next B: %v", err)
		}
		if string(a) != string(bb) {
			t.Fatalf("subscribers diverged: %s vs %s", a, bb)
		}
	}
}

func TestNumSubscribersAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	b := New()
	defer b.Close()

	sub, _ := b.Subscribe(ctx, "G1")
	_, _ = b.Subscribe(ctx, "G1")

	if n, _ := b.NumSubscribers(ctx, "G1"); n != 2 {
		t.Fatalf("expected 2 subscribers, got %d", n)
	}

	if err := sub.Unsubscribe(ctx); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if n, _ := b.NumSubscribers(ctx, "G1"); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}
	if _, err := sub.Next(ctx); !errors.Is(err, broker.ErrClosed) {
		t.Fatalf("expected ErrClosed after unsubscribe, got %v", err)
	}
	// second unsubscribe is a no-op
	if err := sub.Unsubscribe(ctx); err != nil {
		t.Fatalf("second unsubscribe: %v", err)
	}
}

func TestNextUnblocksOnClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	b := New()
	sub, _ := b.Subscribe(ctx, "G1")

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Next(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_ = b.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, broker.ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("Next did not return after Close")
	}

	if err := b.Publish(ctx, "G1", []byte("x")); !errors.Is(err, broker.ErrClosed) {
		t.Fatalf("expected publish on closed broker to fail, got %v", err)
	}
}
