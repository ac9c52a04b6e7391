package core

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Comcenn/jamgenguessr/internal/broker"
	"github.com/Comcenn/jamgenguessr/internal/broker/memory"
	"github.com/Comcenn/jamgenguessr/internal/proto"
)

// frame is the union of every field a client can receive.
type frame struct {
	Type         proto.Type    `json:"type"`
	PlayerID     string        `json:"playerId"`
	GameID       string        `json:"gameId"`
	Message      string        `json:"message"`
	ImageURL     string        `json:"imageUrl"`
	Prompt       string        `json:"prompt"`
	Target       string        `json:"target"`
	NextScore    int           `json:"nextScore"`
	RoundNumber  int           `json:"roundNumber"`
	ControllerID string        `json:"controllerId"`
	Scores       []proto.Score `json:"scores"`
}

func nextFrame(t *testing.T, c *Client, deadline time.Time) (frame, bool) {
	t.Helper()

	for time.Now().Before(deadline) {
		select {
		case raw := <-c.Outbound:
			var f frame
			if err := json.Unmarshal(raw, &f); err != nil {
				t.Fatalf("client %s received undecodable frame %q: %v", c.ID, raw, err)
			}
			return f, true
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	return frame{}, false
}

// mustFrame waits for the next frame of the given type, skipping others.
func mustFrame(t *testing.T, c *Client, typ proto.Type) frame {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		f, ok := nextFrame(t, c, deadline)
		if !ok {
			t.Fatalf("client %s: expected %s frame not received", c.ID, typ)
		}
		if f.Type == typ {
			return f
		}
	}
}

// mustConfig waits for the CONFIG addressed to target.
func mustConfig(t *testing.T, c *Client, target string) frame {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		f, ok := nextFrame(t, c, deadline)
		if !ok {
			t.Fatalf("client %s: expected CONFIG for %s not received", c.ID, target)
		}
		if f.Type == proto.TypeConfig && f.Target == target {
			return f
		}
	}
}

// framesUntil collects every frame up to and including the first of type typ.
func framesUntil(t *testing.T, c *Client, typ proto.Type) []frame {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	var frames []frame
	for {
		f, ok := nextFrame(t, c, deadline)
		if !ok {
			t.Fatalf("client %s: expected %s frame not received", c.ID, typ)
		}
		frames = append(frames, f)
		if f.Type == typ {
			return frames
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(t *testing.T, b *memory.Broker, opts Options) *Manager {
	t.Helper()

	m := NewManager(b, opts, nil)
	t.Cleanup(m.Close)
	return m
}

// joinGame attaches a fresh client and waits until its JOINED was applied.
func joinGame(t *testing.T, m *Manager, gameID, playerID string) (*Client, *Player) {
	t.Helper()

	c := NewClient(playerID, 256)
	p := NewPlayer(playerID, c)
	if err := m.AddPlayerToGame(context.Background(), gameID, p); err != nil {
		t.Fatalf("join %s: %v", playerID, err)
	}
	mustConfig(t, c, playerID)
	return c, p
}

func publish(t *testing.T, m *Manager, gameID string, env *proto.Envelope) {
	t.Helper()

	if err := m.Publish(context.Background(), gameID, env); err != nil {
		t.Fatalf("publish %s: %v", env.Type, err)
	}
}

// gatedBroker holds Subscribe calls for one channel until release is closed.
type gatedBroker struct {
	*memory.Broker
	channel string
	entered chan struct{}
	release chan struct{}
}

func newGatedBroker(channel string, callers int) *gatedBroker {
	return &gatedBroker{
		Broker:  memory.New(),
		channel: channel,
		entered: make(chan struct{}, callers),
		release: make(chan struct{}),
	}
}

func (g *gatedBroker) Subscribe(ctx context.Context, channel string) (broker.Subscription, error) {
	if channel == g.channel {
		g.entered <- struct{}{}
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.Broker.Subscribe(ctx, channel)
}

// recordingBroker keeps every subscription it hands out.
type recordingBroker struct {
	*memory.Broker

	mu   sync.Mutex
	subs []broker.Subscription
}

func (b *recordingBroker) Subscribe(ctx context.Context, channel string) (broker.Subscription, error) {
	sub, err := b.Broker.Subscribe(ctx, channel)
	if err == nil {
		b.mu.Lock()
		b.subs = append(b.subs, sub)
		b.mu.Unlock()
	}
	return sub, err
}

func (b *recordingBroker) last() broker.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[len(b.subs)-1]
}

func waitFor(t *testing.T, what string, ch <-chan struct{}) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
