package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Comcenn/jamgenguessr/internal/broker"
	"github.com/Comcenn/jamgenguessr/internal/proto"
)

// Broadcaster publishes raw payloads on a game's channel.
type Broadcaster interface {
	BroadcastToGame(ctx context.Context, gameID string, payload []byte) error
}

// Options tunes the manager's timing.
type Options struct {
	// RejoinGrace is how long a disconnected player keeps its roster entry
	// and score before it is expired.
	RejoinGrace time.Duration
	// SyncTimeout bounds how long a replica waits for a snapshot from the
	// processes already hosting a game before founding it locally.
	SyncTimeout time.Duration
}

const (
	defaultRejoinGrace = 10 * time.Second
	defaultSyncTimeout = 2 * time.Second
	unsubscribeTimeout = time.Second
)

// Manager is the registry of games hosted by this process. Every event for a
// game goes through the broker; one relay goroutine per game applies the
// channel's events to the Game and fans them out to local connections.
type Manager struct {
	broker broker.Broker
	opts   Options
	logger *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	rooms  map[string]*room
	timers map[string]*time.Timer
	closed bool
}

// NewManager constructs a manager on top of b.
func NewManager(b broker.Broker, opts Options, logger *zerolog.Logger) *Manager {
	if opts.RejoinGrace <= 0 {
		opts.RejoinGrace = defaultRejoinGrace
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = defaultSyncTimeout
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		broker: b,
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]*room),
		timers: make(map[string]*time.Timer),
	}
}

// Run blocks until ctx is done, then shuts the manager down.
func (m *Manager) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-m.ctx.Done():
	}
	m.Close()
}

// Close cancels every relay and expiry timer and waits for the relays to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.wg.Wait()
		return
	}
	m.closed = true
	for key, t := range m.timers {
		t.Stop()
		delete(m.timers, key)
	}
	for id, r := range m.rooms {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		delete(m.rooms, id)
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// AddPlayerToGame attaches the player's connection and announces the join on
// the game's channel. A game unknown to this process is either founded here,
// with the player as controller, or bootstrapped from the processes that
// already host it.
func (m *Manager) AddPlayerToGame(ctx context.Context, gameID string, p *Player) error {
	if p.Session == "" {
		p.Session = uuid.NewString()
	}
	joined := &proto.Envelope{
		Type:      proto.TypeJoined,
		PlayerID:  p.ID,
		GameID:    gameID,
		Message:   fmt.Sprintf("Player %s connected to game - %s", p.ID, gameID),
		EventID:   uuid.NewString(),
		SessionID: p.Session,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.stopTimerLocked(gameID, p.ID)
	if m.attachLocked(gameID, p) {
		m.mu.Unlock()
		return m.Publish(ctx, gameID, joined)
	}
	m.mu.Unlock()

	// The broker is reached without m.mu so a slow or unreachable broker
	// only stalls joins to this game.
	r, rctx, err := m.openRoom(ctx, gameID, p, joined)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.discardRoom(r)
		return ErrClosed
	}
	if m.attachLocked(gameID, p) {
		// Another join registered the game meanwhile.
		m.mu.Unlock()
		m.discardRoom(r)
		joined.Resync = false
		return m.Publish(ctx, gameID, joined)
	}
	founded := r.game != nil
	m.rooms[gameID] = r
	m.wg.Add(1)
	go m.relay(rctx, r)
	m.mu.Unlock()

	if founded {
		m.logger.Info().Str("game_id", gameID).Str("player_id", p.ID).Msg("game founded")
	}
	return m.Publish(ctx, gameID, joined)
}

func (m *Manager) attachLocked(gameID string, p *Player) bool {
	r, ok := m.rooms[gameID]
	if !ok || r.isClosed() {
		return false
	}
	r.attach(p)
	return true
}

// openRoom subscribes to the game's channel and prepares an unregistered
// room. Without other subscribers the game is founded with p as controller;
// otherwise the room waits for a snapshot.
func (m *Manager) openRoom(ctx context.Context, gameID string, p *Player, joined *proto.Envelope) (*room, context.Context, error) {
	others, err := m.broker.NumSubscribers(ctx, gameID)
	if err != nil {
		return nil, nil, fmt.Errorf("count subscribers of %s: %w", gameID, err)
	}
	sub, err := m.broker.Subscribe(ctx, gameID)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe to %s: %w", gameID, err)
	}

	rctx, cancel := context.WithCancel(m.ctx)
	r := newRoom(gameID, sub, cancel)
	r.attach(p)

	founder := &Player{ID: p.ID, Role: RoleController, Conn: p.Conn, Session: p.Session}
	if others > 0 {
		r.founder = founder
		r.syncFor = joined.EventID
		r.syncDeadline = time.Now().Add(m.opts.SyncTimeout)
		joined.Resync = true
		m.logger.Debug().Str("game_id", gameID).Int64("subscribers", others).Msg("game hosted elsewhere, requesting snapshot")
	} else {
		r.game = NewGame(gameID, founder)
		r.publishSnapshot()
	}
	return r, rctx, nil
}

// discardRoom releases a room that was never registered.
func (m *Manager) discardRoom(r *room) {
	r.cancel()
	uctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	if err := r.sub.Unsubscribe(uctx); err != nil {
		m.logger.Debug().Err(err).Str("game_id", r.id).Msg("unsubscribe")
	}
}

// BroadcastToGame publishes payload on the game's channel. It is the only
// path by which events reach a Game.
func (m *Manager) BroadcastToGame(ctx context.Context, gameID string, payload []byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := m.broker.Publish(ctx, gameID, payload); err != nil {
		return fmt.Errorf("broadcast to %s: %w", gameID, err)
	}
	return nil
}

// Publish stamps and encodes env, then broadcasts it.
func (m *Manager) Publish(ctx context.Context, gameID string, env *proto.Envelope) error {
	if env.EventID == "" {
		env.EventID = uuid.NewString()
	}
	env.GameID = gameID

	payload, err := proto.Encode(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	return m.BroadcastToGame(ctx, gameID, payload)
}

// RemovePlayerFromGame stops forwarding to the player's connection and
// announces the disconnect. The player keeps its roster entry and score for
// the rejoin grace period. Unknown games, players and superseded sessions
// are a no-op.
func (m *Manager) RemovePlayerFromGame(ctx context.Context, gameID, playerID, session string) error {
	m.mu.Lock()
	r, ok := m.rooms[gameID]
	closed := m.closed
	m.mu.Unlock()
	if !ok || closed {
		return nil
	}
	if !r.detach(playerID, session) {
		return nil
	}

	disconnected := &proto.Envelope{
		Type:      proto.TypeDisconnected,
		PlayerID:  playerID,
		Message:   fmt.Sprintf("Player %s disconnected from room - %s", playerID, gameID),
		EventID:   uuid.NewString(),
		SessionID: session,
	}
	if err := m.Publish(ctx, gameID, disconnected); err != nil {
		return err
	}

	m.scheduleExpiry(gameID, playerID, disconnected.EventID)
	return nil
}

func (m *Manager) scheduleExpiry(gameID, playerID, ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	key := timerKey(gameID, playerID)
	if t, ok := m.timers[key]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(m.opts.RejoinGrace, func() {
		m.mu.Lock()
		if m.timers[key] == timer {
			delete(m.timers, key)
		}
		m.mu.Unlock()

		expired := &proto.Envelope{
			Type:     proto.TypeExpired,
			PlayerID: playerID,
			Ref:      ref,
		}
		if err := m.Publish(m.ctx, gameID, expired); err != nil && !errors.Is(err, ErrClosed) {
			m.logger.Warn().Err(err).Str("game_id", gameID).Str("player_id", playerID).Msg("failed to publish expiry")
		}
	})
	m.timers[key] = timer
}

func (m *Manager) stopTimerLocked(gameID, playerID string) {
	key := timerKey(gameID, playerID)
	if t, ok := m.timers[key]; ok {
		t.Stop()
		delete(m.timers, key)
	}
}

func timerKey(gameID, playerID string) string {
	return gameID + "/" + playerID
}

// Snapshot returns the state last applied by the game's relay in this process.
func (m *Manager) Snapshot(gameID string) (proto.Snapshot, bool) {
	m.mu.Lock()
	r, ok := m.rooms[gameID]
	m.mu.Unlock()
	if !ok {
		return proto.Snapshot{}, false
	}
	snap := r.snapshot.Load()
	if snap == nil {
		return proto.Snapshot{}, false
	}
	return *snap, true
}

// HasGame reports whether the game is relayed by this process.
func (m *Manager) HasGame(gameID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[gameID]
	return ok
}

// ActiveGames lists the games relayed by this process.
func (m *Manager) ActiveGames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// retire drops the room once its roster is empty and nobody is attached
// locally. Returns true if the relay should exit.
func (m *Manager) retire(r *room) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) > 0 {
		return false
	}
	r.closed = true
	if m.rooms[r.id] == r {
		delete(m.rooms, r.id)
	}
	r.cancel()
	return true
}

// abandon drops a room whose subscription ended, so the next join opens a
// fresh one instead of attaching to a room nobody reads.
func (m *Manager) abandon(r *room) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	if m.rooms[r.id] == r {
		delete(m.rooms, r.id)
	}
	r.cancel()
}

var _ Broadcaster = (*Manager)(nil)
