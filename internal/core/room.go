package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Comcenn/jamgenguessr/internal/broker"
	"github.com/Comcenn/jamgenguessr/internal/proto"
)

type attachment struct {
	session string
	conn    Conn
}

// room is one game hosted by this process: the channel subscription, the
// locally attached connections and the relay-owned Game.
type room struct {
	id     string
	sub    broker.Subscription
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	conns  map[string]attachment
	closed bool

	// Owned by the relay goroutine.
	game         *Game
	founder      *Player
	syncFor      string
	syncDeadline time.Time
	seenOwnJoin  bool
	backlog      [][]byte

	snapshot atomic.Pointer[proto.Snapshot]
}

func newRoom(id string, sub broker.Subscription, cancel context.CancelFunc) *room {
	return &room{
		id:     id,
		sub:    sub,
		cancel: cancel,
		done:   make(chan struct{}),
		conns:  make(map[string]attachment),
	}
}

// attach binds a player's connection to the room, replacing any previous
// connection of the same player.
func (r *room) attach(p *Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[p.ID] = attachment{session: p.Session, conn: p.Conn}
}

// detach removes the player's connection if it still belongs to session.
// Returns true if removed.
func (r *room) detach(playerID, session string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.conns[playerID]
	if !ok || a.session != session {
		return false
	}
	delete(r.conns, playerID)
	return true
}

// conn returns the local connection of a player, nil if it is not attached
// here or is attached under another session.
func (r *room) conn(playerID, session string) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.conns[playerID]
	if !ok || (session != "" && a.session != session) {
		return nil
	}
	return a.conn
}

func (r *room) idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns) == 0
}

func (r *room) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// fanout sends a frame to every connection attached in this process.
func (r *room) fanout(payload []byte, logger *zerolog.Logger) {
	r.mu.Lock()
	targets := make(map[string]Conn, len(r.conns))
	for id, a := range r.conns {
		targets[id] = a.conn
	}
	r.mu.Unlock()

	for id, conn := range targets {
		if conn == nil {
			continue
		}
		if err := conn.Send(payload); err != nil {
			// Drop if slow consumer.
			logger.Warn().Err(err).Str("player_id", id).Msg("frame dropped")
		}
	}
}

func (r *room) publishSnapshot() {
	snap := r.game.Snapshot()
	r.snapshot.Store(&snap)
}
