package core

import "github.com/google/uuid"

// Role is a player's part in the current round.
type Role string

const (
	RoleController Role = "CONTROLLER"
	RoleGuesser    Role = "GUESSER"
)

// Player is one participant of a game. ID and Session are set at handshake;
// Role, Score and Conn are maintained by the game's relay.
type Player struct {
	ID      string
	Role    Role
	Conn    Conn // nil unless the player is connected to this process
	Score   int
	Session string

	departed    bool
	departToken string
}

// NewPlayer builds a guesser with the given connection. An empty id gets a
// freshly generated one.
func NewPlayer(id string, conn Conn) *Player {
	if id == "" {
		id = uuid.NewString()
	}
	return &Player{
		ID:   id,
		Role: RoleGuesser,
		Conn: conn,
	}
}

// Departed reports whether the player disconnected and has not rejoined yet.
func (p *Player) Departed() bool {
	return p.departed
}
