package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type names a message on the wire.
type Type string

const (
	TypeJoined       Type = "JOINED"
	TypeConfig       Type = "CONFIG"
	TypeGenerated    Type = "GENERATED"
	TypeGuess        Type = "GUESS"
	TypeNewRound     Type = "NEW_ROUND"
	TypeDisconnected Type = "DISCONNECTED"

	// TypeSync carries a game snapshot to a replica that is catching up.
	TypeSync Type = "SYNC"
	// TypeExpired removes a departed player from every replica's roster.
	TypeExpired Type = "EXPIRED"
)

// ManagerPlayerID is the playerId stamped on messages produced by the server itself.
const ManagerPlayerID = "MNGR"

// ErrMalformed is returned for payloads that are not a usable message.
var ErrMalformed = errors.New("malformed message")

// Envelope is the channel event. Every event published for a game decodes into it.
type Envelope struct {
	Type      Type      `json:"type"`
	PlayerID  string    `json:"playerId"`
	GameID    string    `json:"gameId,omitempty"`
	Message   string    `json:"message,omitempty"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Prompt    string    `json:"prompt,omitempty"`
	EventID   string    `json:"eventId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Resync    bool      `json:"resync,omitempty"`
	Ref       string    `json:"ref,omitempty"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
}

// Config resynchronizes a single (re)joining client.
type Config struct {
	Type         Type   `json:"type"`
	PlayerID     string `json:"playerId"`
	Target       string `json:"target"`
	NextScore    int    `json:"nextScore"`
	RoundNumber  int    `json:"roundNumber"`
	ControllerID string `json:"controllerId"`
	ImageURL     string `json:"imageUrl"`
}

// NewRound announces a completed round (or a controller handoff) and the scoreboard.
type NewRound struct {
	Type         Type    `json:"type"`
	PlayerID     string  `json:"playerId"`
	GameID       string  `json:"gameId"`
	ControllerID string  `json:"controllerId"`
	RoundNumber  int     `json:"roundNumber"`
	NextScore    int     `json:"nextScore"`
	Scores       []Score `json:"scores"`
}

// Score is one scoreboard row.
type Score struct {
	PlayerID    string `json:"playerId"`
	PlayerScore int    `json:"playerScore"`
}

// Snapshot is the full replicated state of one game.
type Snapshot struct {
	GameID       string           `json:"gameId"`
	Round        int              `json:"round"`
	ControllerID string           `json:"controllerId"`
	ImageURL     string           `json:"imageUrl,omitempty"`
	Prompt       string           `json:"prompt,omitempty"`
	Guessed      []string         `json:"guessed,omitempty"`
	Players      []PlayerSnapshot `json:"players"`
}

// PlayerSnapshot is one roster entry inside a Snapshot, in insertion order.
type PlayerSnapshot struct {
	ID          string `json:"id"`
	Score       int    `json:"score"`
	Session     string `json:"session,omitempty"`
	Departed    bool   `json:"departed,omitempty"`
	DepartToken string `json:"departToken,omitempty"`
}

// Decode parses a channel payload into an Envelope.
func Decode(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if env.PlayerID == "" {
		return nil, fmt.Errorf("%w: missing playerId", ErrMalformed)
	}
	return &env, nil
}

// Encode marshals any outbound message.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Forwardable reports whether raw events of this type are relayed to sockets.
func (t Type) Forwardable() bool {
	switch t {
	case TypeJoined, TypeGenerated, TypeGuess, TypeDisconnected:
		return true
	default:
		return false
	}
}
