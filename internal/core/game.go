package core

import (
	"maps"
	"math/rand/v2"
	"slices"

	"github.com/Comcenn/jamgenguessr/internal/proto"
)

// Game is the per-session state machine. It is not safe for concurrent use:
// a game's relay loop is its only caller.
//
// States are derived from the fields: fewer than two active players is the
// lobby, an empty prompt means the controller still has to supply an image,
// and a set prompt means guesses are accepted.
type Game struct {
	ID string

	players      map[string]*Player
	order        []string
	round        int
	controllerID string
	imageURL     string
	prompt       string
	guessed      map[string]struct{}
}

// NewGame creates a game whose founder is the first controller.
func NewGame(id string, founder *Player) *Game {
	g := &Game{
		ID:      id,
		players: make(map[string]*Player),
		guessed: make(map[string]struct{}),
	}
	g.players[founder.ID] = founder
	g.order = append(g.order, founder.ID)
	g.setController(founder.ID)
	return g
}

// GameFromSnapshot rebuilds a replica from a snapshot taken by another process.
func GameFromSnapshot(s proto.Snapshot) *Game {
	g := &Game{
		ID:       s.GameID,
		players:  make(map[string]*Player, len(s.Players)),
		round:    s.Round,
		imageURL: s.ImageURL,
		prompt:   s.Prompt,
		guessed:  make(map[string]struct{}, len(s.Guessed)),
	}
	for _, ps := range s.Players {
		g.players[ps.ID] = &Player{
			ID:          ps.ID,
			Role:        RoleGuesser,
			Score:       ps.Score,
			Session:     ps.Session,
			departed:    ps.Departed,
			departToken: ps.DepartToken,
		}
		g.order = append(g.order, ps.ID)
	}
	for _, id := range s.Guessed {
		g.guessed[id] = struct{}{}
	}
	g.setController(s.ControllerID)
	return g
}

// Round returns the number of completed rounds.
func (g *Game) Round() int { return g.round }

// ControllerID returns the current controller.
func (g *Game) ControllerID() string { return g.controllerID }

// Prompt returns the current round's prompt, empty between rounds.
func (g *Game) Prompt() string { return g.prompt }

// ImageURL returns the current round's image reference, empty between rounds.
func (g *Game) ImageURL() string { return g.imageURL }

// Player looks up a roster entry.
func (g *Game) Player(id string) (*Player, bool) {
	p, ok := g.players[id]
	return p, ok
}

// Len returns the roster size including departed players.
func (g *Game) Len() int { return len(g.players) }

// Empty reports whether the roster is empty.
func (g *Game) Empty() bool { return len(g.players) == 0 }

// HasGuessed reports whether the player already guessed this round.
func (g *Game) HasGuessed(id string) bool {
	_, ok := g.guessed[id]
	return ok
}

// Scores returns the scoreboard in join order.
func (g *Game) Scores() []proto.Score {
	scores := make([]proto.Score, 0, len(g.order))
	for _, id := range g.order {
		scores = append(scores, proto.Score{PlayerID: id, PlayerScore: g.players[id].Score})
	}
	return scores
}

// AddPlayer inserts a new player or, for a known id, refreshes its connection
// and session. It always returns a CONFIG addressed to the joining player.
func (g *Game) AddPlayer(p *Player) proto.Config {
	if existing, ok := g.players[p.ID]; ok {
		existing.Conn = p.Conn
		if p.Session != "" {
			existing.Session = p.Session
		}
		existing.departed = false
		existing.departToken = ""
		p = existing
	} else {
		p.Role = RoleGuesser
		p.departed = false
		g.players[p.ID] = p
		g.order = append(g.order, p.ID)
	}

	if _, ok := g.players[g.controllerID]; !ok {
		g.setController(p.ID)
	}
	return g.config(p)
}

// OnGenerated stores the controller's image and prompt for this round.
func (g *Game) OnGenerated(playerID, imageURL, prompt string) error {
	if p, ok := g.players[playerID]; !ok || p.departed {
		return ErrUnknownPlayer
	}
	if g.activeCount() < 2 {
		return ErrLobby
	}
	if playerID != g.controllerID {
		return ErrNotController
	}
	if g.prompt != "" {
		return ErrPromptSet
	}
	if prompt == "" || imageURL == "" {
		return ErrEmptyPrompt
	}
	g.imageURL = imageURL
	g.prompt = prompt
	return nil
}

// OnGuess records one guess per guesser per round. The first exact match
// scores and completes the round; so does the last outstanding guess.
func (g *Game) OnGuess(playerID, guess string, seed uint64) (*proto.NewRound, error) {
	p, ok := g.players[playerID]
	if !ok || p.departed {
		return nil, ErrUnknownPlayer
	}
	if g.activeCount() < 2 {
		return nil, ErrLobby
	}
	if g.prompt == "" {
		return nil, ErrNoPrompt
	}
	if playerID == g.controllerID {
		return nil, ErrNotGuesser
	}
	if g.HasGuessed(playerID) {
		return nil, ErrAlreadyGuessed
	}

	g.guessed[playerID] = struct{}{}
	if guess == g.prompt {
		p.Score++
		return g.FinishRound(playerID, seed), nil
	}
	if g.exhausted() {
		return g.FinishRound(playerID, seed), nil
	}
	return nil, nil
}

// FinishRound closes the current round and draws the next controller.
// It is a no-op once the round has been reset, so a second trigger in the
// same step cannot fire twice.
func (g *Game) FinishRound(triggeringID string, seed uint64) *proto.NewRound {
	if g.prompt == "" {
		return nil
	}

	g.round++
	g.resetRound()
	g.setController(g.draw(seed))

	nextScore := 0
	if p, ok := g.players[triggeringID]; ok {
		nextScore = p.Score
	}
	return g.newRound(nextScore)
}

// Depart marks a player as disconnected. A disconnect of an older session
// than the player's current one is ignored.
func (g *Game) Depart(playerID, session, token string) error {
	p, ok := g.players[playerID]
	if !ok {
		return ErrUnknownPlayer
	}
	if session != "" && p.Session != "" && session != p.Session {
		return ErrStaleSession
	}
	p.departed = true
	p.departToken = token
	p.Conn = nil
	return nil
}

// Expire removes a player that departed with the given token and did not
// come back. Removing the controller hands control to another player without
// counting a round.
func (g *Game) Expire(playerID, token string, seed uint64) (*proto.NewRound, error) {
	p, ok := g.players[playerID]
	if !ok {
		return nil, ErrUnknownPlayer
	}
	if !p.departed || (token != "" && p.departToken != token) {
		return nil, ErrNotDeparted
	}

	delete(g.players, playerID)
	delete(g.guessed, playerID)
	g.order = slices.DeleteFunc(g.order, func(id string) bool { return id == playerID })

	if g.Empty() {
		return nil, nil
	}
	if playerID == g.controllerID {
		g.resetRound()
		g.setController(g.draw(seed))
		return g.newRound(0), nil
	}
	if g.prompt != "" && g.activeCount() >= 2 && g.exhausted() {
		return g.FinishRound(playerID, seed), nil
	}
	return nil, nil
}

// Snapshot captures the full replicated state.
func (g *Game) Snapshot() proto.Snapshot {
	s := proto.Snapshot{
		GameID:       g.ID,
		Round:        g.round,
		ControllerID: g.controllerID,
		ImageURL:     g.imageURL,
		Prompt:       g.prompt,
		Guessed:      slices.Sorted(maps.Keys(g.guessed)),
		Players:      make([]proto.PlayerSnapshot, 0, len(g.order)),
	}
	for _, id := range g.order {
		p := g.players[id]
		s.Players = append(s.Players, proto.PlayerSnapshot{
			ID:          p.ID,
			Score:       p.Score,
			Session:     p.Session,
			Departed:    p.departed,
			DepartToken: p.departToken,
		})
	}
	return s
}

func (g *Game) config(p *Player) proto.Config {
	return proto.Config{
		Type:         proto.TypeConfig,
		PlayerID:     p.ID,
		Target:       p.ID,
		NextScore:    p.Score,
		RoundNumber:  g.round,
		ControllerID: g.controllerID,
		ImageURL:     g.imageURL,
	}
}

func (g *Game) newRound(nextScore int) *proto.NewRound {
	return &proto.NewRound{
		Type:         proto.TypeNewRound,
		PlayerID:     proto.ManagerPlayerID,
		GameID:       g.ID,
		ControllerID: g.controllerID,
		RoundNumber:  g.round,
		NextScore:    nextScore,
		Scores:       g.Scores(),
	}
}

func (g *Game) resetRound() {
	g.prompt = ""
	g.imageURL = ""
	clear(g.guessed)
}

func (g *Game) setController(id string) {
	g.controllerID = id
	for pid, p := range g.players {
		if pid == id {
			p.Role = RoleController
		} else {
			p.Role = RoleGuesser
		}
	}
}

// draw picks the next controller uniformly from the active players. The
// choice depends only on the seed, the round and the join order, so every
// replica applying the same event draws the same player.
func (g *Game) draw(seed uint64) string {
	candidates := g.active()
	if len(candidates) == 0 {
		candidates = g.order
	}
	if len(candidates) == 0 {
		return ""
	}
	r := rand.New(rand.NewPCG(seed, uint64(g.round)))
	return candidates[r.IntN(len(candidates))]
}

func (g *Game) active() []string {
	ids := make([]string, 0, len(g.order))
	for _, id := range g.order {
		if !g.players[id].departed {
			ids = append(ids, id)
		}
	}
	return ids
}

func (g *Game) activeCount() int {
	n := 0
	for _, p := range g.players {
		if !p.departed {
			n++
		}
	}
	return n
}

func (g *Game) exhausted() bool {
	guessers := 0
	for _, id := range g.active() {
		if id == g.controllerID {
			continue
		}
		guessers++
		if !g.HasGuessed(id) {
			return false
		}
	}
	return guessers > 0
}
