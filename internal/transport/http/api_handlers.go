package http

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Comcenn/jamgenguessr/internal/proto"
	"github.com/Comcenn/jamgenguessr/internal/utils"
)

// APIHandlers provides the plain HTTP endpoints next to the socket.
type APIHandlers struct {
	games       Games
	frontendURL string
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(games Games, frontendURL string, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		games:       games,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		log:         logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewGameResponse is returned by /game/new when no frontend is configured.
type NewGameResponse struct {
	GameID string `json:"gameId"`
}

// GameResponse is the public view of a game. The prompt is left out so it
// cannot be read by guessers.
type GameResponse struct {
	GameID       string        `json:"gameId"`
	RoundNumber  int           `json:"roundNumber"`
	ControllerID string        `json:"controllerId"`
	ImageURL     string        `json:"imageUrl,omitempty"`
	Scores       []proto.Score `json:"scores"`
	Departed     []string      `json:"departed,omitempty"`
}

// GameListResponse lists the games relayed by this process.
type GameListResponse struct {
	Games []string `json:"games"`
}

// newGameAttempts bounds how often NewGame redraws a code already in use here.
const newGameAttempts = 5

// NewGame mints a game code and sends the browser to the frontend.
// GET /game/new
func (h *APIHandlers) NewGame(c *gin.Context) {
	gameID := utils.NewGameID()
	for i := 1; i < newGameAttempts && h.games.HasGame(gameID); i++ {
		gameID = utils.NewGameID()
	}
	h.log.Debug().Str("game_id", gameID).Msg("game id issued")

	if h.frontendURL == "" {
		c.JSON(http.StatusOK, NewGameResponse{GameID: gameID})
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, h.frontendURL+"/game?id="+url.QueryEscape(gameID))
}

// ListGames returns the ids of the games relayed by this process.
// GET /api/games
func (h *APIHandlers) ListGames(c *gin.Context) {
	c.JSON(http.StatusOK, GameListResponse{Games: h.games.ActiveGames()})
}

// GetGame returns the scoreboard of a game relayed by this process.
// GET /api/games/:gameId
func (h *APIHandlers) GetGame(c *gin.Context) {
	snap, ok := h.games.Snapshot(c.Param("gameId"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "game not found"})
		return
	}
	c.JSON(http.StatusOK, gameResponseFromSnapshot(snap))
}

func gameResponseFromSnapshot(snap proto.Snapshot) GameResponse {
	resp := GameResponse{
		GameID:       snap.GameID,
		RoundNumber:  snap.Round,
		ControllerID: snap.ControllerID,
		ImageURL:     snap.ImageURL,
		Scores:       make([]proto.Score, 0, len(snap.Players)),
	}
	for _, p := range snap.Players {
		resp.Scores = append(resp.Scores, proto.Score{PlayerID: p.ID, PlayerScore: p.Score})
		if p.Departed {
			resp.Departed = append(resp.Departed, p.ID)
		}
	}
	return resp
}
