package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Comcenn/jamgenguessr/internal/config"
	"github.com/Comcenn/jamgenguessr/internal/core"
	"github.com/Comcenn/jamgenguessr/internal/proto"
)

const (
	joinPrefix     = "/game/join/"
	outboundBuffer = 64
	leaveTimeout   = 5 * time.Second
)

// Games is the part of the game registry the transport needs.
type Games interface {
	AddPlayerToGame(ctx context.Context, gameID string, p *core.Player) error
	RemovePlayerFromGame(ctx context.Context, gameID, playerID, session string) error
	Publish(ctx context.Context, gameID string, env *proto.Envelope) error
	Snapshot(gameID string) (proto.Snapshot, bool)
	HasGame(gameID string) bool
	ActiveGames() []string
}

// WSHandler upgrades HTTP connections and bridges them to a game.
type WSHandler struct {
	games             Games
	maxMessageBytes   int64
	messagesPerMinute int
	log               *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(games Games, cfg config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		games:             games,
		maxMessageBytes:   cfg.MaxMessageBytes,
		messagesPerMinute: cfg.MessagesPerMinute,
		log:               logger,
	}
}

// ServeHTTP handles /game/join/{gameId} and /game/join/{gameId}/{playerId}.
func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	gameID, playerID, ok := parseJoinPath(r.URL.Path)
	if !ok {
		stdhttp.NotFound(w, r)
		return
	}
	h.serve(w, r, gameID, playerID)
}

// parseJoinPath splits the game id and the optional player id out of a join path.
func parseJoinPath(path string) (gameID, playerID string, ok bool) {
	rest, found := strings.CutPrefix(path, joinPrefix)
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		return parts[0], "", true
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return parts[0], parts[1], true
	default:
		return "", "", false
	}
}

func (h *WSHandler) serve(w stdhttp.ResponseWriter, r *stdhttp.Request, gameID, playerID string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := core.NewClient(playerID, outboundBuffer)
	player := core.NewPlayer(playerID, client)
	client.ID = player.ID
	logger := h.log.With().Str("game_id", gameID).Str("player_id", player.ID).Logger()

	if err := h.games.AddPlayerToGame(ctx, gameID, player); err != nil {
		logger.Warn().Err(err).Msg("join failed")
		conn.Close(websocket.StatusTryAgainLater, "game unavailable")
		return
	}
	logger.Info().Msg("player connected")

	defer func() {
		client.Close()
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer leaveCancel()
		if err := h.games.RemovePlayerFromGame(leaveCtx, gameID, player.ID, player.Session); err != nil {
			logger.Warn().Err(err).Msg("failed to announce disconnect")
		}
		logger.Info().Msg("player disconnected")
	}()

	limiter := newFrameLimiter(h.messagesPerMinute)

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, player, gameID, limiter, &logger)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, &logger)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			logger.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, player *core.Player, gameID string, limiter *rate.Limiter, logger *zerolog.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			logger.Debug().Msg("ignoring binary frame")
			continue
		}
		if !limiter.Allow() {
			logger.Warn().Msg("rate limit exceeded, frame dropped")
			continue
		}

		env, err := inboundToEnvelope(player, gameID, data)
		if err != nil {
			if errors.Is(err, proto.ErrMalformed) {
				logger.Warn().Err(err).Msg("dropping malformed frame")
			} else {
				logger.Debug().Err(err).Msg("dropping frame")
			}
			continue
		}

		if err := h.games.Publish(ctx, gameID, env); err != nil {
			if errors.Is(err, core.ErrClosed) {
				return err
			}
			logger.Warn().Err(err).Str("type", string(env.Type)).Msg("publish rejected")
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	for {
		select {
		case frame := <-client.Outbound:
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				logger.Error().Err(err).Msg("write ws frame")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
