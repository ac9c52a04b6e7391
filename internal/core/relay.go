package core

import (
	"context"
	"errors"
	"hash/fnv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Comcenn/jamgenguessr/internal/broker"
	"github.com/Comcenn/jamgenguessr/internal/proto"
)

// relay is the only writer of r.game. It reads the channel in order, applies
// each event and fans the results out to the connections attached here.
func (m *Manager) relay(ctx context.Context, r *room) {
	defer m.wg.Done()
	defer close(r.done)
	defer func() {
		uctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
		defer cancel()
		if err := r.sub.Unsubscribe(uctx); err != nil {
			m.logger.Debug().Err(err).Str("game_id", r.id).Msg("unsubscribe")
		}
	}()

	logger := m.logger.With().Str("game_id", r.id).Logger()

	for {
		nctx, cancel := ctx, context.CancelFunc(func() {})
		if r.game == nil {
			nctx, cancel = context.WithDeadline(ctx, r.syncDeadline)
		}
		payload, err := r.sub.Next(nctx)
		cancel()

		if err != nil {
			switch {
			case ctx.Err() != nil:
				return
			case r.game == nil && errors.Is(err, context.DeadlineExceeded):
				logger.Info().Msg("no snapshot received, founding game locally")
				m.install(ctx, r, NewGame(r.id, r.founder), &logger)
			case errors.Is(err, broker.ErrClosed):
				logger.Debug().Msg("subscription closed")
				m.abandon(r)
				return
			default:
				logger.Warn().Err(err).Msg("relay receive failed")
				m.abandon(r)
				return
			}
		} else if r.game == nil {
			m.handleSyncing(ctx, r, payload, &logger)
		} else {
			m.handle(ctx, r, payload, false, &logger)
		}

		if r.game != nil && r.game.Empty() && m.retire(r) {
			logger.Info().Msg("game closed")
			return
		}
	}
}

// handle applies one channel event to the game. Raw events are forwarded
// only when they applied; messages produced by the game are delivered to
// local connections only, since every replica produces the same ones.
func (m *Manager) handle(ctx context.Context, r *room, payload []byte, replay bool, logger *zerolog.Logger) {
	env, err := proto.Decode(payload)
	if err != nil {
		logger.Warn().Err(err).Msg("dropping malformed event")
		return
	}

	seed := seedOf(env, payload)
	var out any

	switch env.Type {
	case proto.TypeJoined:
		cfg := r.game.AddPlayer(&Player{
			ID:      env.PlayerID,
			Conn:    r.conn(env.PlayerID, env.SessionID),
			Session: env.SessionID,
		})
		out = cfg
	case proto.TypeGenerated:
		err = r.game.OnGenerated(env.PlayerID, env.ImageURL, env.Prompt)
	case proto.TypeGuess:
		var nr *proto.NewRound
		nr, err = r.game.OnGuess(env.PlayerID, env.Prompt, seed)
		if nr != nil {
			out = nr
		}
	case proto.TypeDisconnected:
		err = r.game.Depart(env.PlayerID, env.SessionID, env.EventID)
	case proto.TypeExpired:
		var nr *proto.NewRound
		nr, err = r.game.Expire(env.PlayerID, env.Ref, seed)
		if nr != nil {
			out = nr
		}
	case proto.TypeSync:
		return
	default:
		logger.Debug().Str("type", string(env.Type)).Msg("ignoring event")
		return
	}

	if err != nil {
		logger.Debug().Err(err).Str("type", string(env.Type)).Str("player_id", env.PlayerID).Msg("event rejected")
		return
	}

	r.publishSnapshot()

	if env.Type.Forwardable() {
		r.fanout(payload, logger)
	}
	if out != nil {
		frame, err := proto.Encode(out)
		if err != nil {
			logger.Error().Err(err).Msg("encode outbound")
		} else {
			r.fanout(frame, logger)
		}
	}

	if env.Type == proto.TypeJoined && env.Resync && !replay {
		m.answerResync(ctx, r, env, logger)
	}
}

// answerResync sends the snapshot taken right after the resync JOINED was
// applied, so the requesting replica can replay from that point.
func (m *Manager) answerResync(ctx context.Context, r *room, joined *proto.Envelope, logger *zerolog.Logger) {
	snap := r.game.Snapshot()
	reply := &proto.Envelope{
		Type:     proto.TypeSync,
		PlayerID: proto.ManagerPlayerID,
		EventID:  uuid.NewString(),
		Ref:      joined.EventID,
		Snapshot: &snap,
	}
	if err := m.Publish(ctx, r.id, reply); err != nil {
		logger.Warn().Err(err).Str("player_id", joined.PlayerID).Msg("failed to answer resync")
	}
}

// handleSyncing runs while the room waits for a snapshot. Events before the
// room's own JOINED are already part of any snapshot it can receive, so they
// are skipped; later events are kept for replay.
func (m *Manager) handleSyncing(ctx context.Context, r *room, payload []byte, logger *zerolog.Logger) {
	env, err := proto.Decode(payload)
	if err != nil {
		logger.Warn().Err(err).Msg("dropping malformed event")
		return
	}

	if !r.seenOwnJoin {
		if env.Type == proto.TypeJoined && env.EventID == r.syncFor {
			r.seenOwnJoin = true
			r.backlog = append(r.backlog, payload)
		}
		return
	}

	if env.Type == proto.TypeSync && env.Ref == r.syncFor && env.Snapshot != nil {
		logger.Debug().Int("backlog", len(r.backlog)).Msg("snapshot received")
		m.install(ctx, r, GameFromSnapshot(*env.Snapshot), logger)
		return
	}
	r.backlog = append(r.backlog, payload)
}

// install makes g the room's game and replays what arrived meanwhile.
func (m *Manager) install(ctx context.Context, r *room, g *Game, logger *zerolog.Logger) {
	r.game = g
	r.syncFor = ""
	r.founder = nil
	r.publishSnapshot()

	backlog := r.backlog
	r.backlog = nil
	for _, payload := range backlog {
		m.handle(ctx, r, payload, true, logger)
	}
}

// seedOf derives the controller draw seed from the event, so every replica
// applying it draws the same player.
func seedOf(env *proto.Envelope, payload []byte) uint64 {
	h := fnv.New64a()
	if env.EventID != "" {
		_, _ = h.Write([]byte(env.EventID))
	} else {
		_, _ = h.Write(payload)
	}
	return h.Sum64()
}
