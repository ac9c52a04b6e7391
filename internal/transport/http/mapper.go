package http

import (
	"errors"
	"fmt"

	"github.com/Comcenn/jamgenguessr/internal/core"
	"github.com/Comcenn/jamgenguessr/internal/proto"
	"github.com/Comcenn/jamgenguessr/internal/utils"
)

var errNotAccepted = errors.New("message type not accepted from clients")

// inboundToEnvelope turns a client frame into a channel event. The identity
// fields always come from the connection, never from the frame, and only
// round messages are accepted; joins and disconnects are server-produced.
func inboundToEnvelope(player *core.Player, gameID string, data []byte) (*proto.Envelope, error) {
	env, err := proto.Decode(data)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case proto.TypeGenerated:
		return &proto.Envelope{
			Type:     proto.TypeGenerated,
			PlayerID: player.ID,
			GameID:   gameID,
			ImageURL: env.ImageURL,
			Prompt:   env.Prompt,
			EventID:  utils.NewID(),
		}, nil
	case proto.TypeGuess:
		return &proto.Envelope{
			Type:     proto.TypeGuess,
			PlayerID: player.ID,
			GameID:   gameID,
			Prompt:   env.Prompt,
			EventID:  utils.NewID(),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errNotAccepted, env.Type)
	}
}
