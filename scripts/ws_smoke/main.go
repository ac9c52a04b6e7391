package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Comcenn/jamgenguessr/internal/proto"
)

// frame is the union of the fields a client can receive.
type frame struct {
	Type         proto.Type    `json:"type"`
	PlayerID     string        `json:"playerId"`
	Target       string        `json:"target"`
	RoundNumber  int           `json:"roundNumber"`
	ControllerID string        `json:"controllerId"`
	NextScore    int           `json:"nextScore"`
	Scores       []proto.Score `json:"scores"`
	Message      string        `json:"message"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

// run plays one round with two players: the first one to join controls the
// game, the second one guesses the prompt right.
func run() error {
	base := flag.String("addr", "ws://localhost:8000", "server base address")
	game := flag.String("game", "SMOKE1", "game id")
	prompt := flag.String("prompt", "a cat on a skateboard", "prompt the controller submits")
	image := flag.String("image", "http://localhost/smoke.png", "image url the controller submits")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	dial := func(player string) (*websocket.Conn, error) {
		url := fmt.Sprintf("%s/game/join/%s/%s", strings.TrimRight(*base, "/"), *game, player)
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", player, err)
		}
		return conn, nil
	}

	host, err := dial("smoke-host")
	if err != nil {
		return err
	}
	defer host.Close(websocket.StatusNormalClosure, "bye")

	cfg, err := waitFor(ctx, host, func(f frame) bool { return f.Type == proto.TypeConfig && f.Target == "smoke-host" })
	if err != nil {
		return err
	}
	if cfg.ControllerID != "smoke-host" {
		return fmt.Errorf("game %s already has controller %s, pick another -game", *game, cfg.ControllerID)
	}

	guest, err := dial("smoke-guest")
	if err != nil {
		return err
	}
	defer guest.Close(websocket.StatusNormalClosure, "bye")
	if _, err := waitFor(ctx, guest, func(f frame) bool { return f.Type == proto.TypeConfig && f.Target == "smoke-guest" }); err != nil {
		return err
	}

	if err := wsjson.Write(ctx, host, proto.Envelope{Type: proto.TypeGenerated, PlayerID: "smoke-host", ImageURL: *image, Prompt: *prompt}); err != nil {
		return fmt.Errorf("send generated: %w", err)
	}
	if _, err := waitFor(ctx, guest, func(f frame) bool { return f.Type == proto.TypeGenerated }); err != nil {
		return err
	}

	if err := wsjson.Write(ctx, guest, proto.Envelope{Type: proto.TypeGuess, PlayerID: "smoke-guest", Prompt: *prompt}); err != nil {
		return fmt.Errorf("send guess: %w", err)
	}
	nr, err := waitFor(ctx, host, func(f frame) bool { return f.Type == proto.TypeNewRound })
	if err != nil {
		return err
	}

	fmt.Printf("round %d finished, next controller %s\n", nr.RoundNumber, nr.ControllerID)
	for _, s := range nr.Scores {
		fmt.Printf("  %s: %d\n", s.PlayerID, s.PlayerScore)
	}
	return nil
}

func waitFor(ctx context.Context, conn *websocket.Conn, match func(frame) bool) (frame, error) {
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return frame{}, fmt.Errorf("read: %w", err)
		}
		fmt.Printf("received type=%s player=%s\n", f.Type, f.PlayerID)
		if match(f) {
			return f, nil
		}
	}
}
