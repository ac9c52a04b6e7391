package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/Comcenn/jamgenguessr/internal/broker/memory"
	"github.com/Comcenn/jamgenguessr/internal/config"
	"github.com/Comcenn/jamgenguessr/internal/core"
	"github.com/Comcenn/jamgenguessr/internal/proto"
)

type wireFrame struct {
	Type         proto.Type    `json:"type"`
	PlayerID     string        `json:"playerId"`
	GameID       string        `json:"gameId"`
	Message      string        `json:"message"`
	ImageURL     string        `json:"imageUrl"`
	Prompt       string        `json:"prompt"`
	Target       string        `json:"target"`
	NextScore    int           `json:"nextScore"`
	RoundNumber  int           `json:"roundNumber"`
	ControllerID string        `json:"controllerId"`
	Scores       []proto.Score `json:"scores"`
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	cfg.FrontendURL = ""
	return cfg
}

func startTestServer(t *testing.T, cfg config.Config) (*httptest.Server, *core.Manager) {
	t.Helper()

	logger := zerolog.New(nil)
	manager := core.NewManager(memory.New(), core.Options{RejoinGrace: time.Minute}, &logger)
	t.Cleanup(manager.Close)

	ts := httptest.NewServer(NewHandler(manager, cfg, &logger))
	t.Cleanup(ts.Close)

	return ts, manager
}

func dialGame(t *testing.T, ctx context.Context, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + path
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// readUntil reads frames until one matches, failing on timeout.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, match func(wireFrame) bool) wireFrame {
	t.Helper()

	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for {
		var f wireFrame
		if err := wsjson.Read(readCtx, conn, &f); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if match(f) {
			return f
		}
	}
}

func ofType(typ proto.Type) func(wireFrame) bool {
	return func(f wireFrame) bool { return f.Type == typ }
}

func configFor(target string) func(wireFrame) bool {
	return func(f wireFrame) bool { return f.Type == proto.TypeConfig && f.Target == target }
}

func sendFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, v any) {
	t.Helper()

	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}
