package proto

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `hello`},
		{name: "missing type", payload: `{"playerId":"A"}`},
		{name: "missing player", payload: `{"type":"GUESS","prompt":"cat"}`},
		{name: "wrong field type", payload: `{"type":"GUESS","playerId":7}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.payload)); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestDecodeKeepsUnknownType(t *testing.T) {
	env, err := Decode([]byte(`{"type":"WAVE","playerId":"A","extra":1}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != "WAVE" || env.Type.Forwardable() {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestForwardable(t *testing.T) {
	for _, typ := range []Type{TypeJoined, TypeGenerated, TypeGuess, TypeDisconnected} {
		if !typ.Forwardable() {
			t.Fatalf("%s must be forwarded", typ)
		}
	}
	for _, typ := range []Type{TypeConfig, TypeNewRound, TypeSync, TypeExpired} {
		if typ.Forwardable() {
			t.Fatalf("%s must not be forwarded", typ)
		}
	}
}

func TestNewRoundWireShape(t *testing.T) {
	payload, err := Encode(NewRound{
		Type:         TypeNewRound,
		PlayerID:     ManagerPlayerID,
		GameID:       "G1",
		ControllerID: "B",
		RoundNumber:  1,
		NextScore:    1,
		Scores:       []Score{{PlayerID: "A", PlayerScore: 1}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"type", "playerId", "gameId", "controllerId", "roundNumber", "nextScore", "scores"} {
		if _, ok := got[key]; !ok {
			t.Fatalf("missing %q in %s", key, payload)
		}
	}
	if got["playerId"] != "MNGR" {
		t.Fatalf("unexpected playerId %v", got["playerId"])
	}
}
