package core

import "errors"

// Rejections returned by Game when an event does not apply. The relay logs
// them at debug level and does not forward the event.
var (
	ErrUnknownPlayer  = errors.New("unknown player")
	ErrLobby          = errors.New("not enough players")
	ErrNotController  = errors.New("only the controller can supply the image")
	ErrNotGuesser     = errors.New("the controller cannot guess")
	ErrPromptSet      = errors.New("round already has a prompt")
	ErrEmptyPrompt    = errors.New("image and prompt are required")
	ErrNoPrompt       = errors.New("round has no prompt yet")
	ErrAlreadyGuessed = errors.New("already guessed this round")
	ErrStaleSession   = errors.New("stale session")
	ErrNotDeparted    = errors.New("player is not departed")
)

var (
	ErrSlowConsumer = errors.New("slow consumer")
	ErrConnClosed   = errors.New("connection closed")
	ErrClosed       = errors.New("manager closed")
)
