package game

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the registry and the coordinator wraps one of
// these, so callers classify with errors.Is.
var (
	ErrValidation   = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrAuth         = errors.New("unauthorized")
	ErrCapacity     = errors.New("capacity exceeded")
)

var (
	ErrSessionNotFound  = fmt.Errorf("session %w", ErrNotFound)
	ErrPlayerNotFound   = fmt.Errorf("player %w", ErrNotFound)
	ErrNoPlayers        = fmt.Errorf("session has no players: %w", ErrNotFound)
	ErrSessionCompleted = fmt.Errorf("session is completed: %w", ErrInvalidState)
	ErrNotYourTurn      = fmt.Errorf("not your turn: %w", ErrInvalidState)
	ErrStaleRound       = fmt.Errorf("round is not the current round: %w", ErrInvalidState)
	ErrWrongPassword    = fmt.Errorf("wrong password: %w", ErrAuth)
	ErrSessionFull      = fmt.Errorf("session is full: %w", ErrCapacity)
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
