package pvpchess

import (
	"errors"
	"fmt"

	"github.com/park285/cheese-web/internal/gamestore"
)

var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrGameFinished           = errors.New("game already finished")
	ErrInvalidMoveSyntax      = errors.New("invalid move syntax")
	ErrIllegalMove            = errors.New("illegal move")
	ErrNotYourTurn            = errors.New("not your turn")
	ErrNotAParticipant        = errors.New("not a participant")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrStoreUnavailable       = errors.New("store unavailable")
	ErrInvalidPlayers         = errors.New("invalid players")
)

// Error codes exposed to clients.
const (
	CodeSessionNotFound        = "session_not_found"
	CodeGameFinished           = "game_finished"
	CodeInvalidMoveSyntax      = "invalid_move_syntax"
	CodeIllegalMove            = "illegal_move"
	CodeNotYourTurn            = "not_your_turn"
	CodeNotAParticipant        = "not_a_participant"
	CodeConcurrentModification = "concurrent_modification"
	CodeStoreUnavailable       = "store_unavailable"
	CodeBadRequest             = "bad_request"
	CodeInternal               = "internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrSessionNotFound, CodeSessionNotFound},
	{ErrGameFinished, CodeGameFinished},
	{ErrInvalidMoveSyntax, CodeInvalidMoveSyntax},
	{ErrIllegalMove, CodeIllegalMove},
	{ErrNotYourTurn, CodeNotYourTurn},
	{ErrNotAParticipant, CodeNotAParticipant},
	{ErrConcurrentModification, CodeConcurrentModification},
	{ErrStoreUnavailable, CodeStoreUnavailable},
	{ErrInvalidPlayers, CodeBadRequest},
}

// Code maps err to its client-facing code. nil maps to "".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// Retryable reports whether resubmitting the same request may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrStoreUnavailable)
}

func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gamestore.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, gamestore.ErrVersionConflict):
		return ErrConcurrentModification
	case errors.Is(err, gamestore.ErrExists):
		// id collision; internal, never retryable
		return fmt.Errorf("insert game: %w", err)
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}
