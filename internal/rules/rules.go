// Package rules adapts github.com/corentings/chess/v2 to the narrow rules
// interface the game controller consumes: parse a position, parse a move,
// check legality, apply it and report terminal conditions.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrInvalidPosition = errors.New("invalid position")
	ErrMoveSyntax      = errors.New("malformed move notation")
	ErrIllegalMove     = errors.New("illegal move")
)

var (
	sanPattern = regexp.MustCompile(`^(?:[NBRQK][a-h]?[1-8]?x?[a-h][1-8]|[a-h](?:x[a-h])?[1-8](?:=?[NBRQ])?|O-O(?:-O)?|0-0(?:-0)?)[+#]?[!?]{0,2}$`)
	uciPattern = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][nbrq]?$`)

	barePromotion = regexp.MustCompile(`^([a-h](?:x[a-h])?[1-8])([NBRQ])`)
)

// Color is the side to move.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Method names the terminal condition of a finished game.
type Method string

const (
	MethodNone                 Method = ""
	MethodCheckmate            Method = "checkmate"
	MethodStalemate            Method = "stalemate"
	MethodInsufficientMaterial Method = "insufficient_material"
	MethodFivefoldRepetition   Method = "fivefold_repetition"
	MethodSeventyFiveMoveRule  Method = "seventy_five_move_rule"
	MethodOther                Method = "other"
)

// Position is an immutable board state decoded from FEN.
type Position struct {
	game *nchess.Game
}

// Move is a candidate move bound to the position it was parsed against.
type Move struct {
	SAN string
	UCI string
	mv  *nchess.Move
}

// Outcome reports the terminal flags after a move has been applied.
type Outcome struct {
	Checkmate bool
	Draw      bool
	Method    Method
}

// Over reports whether any terminal condition holds.
func (o Outcome) Over() bool { return o.Checkmate || o.Draw }

// ParsePosition decodes a FEN string. "startpos" and "start" are accepted as
// aliases of the initial position.
func ParsePosition(fen string) (*Position, error) {
	fen = strings.TrimSpace(fen)
	switch strings.ToLower(fen) {
	case "", "start", "startpos":
		fen = StartFEN
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	return &Position{game: nchess.NewGame(opt)}, nil
}

// FEN returns the position encoded as FEN.
func (p *Position) FEN() string {
	if p == nil || p.game == nil {
		return ""
	}
	return p.game.FEN()
}

// Turn returns the side to move.
func (p *Position) Turn() Color {
	if p.game.Position().Turn() == nchess.White {
		return White
	}
	return Black
}

// Board exposes the underlying board for rendering.
func (p *Position) Board() *nchess.Board {
	return p.game.Position().Board()
}

// ParseMove decodes notation (SAN, or UCI as a convenience) against pos.
// Strings that are not shaped like a move in either notation yield
// ErrMoveSyntax; well-formed moves that cannot be played yield ErrIllegalMove.
func ParseMove(pos *Position, notation string) (*Move, error) {
	raw := strings.TrimSpace(notation)
	current := pos.game.Position()

	var (
		mv  *nchess.Move
		err error
	)
	switch {
	case uciPattern.MatchString(strings.ToLower(raw)):
		mv, err = nchess.UCINotation{}.Decode(current, strings.ToLower(raw))
	case sanPattern.MatchString(raw):
		mv, err = nchess.AlgebraicNotation{}.Decode(current, normalizeSAN(raw))
	default:
		return nil, fmt.Errorf("%w: %q", ErrMoveSyntax, raw)
	}
	if err != nil || mv == nil {
		return nil, fmt.Errorf("%w: %q", ErrIllegalMove, raw)
	}
	if !IsLegal(pos, mv.String()) {
		return nil, fmt.Errorf("%w: %q", ErrIllegalMove, raw)
	}
	return &Move{
		SAN: nchess.AlgebraicNotation{}.Encode(current, mv),
		UCI: strings.ToLower(mv.String()),
		mv:  mv,
	}, nil
}

// normalizeSAN rewrites variants the decoder does not know: zero-castling
// becomes O-O and a bare promotion piece gets its '='.
func normalizeSAN(san string) string {
	if strings.HasPrefix(san, "0-0") {
		san = strings.ReplaceAll(san, "0", "O")
	}
	return barePromotion.ReplaceAllString(san, "$1=$2")
}

// LegalMoves returns the legal moves of pos in UCI.
func LegalMoves(pos *Position) []string {
	valid := pos.game.ValidMoves()
	out := make([]string, 0, len(valid))
	for _, m := range valid {
		out = append(out, strings.ToLower(m.String()))
	}
	return out
}

// IsLegal reports whether the UCI move is a member of the legal-move set.
func IsLegal(pos *Position, uci string) bool {
	uci = strings.ToLower(strings.TrimSpace(uci))
	for _, m := range LegalMoves(pos) {
		if m == uci {
			return true
		}
	}
	return false
}

// Apply plays mv on a copy of pos and returns the resulting position along
// with its terminal flags. pos is left untouched.
func Apply(pos *Position, mv *Move) (*Position, Outcome, error) {
	next, err := ParsePosition(pos.FEN())
	if err != nil {
		return nil, Outcome{}, err
	}
	decoded, err := nchess.UCINotation{}.Decode(next.game.Position(), mv.UCI)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("%w: %q", ErrIllegalMove, mv.UCI)
	}
	if err := next.game.Move(decoded, nil); err != nil {
		return nil, Outcome{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	return next, outcomeOf(next.game), nil
}

// IsCheckmate reports whether the side to move is mated.
func IsCheckmate(pos *Position) bool {
	return pos.game.Position().Status() == nchess.Checkmate
}

// IsGameOver reports whether pos is terminal (mate, stalemate or an
// automatic draw).
func IsGameOver(pos *Position) bool {
	return outcomeOf(pos.game).Over()
}

// Replay plays SAN (or UCI) moves from the initial position.
func Replay(moves []string) (*Position, error) {
	pos, err := ParsePosition(StartFEN)
	if err != nil {
		return nil, err
	}
	for i, raw := range moves {
		mv, err := ParseMove(pos, raw)
		if err != nil {
			return nil, fmt.Errorf("replay ply %d: %w", i+1, err)
		}
		if pos, _, err = Apply(pos, mv); err != nil {
			return nil, fmt.Errorf("replay ply %d: %w", i+1, err)
		}
	}
	return pos, nil
}

func outcomeOf(game *nchess.Game) Outcome {
	if game.Position().Status() == nchess.Checkmate {
		return Outcome{Checkmate: true, Method: MethodCheckmate}
	}
	if game.Position().Status() == nchess.Stalemate {
		return Outcome{Draw: true, Method: MethodStalemate}
	}
	switch game.Outcome() {
	case nchess.WhiteWon, nchess.BlackWon:
		if game.Method() == nchess.Checkmate {
			return Outcome{Checkmate: true, Method: MethodCheckmate}
		}
		return Outcome{}
	case nchess.Draw:
		return Outcome{Draw: true, Method: methodOf(game.Method())}
	}
	return Outcome{}
}

func methodOf(m nchess.Method) Method {
	switch m {
	case nchess.Stalemate:
		return MethodStalemate
	case nchess.InsufficientMaterial:
		return MethodInsufficientMaterial
	case nchess.FivefoldRepetition:
		return MethodFivefoldRepetition
	case nchess.SeventyFiveMoveRule:
		return MethodSeventyFiveMoveRule
	default:
		return MethodOther
	}
}
