package pvpchess

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-web/internal/gamestore"
	"github.com/park285/cheese-web/internal/metrics"
	"github.com/park285/cheese-web/internal/obslog"
	"github.com/park285/cheese-web/internal/rules"
	"github.com/park285/cheese-web/pkg/chessdto"
)

// postCommitTimeout bounds side effects that run after a move is persisted.
const postCommitTimeout = 5 * time.Second

// Manager is the game session controller. It holds no game state of its own:
// each call is one read, local computation and at most one conditional write.
type Manager struct {
	store       gamestore.Store
	results     ResultRecorder
	pub         Publisher
	metrics     *metrics.Metrics
	enforceTurn bool
	now         func() time.Time
	newID       func() string
}

type Option func(*Manager)

func WithResultRecorder(r ResultRecorder) Option {
	return func(m *Manager) { m.results = r }
}

func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.pub = p }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithTurnOrder toggles participant and turn checks. Enabled by default.
func WithTurnOrder(enforce bool) Option {
	return func(m *Manager) { m.enforceTurn = enforce }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithIDGenerator(f func() string) Option {
	return func(m *Manager) { m.newID = f }
}

func NewManager(store gamestore.Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("game store required")
	}
	m := &Manager{
		store:       store,
		enforceTurn: true,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) Close() error {
	if m == nil || m.store == nil {
		return nil
	}
	return m.store.Close()
}

// CreateGame persists a new active game at the start position and returns
// its id. Equal ids create a self-play game.
func (m *Manager) CreateGame(ctx context.Context, whiteID, blackID string) (string, error) {
	whiteID, blackID = strings.TrimSpace(whiteID), strings.TrimSpace(blackID)
	if whiteID == "" || blackID == "" {
		return "", ErrInvalidPlayers
	}
	now := m.now()
	g := &gamestore.Game{
		ID:          m.newID(),
		WhitePlayer: whiteID,
		BlackPlayer: blackID,
		FEN:         rules.StartFEN,
		Moves:       []string{},
		MovesUCI:    []string{},
		Status:      gamestore.StatusActive,
		Version:     0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.Insert(ctx, g); err != nil {
		return "", storeErr(err)
	}
	m.metrics.GameCreated()
	obslog.L().Info("game_create",
		zap.String("game_id", g.ID),
		zap.String("white_id", g.WhitePlayer),
		zap.String("black_id", g.BlackPlayer),
	)
	return g.ID, nil
}

// CreateGameFor seats callerID against opponentID. color is the caller's
// side (white, black or random); an empty opponent means self-play.
func (m *Manager) CreateGameFor(ctx context.Context, callerID, opponentID, color string) (string, error) {
	callerID, opponentID = strings.TrimSpace(callerID), strings.TrimSpace(opponentID)
	if opponentID == "" {
		opponentID = callerID
	}
	whiteID, blackID := callerID, opponentID
	switch strings.ToLower(strings.TrimSpace(color)) {
	case "", "white", "w":
	case "black", "b":
		whiteID, blackID = opponentID, callerID
	case "random":
		if n, _ := rand.Int(rand.Reader, big.NewInt(2)); n != nil && n.Int64() == 0 {
			whiteID, blackID = opponentID, callerID
		}
	default:
		return "", fmt.Errorf("%w: unknown color %q", ErrInvalidPlayers, color)
	}
	return m.CreateGame(ctx, whiteID, blackID)
}

// LoadGame returns the stored game or ErrSessionNotFound.
func (m *Manager) LoadGame(ctx context.Context, gameID string) (*gamestore.Game, error) {
	g, err := m.store.Get(ctx, strings.TrimSpace(gameID))
	if err != nil {
		return nil, storeErr(err)
	}
	return g, nil
}

// ListGames returns games where userID plays either side, newest first.
func (m *Manager) ListGames(ctx context.Context, userID string, limit int) ([]*gamestore.Game, error) {
	games, err := m.store.ListByPlayer(ctx, strings.TrimSpace(userID), limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return games, nil
}

// ApplyMove validates notation against the stored position and commits the
// resulting state with a write conditioned on the loaded version. Failures
// leave the stored game untouched.
func (m *Manager) ApplyMove(ctx context.Context, gameID, notation, userID string) (res *MoveResult, err error) {
	defer func() { m.metrics.MoveObserved(Code(err)) }()

	cur, err := m.store.Get(ctx, strings.TrimSpace(gameID))
	if err != nil {
		return nil, storeErr(err)
	}
	if cur.Status != gamestore.StatusActive {
		return nil, ErrGameFinished
	}

	pos, err := rules.ParsePosition(cur.FEN)
	if err != nil {
		return nil, fmt.Errorf("load position of %s: %w", cur.ID, err)
	}
	if err := m.checkTurn(cur, pos, userID); err != nil {
		return nil, err
	}

	mv, err := rules.ParseMove(pos, notation)
	switch {
	case errors.Is(err, rules.ErrMoveSyntax):
		return nil, fmt.Errorf("%w: %q", ErrInvalidMoveSyntax, strings.TrimSpace(notation))
	case errors.Is(err, rules.ErrIllegalMove):
		return nil, fmt.Errorf("%w: %q", ErrIllegalMove, strings.TrimSpace(notation))
	case err != nil:
		return nil, err
	}

	next, outcome, err := rules.Apply(pos, mv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}

	upd := cur.Clone()
	upd.FEN = next.FEN()
	upd.Moves = append(upd.Moves, mv.SAN)
	upd.MovesUCI = append(upd.MovesUCI, mv.UCI)
	upd.Version = cur.Version + 1
	upd.UpdatedAt = m.now()
	if outcome.Over() {
		upd.Status = gamestore.StatusFinished
		upd.ResultMethod = string(outcome.Method)
		if outcome.Checkmate {
			upd.WinnerID = strings.TrimSpace(userID)
		}
	}

	if err := m.store.UpdateIfVersion(ctx, upd, cur.Version); err != nil {
		err = storeErr(err)
		obslog.L().Warn("game_move_rejected",
			zap.String("game_id", cur.ID),
			zap.String("user_id", userID),
			zap.Int64("version", cur.Version),
			zap.Error(err),
		)
		return nil, err
	}

	obslog.L().Info("game_move",
		zap.String("game_id", upd.ID),
		zap.String("user_id", userID),
		zap.String("san", mv.SAN),
		zap.String("uci", mv.UCI),
		zap.Int64("version", upd.Version),
		zap.String("status", string(upd.Status)),
	)

	m.afterCommit(ctx, upd, mv, userID)

	return &MoveResult{
		FEN:         upd.FEN,
		IsCheckmate: outcome.Checkmate,
		IsDraw:      outcome.Draw,
		Status:      upd.Status,
		WinnerID:    upd.WinnerID,
		SAN:         mv.SAN,
		UCI:         mv.UCI,
		MoveCount:   len(upd.Moves),
		Game:        upd,
	}, nil
}

func (m *Manager) checkTurn(g *gamestore.Game, pos *rules.Position, userID string) error {
	if !m.enforceTurn {
		return nil
	}
	userID = strings.TrimSpace(userID)
	color := playerColor(g, userID)
	if color == "" {
		return ErrNotAParticipant
	}
	if g.WhitePlayer == g.BlackPlayer {
		return nil
	}
	if color != pos.Turn() {
		return ErrNotYourTurn
	}
	return nil
}

// afterCommit runs side effects of a committed move. Their failures are
// logged and never reach the caller.
func (m *Manager) afterCommit(ctx context.Context, g *gamestore.Game, mv *rules.Move, userID string) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), postCommitTimeout)
	defer cancel()

	if m.pub != nil {
		ev := chessdto.MoveEvent{
			GameID:       g.ID,
			Ply:          len(g.Moves),
			SAN:          mv.SAN,
			UCI:          mv.UCI,
			FEN:          g.FEN,
			By:           userID,
			Status:       string(g.Status),
			WinnerID:     g.WinnerID,
			ResultMethod: g.ResultMethod,
			At:           g.UpdatedAt,
		}
		if err := m.pub.PublishMove(bg, ev); err != nil {
			obslog.L().Warn("game_publish_error", zap.String("game_id", g.ID), zap.Error(err))
		}
	}

	if g.Status != gamestore.StatusFinished {
		return
	}
	m.metrics.GameFinished(g.ResultMethod)
	obslog.L().Info("game_finish",
		zap.String("game_id", g.ID),
		zap.String("method", g.ResultMethod),
		zap.String("winner_id", g.WinnerID),
		zap.Int("plies", len(g.Moves)),
	)
	if m.results != nil {
		if err := m.results.RecordResult(bg, g); err != nil {
			obslog.L().Error("stats_record_error", zap.String("game_id", g.ID), zap.Error(err))
		}
	}
}

func playerColor(g *gamestore.Game, userID string) rules.Color {
	if userID == "" {
		return ""
	}
	if g.WhitePlayer == userID {
		return rules.White
	}
	if g.BlackPlayer == userID {
		return rules.Black
	}
	return ""
}
