package gamestore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

var (
	updateGameSQL = regexp.QuoteMeta(`UPDATE games SET`)
	gameExistsSQL = regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM games WHERE id = $1)`)
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})
	return NewPostgresStore(db), mock
}

func updateArgs(g *Game, expected int64) []any {
	args := []any{g.ID, expected}
	for i := 0; i < 8; i++ {
		args = append(args, sqlmock.AnyArg())
	}
	return args
}

func TestPostgresStore_UpdateIfVersion(t *testing.T) {
	ctx := context.Background()
	g := newGame("g1", "alice", "bob", time.Now())
	g.Version = 4

	cases := []struct {
		name     string
		affected int64
		exists   *bool
		want     error
	}{
		{name: "applied", affected: 1},
		{name: "stale version", exists: ptr(true), want: ErrVersionConflict},
		{name: "missing row", exists: ptr(false), want: ErrNotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s, mock := newMockPostgresStore(t)
			mock.ExpectExec(updateGameSQL).
				WithArgs(updateArgs(g, 3)...).
				WillReturnResult(sqlmock.NewResult(0, c.affected))
			if c.exists != nil {
				mock.ExpectQuery(gameExistsSQL).
					WithArgs("g1").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(*c.exists))
			}
			err := s.UpdateIfVersion(ctx, g, 3)
			if !errors.Is(err, c.want) || (c.want == nil && err != nil) {
				t.Fatalf("UpdateIfVersion = %v, want %v", err, c.want)
			}
		})
	}
}

func TestPostgresStore_UpdateIfVersionExecError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	boom := errors.New("connection refused")
	mock.ExpectExec(updateGameSQL).WillReturnError(boom)

	err := s.UpdateIfVersion(context.Background(), newGame("g1", "a", "b", time.Now()), 0)
	if !errors.Is(err, boom) || errors.Is(err, ErrVersionConflict) {
		t.Fatalf("UpdateIfVersion = %v", err)
	}
}

func TestPostgresStore_InsertDuplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO games`)).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	err := s.Insert(context.Background(), newGame("g1", "a", "b", time.Now()))
	if !errors.Is(err, ErrExists) {
		t.Fatalf("Insert = %v, want ErrExists", err)
	}
}

func TestPostgresStore_GetMissing(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM games WHERE id = $1`)).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_GetScansRow(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "white_player", "black_player", "fen", "moves", "moves_uci", "status",
		"winner_id", "result_method", "version", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta(`FROM games WHERE id = $1`)).
		WithArgs("g1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"g1", "alice", "bob", startFEN, []byte(`["e4"]`), []byte(`["e2e4"]`), "finished",
			"alice", "resignation", int64(2), at, at,
		))

	g, err := s.Get(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if g.Status != StatusFinished || g.WinnerID != "alice" || g.Version != 2 || len(g.MovesUCI) != 1 {
		t.Fatalf("game = %+v", g)
	}
}

func ptr[T any](v T) *T { return &v }
