package stats

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-web/internal/gamestore"
)

var scholars = []string{"e4", "e5", "Bc4", "Nc6", "Qh5", "Nf6", "Qxf7#"}

func finished(id, white, black, winner, method string, moves []string) *gamestore.Game {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &gamestore.Game{
		ID:           id,
		WhitePlayer:  white,
		BlackPlayer:  black,
		Moves:        moves,
		MovesUCI:     make([]string, len(moves)),
		Status:       gamestore.StatusFinished,
		WinnerID:     winner,
		ResultMethod: method,
		CreatedAt:    start,
		UpdatedAt:    start.Add(3 * time.Minute),
	}
}

func hasAchievement(list []Achievement, id string) bool {
	for _, a := range list {
		if a.ID == id {
			return true
		}
	}
	return false
}

func TestRecordResult_CheckmateUpdatesBothPlayers(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryRepository())

	if err := svc.RecordResult(ctx, finished("g1", "alice", "bob", "alice", "checkmate", scholars)); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}

	w, err := svc.Profile(ctx, "alice")
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if w.Rating != 1212 || w.Wins != 1 || w.GamesPlayed != 1 || w.Streak != 1 || w.StreakType != resultWin {
		t.Fatalf("white profile = %+v", w)
	}
	b, _ := svc.Profile(ctx, "bob")
	if b.Rating != 1188 || b.Losses != 1 || b.StreakType != resultLoss {
		t.Fatalf("black profile = %+v", b)
	}

	achs, _ := svc.Achievements(ctx, "alice")
	for _, id := range []string{AchFirstGame, AchFirstWin, AchScholarsMate} {
		if !hasAchievement(achs, id) {
			t.Errorf("alice missing %s: %+v", id, achs)
		}
	}
	lost, _ := svc.Achievements(ctx, "bob")
	if hasAchievement(lost, AchFirstWin) || !hasAchievement(lost, AchFirstGame) {
		t.Fatalf("bob achievements = %+v", lost)
	}
}

func TestRecordResult_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryRepository())
	g := finished("g1", "alice", "bob", "alice", "checkmate", scholars)

	for i := 0; i < 3; i++ {
		if err := svc.RecordResult(ctx, g); err != nil {
			t.Fatalf("RecordResult #%d: %v", i, err)
		}
	}
	w, _ := svc.Profile(ctx, "alice")
	if w.GamesPlayed != 1 || w.Rating != 1212 {
		t.Fatalf("duplicate result applied: %+v", w)
	}
}

func TestRecordResult_IgnoresActiveGames(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryRepository())
	g := finished("g1", "alice", "bob", "", "", []string{"e4"})
	g.Status = gamestore.StatusActive

	if err := svc.RecordResult(ctx, g); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
	p, _ := svc.Profile(ctx, "alice")
	if p.GamesPlayed != 0 || p.Rating != DefaultRating {
		t.Fatalf("active game counted: %+v", p)
	}
}

func TestRecordResult_Stalemate(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryRepository())

	// Odd ply count: white delivered the stalemate.
	if err := svc.RecordResult(ctx, finished("g1", "alice", "bob", "", "stalemate", []string{"Qc7"})); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
	a, _ := svc.Profile(ctx, "alice")
	b, _ := svc.Profile(ctx, "bob")
	if a.Draws != 1 || b.Draws != 1 || a.Rating != DefaultRating || b.Rating != DefaultRating {
		t.Fatalf("draw profiles: %+v / %+v", a, b)
	}
	if achs, _ := svc.Achievements(ctx, "alice"); !hasAchievement(achs, AchStalemateArtist) {
		t.Fatalf("alice should be a stalemate artist: %+v", achs)
	}
	if achs, _ := svc.Achievements(ctx, "bob"); hasAchievement(achs, AchStalemateArtist) {
		t.Fatalf("bob should not be a stalemate artist: %+v", achs)
	}
}

func TestRecordResult_SelfPlayCountsGameOnly(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryRepository())

	if err := svc.RecordResult(ctx, finished("g1", "solo", "solo", "solo", "checkmate", scholars)); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
	p, _ := svc.Profile(ctx, "solo")
	if p.GamesPlayed != 1 || p.Wins != 0 || p.Losses != 0 || p.Rating != DefaultRating {
		t.Fatalf("self-play profile = %+v", p)
	}
	achs, _ := svc.Achievements(ctx, "solo")
	if !hasAchievement(achs, AchFirstGame) || hasAchievement(achs, AchFirstWin) {
		t.Fatalf("self-play achievements = %+v", achs)
	}
}

func TestRecordResult_WinStreak(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryRepository())

	for i, id := range []string{"g1", "g2", "g3"} {
		if err := svc.RecordResult(ctx, finished(id, "alice", "bob", "alice", "checkmate", scholars)); err != nil {
			t.Fatalf("RecordResult #%d: %v", i, err)
		}
	}
	p, _ := svc.Profile(ctx, "alice")
	if p.Streak != 3 || p.Wins != 3 {
		t.Fatalf("streak profile = %+v", p)
	}
	achs, _ := svc.Achievements(ctx, "alice")
	if !hasAchievement(achs, AchWinStreak3) {
		t.Fatalf("missing streak achievement: %+v", achs)
	}
	// Granted once each regardless of repeats.
	seen := map[string]int{}
	for _, a := range achs {
		seen[a.ID]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("%s granted %d times", id, n)
		}
	}
}

// faultyRepo injects failures into the units of an underlying repository.
type faultyRepo struct {
	Repository

	mu         sync.Mutex
	failInsert error
	failUpsert int // fail the Nth UpsertProfile of the next unit, 1-based
	conflicts  int // units rejected with ErrProfileConflict before delegating
	lockDelay  time.Duration
	units      int
}

func (f *faultyRepo) WithinTx(ctx context.Context, fn func(tx Tx) error) ([]Grant, error) {
	f.mu.Lock()
	f.units++
	tx := &faultyTx{failInsert: f.failInsert, failUpsert: f.failUpsert, lockDelay: f.lockDelay}
	f.failUpsert = 0
	conflict := f.conflicts > 0
	if conflict {
		f.conflicts--
	}
	f.mu.Unlock()

	return f.Repository.WithinTx(ctx, func(inner Tx) error {
		tx.Tx = inner
		if err := fn(tx); err != nil {
			return err
		}
		if conflict {
			return ErrProfileConflict
		}
		return nil
	})
}

type faultyTx struct {
	Tx

	failInsert error
	failUpsert int
	lockDelay  time.Duration
	upserts    int
}

func (t *faultyTx) InsertGame(ctx context.Context, g *ArchivedGame) error {
	if t.failInsert != nil {
		return t.failInsert
	}
	return t.Tx.InsertGame(ctx, g)
}

func (t *faultyTx) LockProfile(ctx context.Context, userID string) (*Profile, error) {
	time.Sleep(t.lockDelay)
	return t.Tx.LockProfile(ctx, userID)
}

func (t *faultyTx) UpsertProfile(ctx context.Context, p *Profile) error {
	t.upserts++
	if t.upserts == t.failUpsert {
		return errors.New("connection reset")
	}
	return t.Tx.UpsertProfile(ctx, p)
}

func TestRecordResult_ArchiveFailure(t *testing.T) {
	ctx := context.Background()
	repo := &faultyRepo{Repository: NewMemoryRepository(), failInsert: errors.New("db down")}
	svc := NewService(repo)
	err := svc.RecordResult(ctx, finished("g1", "alice", "bob", "alice", "checkmate", scholars))
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("want archive error, got %v", err)
	}
	if p, _ := svc.Profile(ctx, "alice"); p.GamesPlayed != 0 {
		t.Fatalf("profile written despite failed archive: %+v", p)
	}
}

func TestRecordResult_FailedUnitLeavesNothingAndRetries(t *testing.T) {
	ctx := context.Background()
	repo := &faultyRepo{Repository: NewMemoryRepository(), failUpsert: 2}
	svc := NewService(repo)
	g := finished("g1", "alice", "bob", "alice", "checkmate", scholars)

	if err := svc.RecordResult(ctx, g); err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("want upsert error, got %v", err)
	}
	a, _ := svc.Profile(ctx, "alice")
	b, _ := svc.Profile(ctx, "bob")
	if a.GamesPlayed != 0 || b.GamesPlayed != 0 {
		t.Fatalf("partial unit committed: %+v / %+v", a, b)
	}
	if achs, _ := svc.Achievements(ctx, "alice"); len(achs) != 0 {
		t.Fatalf("achievements committed from failed unit: %+v", achs)
	}

	// The archive row rolled back too, so the retry is not treated as a duplicate.
	if err := svc.RecordResult(ctx, g); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if err := svc.RecordResult(ctx, g); err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	a, _ = svc.Profile(ctx, "alice")
	b, _ = svc.Profile(ctx, "bob")
	if a.GamesPlayed != 1 || a.Wins != 1 || b.Losses != 1 {
		t.Fatalf("result not applied exactly once: %+v / %+v", a, b)
	}
}

func TestRecordResult_ConcurrentResultsForSharedPlayer(t *testing.T) {
	ctx := context.Background()
	repo := &faultyRepo{Repository: NewMemoryRepository(), lockDelay: 20 * time.Millisecond}
	svc := NewService(repo)

	games := []*gamestore.Game{
		finished("g1", "alice", "bob", "alice", "checkmate", scholars),
		finished("g2", "alice", "carol", "alice", "checkmate", scholars),
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(games))
	for _, g := range games {
		wg.Add(1)
		go func(g *gamestore.Game) {
			defer wg.Done()
			errs <- svc.RecordResult(ctx, g)
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("RecordResult: %v", err)
		}
	}

	a, _ := svc.Profile(ctx, "alice")
	if a.GamesPlayed != 2 || a.Wins != 2 || a.Streak != 2 {
		t.Fatalf("lost update on shared player: %+v", a)
	}
	if a.Version != 2 {
		t.Fatalf("version = %d, want 2", a.Version)
	}
}

func TestRecordResult_RetriesProfileConflict(t *testing.T) {
	ctx := context.Background()
	repo := &faultyRepo{Repository: NewMemoryRepository(), conflicts: 2}
	svc := NewService(repo)

	if err := svc.RecordResult(ctx, finished("g1", "alice", "bob", "alice", "checkmate", scholars)); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
	if repo.units != 3 {
		t.Fatalf("units = %d, want 3", repo.units)
	}
	if a, _ := svc.Profile(ctx, "alice"); a.GamesPlayed != 1 {
		t.Fatalf("profile = %+v", a)
	}
}

func TestRecordResult_GivesUpAfterRepeatedConflicts(t *testing.T) {
	repo := &faultyRepo{Repository: NewMemoryRepository(), conflicts: maxRecordAttempts}
	svc := NewService(repo)

	err := svc.RecordResult(context.Background(), finished("g1", "alice", "bob", "alice", "checkmate", scholars))
	if !errors.Is(err, ErrProfileConflict) {
		t.Fatalf("want ErrProfileConflict, got %v", err)
	}
	if repo.units != maxRecordAttempts {
		t.Fatalf("units = %d", repo.units)
	}
}

func TestApplyGameResult_Expected(t *testing.T) {
	at := time.Now()
	p := newProfile("u", at)
	p.Rating = 1400
	if delta := applyGameResult(p, 1, 1000, at); delta != 2 {
		t.Fatalf("favourite win delta = %d, want 2", delta)
	}
	q := newProfile("v", at)
	q.Rating = 1000
	if delta := applyGameResult(q, 1, 1400, at); delta != 22 {
		t.Fatalf("underdog win delta = %d, want 22", delta)
	}
}

func TestBuildPGN_ParsesBack(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	a := svc.archiveOf(finished("g1", "alice", "b\"ob", "alice", "checkmate", scholars))

	if a.Result != "1-0" {
		t.Fatalf("result = %q", a.Result)
	}
	if !strings.Contains(a.PGN, `[Black "b'ob"]`) {
		t.Fatalf("black tag not sanitized:\n%s", a.PGN)
	}
	if !strings.HasSuffix(a.PGN, "4. Qxf7# 1-0") {
		t.Fatalf("movetext:\n%s", a.PGN)
	}

	opt, err := nchess.PGN(strings.NewReader(a.PGN))
	if err != nil {
		t.Fatalf("parse pgn: %v", err)
	}
	g := nchess.NewGame(opt)
	if g.Outcome() != nchess.WhiteWon || g.Method() != nchess.Checkmate {
		t.Fatalf("parsed outcome %s by %s", g.Outcome(), g.Method())
	}
}

func TestPGNResult(t *testing.T) {
	cases := []struct {
		method string
		plies  int
		want   string
	}{
		{"", 4, "*"},
		{"checkmate", 7, "1-0"},
		{"checkmate", 4, "0-1"},
		{"stalemate", 9, "1/2-1/2"},
		{"insufficient_material", 30, "1/2-1/2"},
	}
	for _, c := range cases {
		if got := pgnResult(c.method, c.plies); got != c.want {
			t.Errorf("pgnResult(%q, %d) = %q, want %q", c.method, c.plies, got, c.want)
		}
	}
}
