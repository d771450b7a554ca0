package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/park285/cheese-web/internal/auth"
	"github.com/park285/cheese-web/internal/feed"
	"github.com/park285/cheese-web/internal/gamestore"
	"github.com/park285/cheese-web/internal/metrics"
	"github.com/park285/cheese-web/internal/msgcat"
	"github.com/park285/cheese-web/internal/pvpchess"
	"github.com/park285/cheese-web/internal/stats"
	"github.com/park285/cheese-web/pkg/chessdto"
)

const testSecret = "test-secret-with-enough-length-for-hs256"

type harness struct {
	t      *testing.T
	router *gin.Engine
	jwt    *auth.JWTResolver
	store  gamestore.Store
	srv    *Server
}

func newHarness(t *testing.T, store gamestore.Store) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if store == nil {
		store = gamestore.NewMemoryStore()
	}
	j, err := auth.NewJWTResolver(testSecret)
	if err != nil {
		t.Fatalf("jwt: %v", err)
	}
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	m := metrics.New()
	st := stats.NewService(stats.NewMemoryRepository())
	bus := feed.NewLocalBus()
	mgr, err := pvpchess.NewManager(store,
		pvpchess.WithResultRecorder(st),
		pvpchess.WithPublisher(bus),
		pvpchess.WithMetrics(m),
	)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	r, err := NewRouter(Options{
		Manager:        mgr,
		Stats:          st,
		Watcher:        feed.NewWatcher(bus),
		Auth:           j,
		Messages:       cat,
		Metrics:        m,
		RequestTimeout: 2 * time.Second,
		AllowedOrigins: []string{"https://chess.example.com"},
		Checks:         map[string]func(context.Context) error{"store": func(context.Context) error { return nil }},
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return &harness{t: t, router: r, jwt: j, store: store, srv: &Server{messages: cat}}
}

func (h *harness) do(method, target, user string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		tok, err := h.jwt.Sign(user, time.Hour)
		if err != nil {
			h.t.Fatalf("sign: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func (h *harness) create(user string, body any) string {
	h.t.Helper()
	w := h.do(http.MethodPost, "/api/create_game", user, body)
	if w.Code != http.StatusOK {
		h.t.Fatalf("create_game = %d %s", w.Code, w.Body.String())
	}
	return decode[chessdto.CreateGameResponse](h.t, w).GameID
}

func (h *harness) move(user, gameID, mv string) *httptest.ResponseRecorder {
	h.t.Helper()
	return h.do(http.MethodPost, "/api/make_move", user, chessdto.MakeMoveRequest{GameID: gameID, Move: mv})
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) chessdto.DomainError {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (%s)", w.Code, status, w.Body.String())
	}
	de := decode[chessdto.DomainError](t, w)
	if de.Code != code {
		t.Fatalf("code = %q, want %q", de.Code, code)
	}
	if de.Message == "" {
		t.Fatalf("empty error message for %s", code)
	}
	return de
}

func TestUnauthenticated(t *testing.T) {
	h := newHarness(t, nil)
	for _, target := range []string{"/api/game?id=x", "/api/games", "/api/dashboard", "/api/board.png?id=x", "/api/watch?id=x"} {
		expectError(t, h.do(http.MethodGet, target, "", nil), http.StatusUnauthorized, "unauthenticated")
	}
	expectError(t, h.do(http.MethodPost, "/api/create_game", "", nil), http.StatusUnauthorized, "unauthenticated")
}

func TestWatch_UnknownGameIsNotFound(t *testing.T) {
	h := newHarness(t, nil)
	expectError(t, h.do(http.MethodGet, "/api/watch?id=missing", "alice", nil), http.StatusNotFound, pvpchess.CodeSessionNotFound)
}

func TestCreateGame_SelfPlayByDefault(t *testing.T) {
	h := newHarness(t, nil)
	id := h.create("alice", nil)

	w := h.do(http.MethodGet, "/api/game?id="+id, "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get game = %d %s", w.Code, w.Body.String())
	}
	v := decode[chessdto.GameView](t, w)
	if v.WhitePlayer != "alice" || v.BlackPlayer != "alice" || v.Status != "active" || v.MoveCount != 0 {
		t.Fatalf("view = %+v", v)
	}
	if len(v.LegalMoves) != 20 {
		t.Fatalf("legal moves at start = %d", len(v.LegalMoves))
	}
}

func TestCreateGame_WithOpponent(t *testing.T) {
	h := newHarness(t, nil)
	id := h.create("alice", chessdto.CreateGameRequest{OpponentID: "bob", Color: "black"})
	v := decode[chessdto.GameView](t, h.do(http.MethodGet, "/api/game?id="+id, "alice", nil))
	if v.WhitePlayer != "bob" || v.BlackPlayer != "alice" {
		t.Fatalf("seating = %s/%s", v.WhitePlayer, v.BlackPlayer)
	}

	w := h.do(http.MethodPost, "/api/create_game", "alice", chessdto.CreateGameRequest{OpponentID: "bob", Color: "purple"})
	expectError(t, w, http.StatusBadRequest, pvpchess.CodeBadRequest)
}

func TestMakeMove_Flow(t *testing.T) {
	h := newHarness(t, nil)
	id := h.create("alice", nil)

	w := h.move("alice", id, "e2e4")
	if w.Code != http.StatusOK {
		t.Fatalf("move = %d %s", w.Code, w.Body.String())
	}
	res := decode[chessdto.MakeMoveResponse](t, w)
	if res.SAN != "e4" || res.MoveCount != 1 || res.Status != "active" || res.IsCheckmate || res.IsDraw {
		t.Fatalf("response = %+v", res)
	}
	if !strings.HasPrefix(res.FEN, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b") {
		t.Fatalf("fen = %s", res.FEN)
	}

	de := expectError(t, h.move("alice", id, "z9z9"), http.StatusBadRequest, pvpchess.CodeInvalidMoveSyntax)
	if !strings.Contains(de.Message, "z9z9") {
		t.Fatalf("message does not quote the move: %q", de.Message)
	}
	expectError(t, h.move("alice", id, "e7e4"), http.StatusBadRequest, pvpchess.CodeIllegalMove)
	expectError(t, h.move("alice", "missing", "e5"), http.StatusNotFound, pvpchess.CodeSessionNotFound)
	expectError(t, h.do(http.MethodPost, "/api/make_move", "alice", map[string]string{"game_id": id}), http.StatusBadRequest, pvpchess.CodeBadRequest)

	v := decode[chessdto.GameView](t, h.do(http.MethodGet, "/api/game?id="+id, "alice", nil))
	if v.MoveCount != 1 {
		t.Fatalf("rejected moves mutated the game: %+v", v)
	}
}

func TestMakeMove_TurnsAndParticipants(t *testing.T) {
	h := newHarness(t, nil)
	id := h.create("alice", chessdto.CreateGameRequest{OpponentID: "bob", Color: "white"})

	expectError(t, h.move("bob", id, "e4"), http.StatusConflict, pvpchess.CodeNotYourTurn)
	expectError(t, h.move("mallory", id, "e4"), http.StatusForbidden, pvpchess.CodeNotAParticipant)
	if w := h.move("alice", id, "e4"); w.Code != http.StatusOK {
		t.Fatalf("alice e4 = %d %s", w.Code, w.Body.String())
	}
	if w := h.move("bob", id, "e5"); w.Code != http.StatusOK {
		t.Fatalf("bob e5 = %d %s", w.Code, w.Body.String())
	}
}

func TestMakeMove_CheckmateUpdatesDashboard(t *testing.T) {
	h := newHarness(t, nil)
	id := h.create("alice", chessdto.CreateGameRequest{OpponentID: "bob", Color: "white"})

	seq := []struct{ user, mv string }{
		{"alice", "e4"}, {"bob", "e5"}, {"alice", "Bc4"}, {"bob", "Nc6"},
		{"alice", "Qh5"}, {"bob", "Nf6"}, {"alice", "Qxf7#"},
	}
	var last chessdto.MakeMoveResponse
	for _, s := range seq {
		w := h.move(s.user, id, s.mv)
		if w.Code != http.StatusOK {
			t.Fatalf("%s %s = %d %s", s.user, s.mv, w.Code, w.Body.String())
		}
		last = decode[chessdto.MakeMoveResponse](t, w)
	}
	if !last.IsCheckmate || last.Status != "finished" || last.WinnerID != "alice" || last.MoveCount != 7 {
		t.Fatalf("final = %+v", last)
	}
	expectError(t, h.move("bob", id, "Ke7"), http.StatusConflict, pvpchess.CodeGameFinished)

	dash := decode[chessdto.Dashboard](t, h.do(http.MethodGet, "/api/dashboard", "alice", nil))
	if dash.UserID != "alice" || dash.Stats.Wins != 1 || dash.Stats.Rating <= stats.DefaultRating {
		t.Fatalf("dashboard stats = %+v", dash.Stats)
	}
	if len(dash.Games) != 1 || dash.Games[0].ID != id || dash.Games[0].Status != "finished" {
		t.Fatalf("dashboard games = %+v", dash.Games)
	}
	found := false
	for _, a := range dash.Achievements {
		found = found || a.ID == stats.AchScholarsMate
	}
	if !found {
		t.Fatalf("missing scholar achievement: %+v", dash.Achievements)
	}

	bob := decode[chessdto.Dashboard](t, h.do(http.MethodGet, "/api/dashboard", "bob", nil))
	if bob.Stats.Losses != 1 {
		t.Fatalf("bob stats = %+v", bob.Stats)
	}
}

func TestListGames(t *testing.T) {
	h := newHarness(t, nil)
	h.create("alice", nil)
	h.create("alice", chessdto.CreateGameRequest{OpponentID: "bob"})
	h.create("carol", nil)

	w := h.do(http.MethodGet, "/api/games?limit=10", "alice", nil)
	out := decode[struct {
		Games []chessdto.GameSummary `json:"games"`
	}](t, w)
	if len(out.Games) != 2 {
		t.Fatalf("alice games = %+v", out.Games)
	}
	expectError(t, h.do(http.MethodGet, "/api/games?limit=abc", "alice", nil), http.StatusBadRequest, pvpchess.CodeBadRequest)
}

func TestBoardPNG(t *testing.T) {
	h := newHarness(t, nil)
	id := h.create("alice", nil)
	h.move("alice", id, "e4")

	w := h.do(http.MethodGet, "/api/board.png?id="+id, "alice", nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("board = %d %q", w.Code, w.Header().Get("Content-Type"))
	}
	if _, err := png.Decode(bytes.NewReader(w.Body.Bytes())); err != nil {
		t.Fatalf("invalid png: %v", err)
	}
	expectError(t, h.do(http.MethodGet, "/api/board.png", "alice", nil), http.StatusBadRequest, pvpchess.CodeBadRequest)
}

func TestHealthzAndMetrics(t *testing.T) {
	h := newHarness(t, nil)
	w := h.do(http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"store":"ok"`) {
		t.Fatalf("healthz = %d %s", w.Code, w.Body.String())
	}

	id := h.create("alice", nil)
	h.move("alice", id, "e4")
	w = h.do(http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "chess_moves_total") {
		t.Fatalf("metrics = %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	h := newHarness(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/make_move", nil)
	req.Header.Set("Origin", "https://chess.example.com")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "https://chess.example.com" {
		t.Fatalf("preflight = %d %v", w.Code, w.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	w = httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("disallowed origin reflected")
	}
}

type conflictStore struct{ gamestore.Store }

func (conflictStore) UpdateIfVersion(context.Context, *gamestore.Game, int64) error {
	return gamestore.ErrVersionConflict
}

func TestMakeMove_ConflictIsRetryable(t *testing.T) {
	h := newHarness(t, conflictStore{gamestore.NewMemoryStore()})
	id := h.create("alice", nil)
	de := expectError(t, h.move("alice", id, "e4"), http.StatusConflict, pvpchess.CodeConcurrentModification)
	if !de.Retryable {
		t.Fatal("conflict should be retryable")
	}
}

type downStore struct{ gamestore.Store }

func (downStore) Get(context.Context, string) (*gamestore.Game, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestStoreDown(t *testing.T) {
	h := newHarness(t, downStore{gamestore.NewMemoryStore()})
	de := expectError(t, h.move("alice", "g1", "e4"), http.StatusServiceUnavailable, pvpchess.CodeStoreUnavailable)
	if !de.Retryable {
		t.Fatal("store outage should be retryable")
	}
}

func TestStatusMapping(t *testing.T) {
	h := newHarness(t, nil)
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{auth.ErrUnauthenticated, 401, "unauthenticated"},
		{pvpchess.ErrSessionNotFound, 404, pvpchess.CodeSessionNotFound},
		{pvpchess.ErrGameFinished, 409, pvpchess.CodeGameFinished},
		{pvpchess.ErrInvalidMoveSyntax, 400, pvpchess.CodeInvalidMoveSyntax},
		{pvpchess.ErrIllegalMove, 400, pvpchess.CodeIllegalMove},
		{pvpchess.ErrNotYourTurn, 409, pvpchess.CodeNotYourTurn},
		{pvpchess.ErrNotAParticipant, 403, pvpchess.CodeNotAParticipant},
		{pvpchess.ErrConcurrentModification, 409, pvpchess.CodeConcurrentModification},
		{pvpchess.ErrStoreUnavailable, 503, pvpchess.CodeStoreUnavailable},
		{errBadRequest, 400, pvpchess.CodeBadRequest},
		{errors.New("boom"), 500, pvpchess.CodeInternal},
	}
	for _, c := range cases {
		status, de := h.srv.domainError(c.err, msgData{GameID: "g1", Move: "e4"})
		if status != c.status || de.Code != c.code {
			t.Errorf("%v: got %d/%s, want %d/%s", c.err, status, de.Code, c.status, c.code)
		}
	}
}

type brokenResolver struct{}

func (brokenResolver) Resolve(context.Context, *http.Request) (auth.Identity, error) {
	return auth.Identity{}, errors.New("redis: connection refused")
}

func TestIdentityBackendDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mgr, _ := pvpchess.NewManager(gamestore.NewMemoryStore())
	cat, _ := msgcat.New("")
	r, err := NewRouter(Options{Manager: mgr, Auth: brokenResolver{}, Messages: cat})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/games", nil))
	expectError(t, w, http.StatusServiceUnavailable, pvpchess.CodeStoreUnavailable)
}
