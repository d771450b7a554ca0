package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/park285/cheese-web/internal/auth"
	"github.com/park285/cheese-web/internal/obslog"
	"github.com/park285/cheese-web/internal/pvpchess"
	"github.com/park285/cheese-web/pkg/chessdto"
)

func (s *Server) createGame(c *gin.Context) {
	id := auth.MustIdentity(c)
	var req chessdto.CreateGameRequest
	// the body is optional; an empty one starts a self-play game
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(c, fmt.Errorf("%w: %w", errBadRequest, err), msgData{})
		return
	}
	gameID, err := s.manager.CreateGameFor(c.Request.Context(), id.UserID, req.OpponentID, req.Color)
	if err != nil {
		s.writeError(c, err, msgData{})
		return
	}
	c.JSON(http.StatusOK, chessdto.CreateGameResponse{GameID: gameID})
}

func (s *Server) makeMove(c *gin.Context) {
	id := auth.MustIdentity(c)
	var req chessdto.MakeMoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("%w: %w", errBadRequest, err), msgData{GameID: req.GameID, Move: req.Move})
		return
	}
	res, err := s.manager.ApplyMove(c.Request.Context(), req.GameID, req.Move, id.UserID)
	if err != nil {
		s.writeError(c, err, msgData{GameID: req.GameID, Move: req.Move})
		return
	}
	c.JSON(http.StatusOK, chessdto.MakeMoveResponse{
		FEN:         res.FEN,
		IsCheckmate: res.IsCheckmate,
		IsDraw:      res.IsDraw,
		Status:      string(res.Status),
		WinnerID:    res.WinnerID,
		SAN:         res.SAN,
		MoveCount:   res.MoveCount,
	})
}

func (s *Server) getGame(c *gin.Context) {
	gameID, ok := s.gameIDParam(c)
	if !ok {
		return
	}
	g, err := s.manager.LoadGame(c.Request.Context(), gameID)
	if err != nil {
		s.writeError(c, err, msgData{GameID: gameID})
		return
	}
	c.JSON(http.StatusOK, pvpchess.ToView(g))
}

func (s *Server) listGames(c *gin.Context) {
	id := auth.MustIdentity(c)
	limit := s.history
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(c, fmt.Errorf("%w: limit %q", errBadRequest, v), msgData{})
			return
		}
		limit = n
	}
	games, err := s.manager.ListGames(c.Request.Context(), id.UserID, limit)
	if err != nil {
		s.writeError(c, err, msgData{})
		return
	}
	out := make([]chessdto.GameSummary, 0, len(games))
	for _, g := range games {
		out = append(out, pvpchess.ToSummary(g))
	}
	c.JSON(http.StatusOK, gin.H{"games": out})
}

func (s *Server) dashboard(c *gin.Context) {
	id := auth.MustIdentity(c)
	ctx := c.Request.Context()

	games, err := s.manager.ListGames(ctx, id.UserID, s.history)
	if err != nil {
		s.writeError(c, err, msgData{})
		return
	}
	out := chessdto.Dashboard{
		UserID:       id.UserID,
		Stats:        chessdto.Profile{UserID: id.UserID},
		Achievements: []chessdto.Achievement{},
		Games:        make([]chessdto.GameSummary, 0, len(games)),
	}
	for _, g := range games {
		out.Games = append(out.Games, pvpchess.ToSummary(g))
	}

	if s.stats != nil {
		// stats are secondary: a failure degrades the dashboard instead of failing it
		if p, err := s.stats.Profile(ctx, id.UserID); err != nil {
			obslog.L().Warn("dashboard_stats_error", zap.String("user_id", id.UserID), zap.Error(err))
		} else {
			out.Stats = chessdto.Profile{
				UserID:      p.UserID,
				Rating:      p.Rating,
				GamesPlayed: p.GamesPlayed,
				Wins:        p.Wins,
				Losses:      p.Losses,
				Draws:       p.Draws,
				Streak:      p.Streak,
				StreakType:  p.StreakType,
				UpdatedAt:   p.UpdatedAt,
			}
		}
		if achs, err := s.stats.Achievements(ctx, id.UserID); err != nil {
			obslog.L().Warn("dashboard_achievements_error", zap.String("user_id", id.UserID), zap.Error(err))
		} else {
			for _, a := range achs {
				out.Achievements = append(out.Achievements, chessdto.Achievement{
					ID:          a.ID,
					Title:       a.Title,
					Description: a.Description,
					EarnedAt:    a.EarnedAt,
				})
			}
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) boardPNG(c *gin.Context) {
	gameID, ok := s.gameIDParam(c)
	if !ok {
		return
	}
	id := auth.MustIdentity(c)
	png, err := s.manager.BoardPNG(c.Request.Context(), gameID, id.UserID)
	if err != nil {
		s.writeError(c, err, msgData{GameID: gameID})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) watch(c *gin.Context) {
	gameID, ok := s.gameIDParam(c)
	if !ok {
		return
	}
	if s.watcher == nil {
		s.writeError(c, fmt.Errorf("%w: watch disabled", pvpchess.ErrStoreUnavailable), msgData{GameID: gameID})
		return
	}
	var loadErr error
	err := s.watcher.Serve(c.Writer, c.Request, gameID, func(ctx context.Context) (chessdto.GameView, error) {
		g, err := s.manager.LoadGame(ctx, gameID)
		if err != nil {
			loadErr = err
			return chessdto.GameView{}, err
		}
		return pvpchess.ToView(g), nil
	})
	switch {
	case loadErr != nil:
		s.writeError(c, loadErr, msgData{GameID: gameID})
	case err != nil:
		s.writeError(c, fmt.Errorf("%w: %w", pvpchess.ErrStoreUnavailable, err), msgData{GameID: gameID})
	}
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	result := gin.H{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			result[name] = err.Error()
			continue
		}
		result[name] = "ok"
	}
	result["status"] = http.StatusText(status)
	c.JSON(status, result)
}

func (s *Server) gameIDParam(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		s.writeError(c, fmt.Errorf("%w: missing id", errBadRequest), msgData{})
		return "", false
	}
	return id, true
}
