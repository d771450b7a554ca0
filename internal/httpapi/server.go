// Package httpapi exposes the game service over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/park285/cheese-web/internal/auth"
	"github.com/park285/cheese-web/internal/feed"
	"github.com/park285/cheese-web/internal/metrics"
	"github.com/park285/cheese-web/internal/msgcat"
	"github.com/park285/cheese-web/internal/obslog"
	"github.com/park285/cheese-web/internal/pvpchess"
	"github.com/park285/cheese-web/internal/stats"
)

type Options struct {
	Manager  *pvpchess.Manager
	Stats    *stats.Service
	Watcher  *feed.Watcher
	Auth     auth.Resolver
	Messages *msgcat.Catalog
	Metrics  *metrics.Metrics

	RequestTimeout time.Duration
	HistoryLimit   int
	AllowedOrigins []string
	Checks         map[string]func(context.Context) error
}

type Server struct {
	manager  *pvpchess.Manager
	stats    *stats.Service
	watcher  *feed.Watcher
	messages *msgcat.Catalog
	checks   map[string]func(context.Context) error
	history  int
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(o Options) (*gin.Engine, error) {
	if o.Manager == nil || o.Auth == nil {
		return nil, errors.New("httpapi: manager and auth resolver are required")
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 20
	}
	s := &Server{
		manager:  o.Manager,
		stats:    o.Stats,
		watcher:  o.Watcher,
		messages: o.Messages,
		checks:   o.Checks,
		history:  o.HistoryLimit,
	}

	r := gin.New()
	r.Use(accessLog(), s.recovery(), cors(o.AllowedOrigins))

	r.GET("/healthz", s.healthz)
	if o.Metrics != nil {
		r.GET("/metrics", gin.WrapH(o.Metrics.Handler()))
	}

	authed := r.Group("/api", auth.Middleware(o.Auth, s.deny))
	// the watch socket outlives any request deadline
	authed.GET("/watch", s.watch)

	api := authed.Group("", timeout(o.RequestTimeout))
	api.POST("/create_game", s.createGame)
	api.POST("/make_move", s.makeMove)
	api.GET("/game", s.getGame)
	api.GET("/games", s.listGames)
	api.GET("/dashboard", s.dashboard)
	api.GET("/board.png", s.boardPNG)
	return r, nil
}

func (s *Server) deny(c *gin.Context, err error) {
	if !errors.Is(err, auth.ErrUnauthenticated) {
		err = fmt.Errorf("%w: %w", errResolveIdent, err)
	}
	s.writeError(c, err, msgData{})
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		obslog.L().Error("http_panic", zap.String("path", c.Request.URL.Path), zap.Any("panic", rec), zap.Stack("stack"))
		s.writeError(c, fmt.Errorf("panic: %v", rec), msgData{})
	})
}

// accessLog writes one event per request after the handler chain finished.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if id, ok := auth.FromContext(c.Request.Context()); ok {
			fields = append(fields, zap.String("user_id", id.UserID))
		}
		log := obslog.L()
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Warn("http_request", fields...)
		case c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics":
			log.Debug("http_request", fields...)
		default:
			log.Info("http_request", fields...)
		}
	}
}

// timeout bounds the request context; handlers pass it to every store call.
func timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// cors reflects allowed origins. An empty list allows none.
func cors(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			wildcard = true
		}
		set[o] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			if _, ok := set[origin]; ok || wildcard {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Session-Id")
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Add("Vary", "Origin")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
