// Package chessbuilder wires the game service from configuration.
package chessbuilder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-web/internal/auth"
	"github.com/park285/cheese-web/internal/config"
	"github.com/park285/cheese-web/internal/feed"
	"github.com/park285/cheese-web/internal/gamestore"
	"github.com/park285/cheese-web/internal/metrics"
	"github.com/park285/cheese-web/internal/msgcat"
	"github.com/park285/cheese-web/internal/obslog"
	"github.com/park285/cheese-web/internal/pvpchess"
	"github.com/park285/cheese-web/internal/stats"
	"github.com/park285/cheese-web/internal/supabase"
)

type Deps struct {
	Config   *config.AppConfig
	Metrics  *metrics.Metrics
	Store    gamestore.Store
	Manager  *pvpchess.Manager
	Stats    *stats.Service
	Bus      feed.Bus
	Watcher  *feed.Watcher
	Auth     auth.Resolver
	JWT      *auth.JWTResolver
	Sessions *auth.SessionStore
	Messages *msgcat.Catalog

	// Checks are run by /healthz.
	Checks map[string]func(context.Context) error

	// clients are shared between components and closed once here rather
	// than through each component.
	closers []func() error
}

// New connects to every configured backend. On error, anything already
// opened is closed.
func New(ctx context.Context, cfg *config.AppConfig) (_ *Deps, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	log := obslog.L()
	d := &Deps{Config: cfg, Metrics: metrics.New(), Checks: map[string]func(context.Context) error{}}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	d.Messages, err = msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		if rdb, err = OpenRedis(ctx, cfg.RedisURL); err != nil {
			return nil, err
		}
		d.closers = append(d.closers, rdb.Close)
		d.Checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		if db, err = OpenPostgres(ctx, cfg.DatabaseURL); err != nil {
			return nil, err
		}
		d.closers = append(d.closers, db.Close)
		d.Checks["postgres"] = db.PingContext
	}

	var sb *supabase.Client
	if cfg.GameStore == config.StorePostgREST {
		sb = supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey,
			supabase.WithTimeout(cfg.RequestTimeout),
			supabase.WithMaxConnsPerHost(32),
			supabase.WithRetry(2),
		)
	}

	var store gamestore.Store
	switch cfg.GameStore {
	case config.StorePostgREST:
		store = gamestore.NewPostgRESTStore(sb)
	case config.StorePostgres:
		store = gamestore.NewPostgresStore(db)
	case config.StoreRedis:
		store = gamestore.NewRedisStore(rdb, gamestore.WithTTL(cfg.GameTTL))
	case config.StoreMemory:
		log.Warn("game_store_memory", zap.String("hint", "games are lost on restart"))
		store = gamestore.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown game store %q", cfg.GameStore)
	}
	d.Store = d.Metrics.InstrumentStore(store)

	d.Stats = stats.NewService(statsRepository(db, sb))

	if rdb != nil {
		d.Bus = feed.NewRedisBus(rdb)
	} else {
		d.Bus = feed.NewLocalBus()
	}
	d.Watcher = feed.NewWatcher(d.Bus, feed.WithMetrics(d.Metrics), feed.WithOriginPatterns(originHosts(cfg.AllowedOrigins)...))

	var resolvers []auth.Resolver
	if cfg.SupabaseJWTSecret != "" {
		var opts []auth.JWTOption
		if cfg.JWTAudience != "" {
			opts = append(opts, auth.WithAudience(cfg.JWTAudience))
		}
		if d.JWT, err = auth.NewJWTResolver(cfg.SupabaseJWTSecret, opts...); err != nil {
			return nil, err
		}
		resolvers = append(resolvers, d.JWT)
	}
	if rdb != nil {
		d.Sessions = auth.NewSessionStore(rdb, auth.WithCookieName(cfg.SessionCookie))
		resolvers = append(resolvers, d.Sessions)
	}
	if len(resolvers) == 0 {
		return nil, errors.New("no identity source configured")
	}
	d.Auth = auth.Chain(resolvers...)

	d.Manager, err = pvpchess.NewManager(d.Store,
		pvpchess.WithResultRecorder(d.Stats),
		pvpchess.WithPublisher(d.Bus),
		pvpchess.WithMetrics(d.Metrics),
		pvpchess.WithTurnOrder(cfg.EnforceTurnOrder),
	)
	if err != nil {
		return nil, err
	}

	log.Info("deps_ready",
		zap.String("game_store", cfg.GameStore),
		zap.Bool("redis", rdb != nil),
		zap.Bool("postgres", db != nil),
		zap.Bool("turn_order", cfg.EnforceTurnOrder),
	)
	return d, nil
}

// statsRepository prefers a direct database connection, then the Supabase
// REST API, and keeps stats in memory only when neither is configured.
func statsRepository(db *sql.DB, sb *supabase.Client) stats.Repository {
	switch {
	case db != nil:
		return stats.NewRepository(db)
	case sb != nil:
		return stats.NewPostgRESTRepository(sb)
	default:
		obslog.L().Warn("stats_store_memory", zap.String("hint", "ratings are lost on restart"))
		return stats.NewMemoryRepository()
	}
}

// Close releases shared clients in reverse order of opening.
func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// originHosts strips the scheme from CORS origins; websocket origin checks
// match on host only.
func originHosts(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		if o = strings.TrimRight(o, "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// OpenPostgres opens a pooled lib/pq connection and verifies it.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// OpenRedis parses a redis:// or rediss:// URL and verifies the connection.
func OpenRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Migrate applies the games and stats schemas to DATABASE_URL. The PostgREST
// backend reads the same games table, so it is migrated the same way.
func Migrate(ctx context.Context, cfg *config.AppConfig) error {
	if cfg.DatabaseURL == "" {
		return errors.New("migrate requires DATABASE_URL")
	}
	db, err := OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := gamestore.NewPostgresStore(db).Migrate(ctx); err != nil {
		return err
	}
	if err := stats.Migrate(ctx, db); err != nil {
		return err
	}
	obslog.L().Info("migrate_done")
	return nil
}
