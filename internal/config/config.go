package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgREST = "postgrest"
	StorePostgres  = "postgres"
	StoreRedis     = "redis"
	StoreMemory    = "memory"
)

type AppConfig struct {
	HTTPAddr string

	// GameStore selects the game backend. Inferred from the configured
	// connection settings when unset.
	GameStore string

	SupabaseURL       string
	SupabaseKey       string
	SupabaseJWTSecret string
	JWTAudience       string

	DatabaseURL string
	RedisURL    string

	EnforceTurnOrder bool
	RequestTimeout   time.Duration
	GameHistoryLimit int
	GameTTL          time.Duration

	MessagesDir    string
	SessionCookie  string
	AllowedOrigins []string
}

// Load reads an optional .env file and then the process environment.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the config from the process environment only.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:         ":5000",
		EnforceTurnOrder: true,
		RequestTimeout:   10 * time.Second,
		GameHistoryLimit: 20,
		SessionCookie:    "session",
	}

	if v := env("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	} else if v := env("PORT"); v != "" {
		cfg.HTTPAddr = ":" + v
	}

	cfg.SupabaseURL = strings.TrimRight(env("SUPABASE_URL"), "/")
	cfg.SupabaseKey = env("SUPABASE_KEY")
	cfg.SupabaseJWTSecret = env("SUPABASE_JWT_SECRET")
	cfg.JWTAudience = env("JWT_AUDIENCE")
	cfg.DatabaseURL = env("DATABASE_URL")
	cfg.RedisURL = env("REDIS_URL")
	cfg.MessagesDir = env("MESSAGES_DIR")
	if v := env("SESSION_COOKIE"); v != "" {
		cfg.SessionCookie = v
	}
	cfg.AllowedOrigins = splitList(env("ALLOWED_ORIGINS"))

	if v := env("ENFORCE_TURN_ORDER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("ENFORCE_TURN_ORDER: %w", err)
		}
		cfg.EnforceTurnOrder = b
	}
	if v := env("REQUEST_TIMEOUT_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("REQUEST_TIMEOUT_SEC must be a positive integer, got %q", v)
		}
		cfg.RequestTimeout = time.Duration(n) * time.Second
	}
	if v := env("GAME_HISTORY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("GAME_HISTORY_LIMIT must be a positive integer, got %q", v)
		}
		cfg.GameHistoryLimit = n
	}
	if v := env("GAME_TTL_SEC"); v != "" { // redis backend only; 0 keeps games forever
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("GAME_TTL_SEC must be a non-negative integer, got %q", v)
		}
		cfg.GameTTL = time.Duration(n) * time.Second
	}

	cfg.GameStore = strings.ToLower(env("GAME_STORE"))
	if cfg.GameStore == "" {
		cfg.GameStore = inferStore(cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func inferStore(cfg *AppConfig) string {
	switch {
	case cfg.SupabaseURL != "":
		return StorePostgREST
	case cfg.DatabaseURL != "":
		return StorePostgres
	case cfg.RedisURL != "":
		return StoreRedis
	default:
		return StoreMemory
	}
}

func (c *AppConfig) validate() error {
	switch c.GameStore {
	case StorePostgREST:
		if c.SupabaseURL == "" || c.SupabaseKey == "" {
			return errors.New("GAME_STORE=postgrest requires SUPABASE_URL and SUPABASE_KEY")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("GAME_STORE=postgres requires DATABASE_URL")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("GAME_STORE=redis requires REDIS_URL")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown GAME_STORE %q", c.GameStore)
	}
	if c.SupabaseJWTSecret == "" && c.RedisURL == "" {
		return errors.New("no identity source: set SUPABASE_JWT_SECRET or REDIS_URL")
	}
	return nil
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
