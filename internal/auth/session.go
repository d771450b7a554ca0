package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultSessionCookie = "session"

// Session is the server-side record behind an opaque session id.
type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore keeps sessions in Redis under session:<id> with a TTL equal
// to the remaining lifetime.
type SessionStore struct {
	rdb    *redis.Client
	prefix string
	cookie string
}

type SessionOption func(*SessionStore)

func WithCookieName(name string) SessionOption {
	return func(s *SessionStore) {
		if strings.TrimSpace(name) != "" {
			s.cookie = name
		}
	}
}

func NewSessionStore(rdb *redis.Client, opts ...SessionOption) *SessionStore {
	s := &SessionStore{rdb: rdb, prefix: "session:", cookie: DefaultSessionCookie}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *SessionStore) key(id string) string { return s.prefix + id }

// Create opens a session for userID and returns it.
func (s *SessionStore) Create(ctx context.Context, userID string, ttl time.Duration) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("session: empty user id")
	}
	if ttl <= 0 {
		return nil, errors.New("session: ttl must be positive")
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("session: id: %w", err)
	}
	sess := &Session{
		SessionID: base64.RawURLEncoding.EncodeToString(buf),
		UserID:    userID,
		ExpiresAt: time.Now().Add(ttl),
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("session: marshal: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(sess.SessionID), raw, ttl).Err(); err != nil {
		return nil, fmt.Errorf("session: save: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, s.key(sessionID)).Err()
}

// Resolve reads the session id from the cookie, or from the X-Session-Id
// header for non-browser clients.
func (s *SessionStore) Resolve(ctx context.Context, r *http.Request) (Identity, error) {
	id := strings.TrimSpace(r.Header.Get("X-Session-Id"))
	if c, err := r.Cookie(s.cookie); err == nil && c.Value != "" {
		id = c.Value
	}
	if id == "" {
		return Identity{}, ErrUnauthenticated
	}

	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Identity{}, ErrUnauthenticated
	}
	if err != nil {
		return Identity{}, fmt.Errorf("session: load: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Identity{}, fmt.Errorf("session: unmarshal: %w", err)
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = s.Delete(ctx, id)
		return Identity{}, ErrUnauthenticated
	}
	if sess.UserID == "" {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{UserID: sess.UserID, Source: "session"}, nil
}
