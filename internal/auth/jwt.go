package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTResolver verifies HS256 bearer tokens signed with the project's JWT
// secret, the way Supabase issues access tokens. The user id is the sub claim.
type JWTResolver struct {
	secret   []byte
	audience string
	leeway   time.Duration
}

type JWTOption func(*JWTResolver)

// WithAudience requires the aud claim to contain aud.
func WithAudience(aud string) JWTOption { return func(j *JWTResolver) { j.audience = aud } }

func WithLeeway(d time.Duration) JWTOption { return func(j *JWTResolver) { j.leeway = d } }

func NewJWTResolver(secret string, opts ...JWTOption) (*JWTResolver, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is empty")
	}
	j := &JWTResolver{secret: []byte(secret), leeway: 30 * time.Second}
	for _, o := range opts {
		o(j)
	}
	return j, nil
}

func (j *JWTResolver) Resolve(ctx context.Context, r *http.Request) (Identity, error) {
	raw := bearerToken(r)
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.leeway),
	}
	if j.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(j.audience))
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, parserOpts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return Identity{UserID: sub, Source: "jwt"}, nil
}

// Sign issues a token for userID. Used by the token command for local
// development and by tests.
func (j *JWTResolver) Sign(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if j.audience != "" {
		claims.Audience = jwt.ClaimStrings{j.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}
