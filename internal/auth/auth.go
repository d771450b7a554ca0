// Package auth resolves the calling user from a request. Identity always
// comes from a verified credential, never from ambient process state.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Source string // "jwt" or "session"
}

type Resolver interface {
	// Resolve returns ErrUnauthenticated when the request carries no usable
	// credential. Any other error means the credential could not be checked.
	Resolve(ctx context.Context, r *http.Request) (Identity, error)
}

type chain []Resolver

// Chain tries each resolver in order and returns the first identity found.
func Chain(rs ...Resolver) Resolver {
	out := make(chain, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (c chain) Resolve(ctx context.Context, r *http.Request) (Identity, error) {
	for _, res := range c {
		id, err := res.Resolve(ctx, r)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrUnauthenticated) {
			return Identity{}, err
		}
	}
	return Identity{}, ErrUnauthenticated
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

type identityKeyType struct{}

var identityKey = identityKeyType{}

const ginIdentityKey = "auth.identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.UserID != ""
}

// Middleware resolves the caller and aborts through deny when that fails.
func Middleware(res Resolver, deny func(c *gin.Context, err error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := res.Resolve(c.Request.Context(), c.Request)
		if err != nil {
			if !errors.Is(err, ErrUnauthenticated) {
				err = fmt.Errorf("resolve identity: %w", err)
			}
			deny(c, err)
			c.Abort()
			return
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Set(ginIdentityKey, id)
		c.Next()
	}
}

// MustIdentity returns the identity set by Middleware. Handlers behind the
// middleware may rely on it being present.
func MustIdentity(c *gin.Context) Identity {
	if v, ok := c.Get(ginIdentityKey); ok {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	id, _ := FromContext(c.Request.Context())
	return id
}
