package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var ErrInvalidToken = errors.New("invalid bearer token")

// Caller is an authenticated user.
type Caller struct {
	UserID string
}

// Authenticator resolves the caller of a request. It returns nil, nil when
// the request carries no credentials.
type Authenticator interface {
	Authenticate(r *http.Request) (*Caller, error)
}

// StaticTokens authenticates bearer tokens against a fixed token to user id
// table.
type StaticTokens struct {
	tokens map[string]string
}

func NewStaticTokens(tokens map[string]string) *StaticTokens {
	m := make(map[string]string, len(tokens))
	for k, v := range tokens {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			m[k] = v
		}
	}
	return &StaticTokens{tokens: m}
}

func (s *StaticTokens) Authenticate(r *http.Request) (*Caller, error) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return nil, nil
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}
	user, ok := s.tokens[strings.TrimSpace(token)]
	if !ok {
		return nil, ErrInvalidToken
	}
	return &Caller{UserID: user}, nil
}

type callerKey struct{}

func withCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the authenticated caller, or nil.
func CallerFromContext(ctx context.Context) *Caller {
	c, _ := ctx.Value(callerKey{}).(*Caller)
	return c
}

func callerUserID(ctx context.Context) string {
	if c := CallerFromContext(ctx); c != nil {
		return c.UserID
	}
	return ""
}
