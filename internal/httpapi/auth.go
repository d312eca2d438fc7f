package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned by a TokenResolver for unknown or expired tokens.
var ErrUnauthorized = errors.New("unauthorized")

// TokenResolver maps a bearer token to the account it authenticates.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (accountID string, err error)
}

// StaticTokens is a fixed token -> account id table.
type StaticTokens map[string]string

// Resolve implements TokenResolver.
func (s StaticTokens) Resolve(_ context.Context, token string) (string, error) {
	accountID, ok := s[token]
	if !ok || accountID == "" {
		return "", ErrUnauthorized
	}
	return accountID, nil
}

func bearerToken(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) < 7 || !strings.EqualFold(authz[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[7:])
}

type accountKey struct{}

func withAccount(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountKey{}, accountID)
}

// AccountFromContext returns the authenticated account id of a request.
func AccountFromContext(ctx context.Context) (string, bool) {
	accountID, ok := ctx.Value(accountKey{}).(string)
	return accountID, ok
}
