package gateway

import (
	"context"
	"strings"
)

// HeaderIdentity carries the end-user identity the request is made for.
const HeaderIdentity = "X-User-Identity"

type ctxKey int

const (
	identityKey ctxKey = iota
	tokenKey
)

// ContextWithIdentity scopes requests made with ctx to identity.
func ContextWithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey, strings.TrimSpace(identity))
}

// IdentityFromContext returns the identity set by ContextWithIdentity.
func IdentityFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	identity, _ := ctx.Value(identityKey).(string)
	return identity
}

// ContextWithToken overrides the client's bearer token for requests made
// with ctx, typically to forward the end user's own token.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, strings.TrimSpace(token))
}

func tokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}
