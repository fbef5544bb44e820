package httpadapter

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Authorizer answers whether the caller behind a request may change data.
// Session and login handling live outside this package.
type Authorizer interface {
	Allowed(r *http.Request) bool
}

type AuthorizerFunc func(r *http.Request) bool

func (f AuthorizerFunc) Allowed(r *http.Request) bool { return f(r) }

// AllowAll lets every caller through.
var AllowAll Authorizer = AuthorizerFunc(func(*http.Request) bool { return true })

// TokenAuthorizer accepts "Authorization: Bearer <token>" matching the
// configured secret.
type TokenAuthorizer struct {
	secret []byte
}

// NewTokenAuthorizer returns AllowAll when secret is empty.
func NewTokenAuthorizer(secret string) Authorizer {
	if secret == "" {
		return AllowAll
	}
	return &TokenAuthorizer{secret: []byte(secret)}
}

func (a *TokenAuthorizer) Allowed(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), a.secret) == 1
}
