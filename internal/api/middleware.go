// Package api implements the blog REST API using chi.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmtorr3/blog/internal/apperr"
	"github.com/jmtorr3/blog/internal/models"
	"github.com/jmtorr3/blog/internal/store"
)

// ErrInvalidToken is returned for malformed, expired or badly signed tokens.
var ErrInvalidToken = errors.New("invalid token")

type ctxKey struct{}

// AccountFrom returns the account attached to ctx by the auth middleware,
// or nil for anonymous requests.
func AccountFrom(ctx context.Context) *models.Account {
	a, _ := ctx.Value(ctxKey{}).(*models.Account)
	return a
}

func withAccount(ctx context.Context, a *models.Account) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// Authenticator resolves the acting account of a request.
//
// With a secret it expects "Authorization: Bearer <jwt>" signed with HS256
// whose subject is a known username; requests without the header are
// anonymous. Without a secret every request acts as the default user.
type Authenticator struct {
	accounts    store.Accounts
	secret      []byte
	defaultUser string
}

// NewAuthenticator creates an Authenticator. An empty jwtSecret disables
// token checks.
func NewAuthenticator(accounts store.Accounts, jwtSecret, defaultUser string) *Authenticator {
	a := &Authenticator{accounts: accounts, defaultUser: defaultUser}
	if jwtSecret != "" {
		a.secret = []byte(jwtSecret)
	}
	return a
}

// TokenMode reports whether bearer tokens are required for identity.
func (a *Authenticator) TokenMode() bool {
	return a.secret != nil
}

// IssueToken signs a token for username valid for ttl.
func (a *Authenticator) IssueToken(username string, ttl time.Duration) (string, error) {
	if !a.TokenMode() {
		return "", errors.New("auth: token mode is disabled")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Middleware attaches the acting account to the request context. A present
// but invalid token is rejected; a missing one leaves the request anonymous.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := a.defaultUser
		if a.TokenMode() {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			sub, err := a.verify(raw)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			username = sub
		}

		acct, err := a.accounts.AccountByUsername(r.Context(), username)
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusUnauthorized, errorBody("unknown account"))
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withAccount(r.Context(), acct)))
	})
}

// RequireAccount rejects anonymous requests with 401.
func RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if AccountFrom(r.Context()) == nil {
			writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
