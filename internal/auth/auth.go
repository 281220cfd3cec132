// Package auth issues and verifies bearer tokens and guards HTTP routes.
// A request that passes the guard carries the verified account id in its
// context; handlers never see unauthenticated requests.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/papertrade/trading-engine/internal/store"
)

// ErrUnauthenticated is returned for a missing, malformed, expired or
// forged token.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = 30 * 24 * time.Hour

// Claims is the JWT payload.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256-signed tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token service. A ttl <= 0 selects DefaultTTL.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token identifying accountID.
func (t *Tokens) Issue(accountID string) (string, error) {
	now := t.now()
	claims := Claims{
		UserID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of token and returns the account
// id it carries.
func (t *Tokens) Verify(token string) (string, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("%w: token has no user_id", ErrUnauthenticated)
	}
	return claims.UserID, nil
}

type ctxKey struct{}

// WithAccountID returns a copy of ctx carrying accountID.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, accountID)
}

// AccountID returns the authenticated account id stored in ctx.
func AccountID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// Resolver reports whether an authenticated account still exists. It
// returns store.ErrAccountNotFound for deleted accounts; any other error
// is a lookup failure.
type Resolver func(ctx context.Context, accountID string) error

// Middleware rejects requests without a valid token with 401. The token is
// read from "Authorization: Bearer <token>", or from the access_token query
// parameter for WebSocket upgrades, which cannot set headers from a
// browser. When exists is non-nil, tokens of deleted accounts are rejected
// as well, and a failed lookup answers 500.
func (t *Tokens) Middleware(exists Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearer(r)
			if token == "" {
				unauthorized(w, "token is missing")
				return
			}
			accountID, err := t.Verify(token)
			if err != nil {
				slog.Debug("token rejected", "err", err, "path", r.URL.Path)
				unauthorized(w, "invalid token")
				return
			}
			if exists != nil {
				err := exists(r.Context(), accountID)
				switch {
				case errors.Is(err, store.ErrAccountNotFound):
					unauthorized(w, "invalid token")
					return
				case err != nil:
					slog.Error("account lookup failed", "account", accountID, "err", err)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), accountID)))
		})
	}
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
