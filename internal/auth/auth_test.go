package auth_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/trading-engine/internal/auth"
	"github.com/papertrade/trading-engine/internal/store"
)

func TestIssueVerify(t *testing.T) {
	tokens := auth.NewTokens("s3cret", time.Hour)

	tok, err := tokens.Issue("acct-1")
	require.NoError(t, err)

	id, err := tokens.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", id)
}

func TestVerifyRejects(t *testing.T) {
	tokens := auth.NewTokens("s3cret", time.Hour)
	other := auth.NewTokens("different", time.Hour)
	expired := auth.NewTokens("s3cret", time.Nanosecond)

	forged, err := other.Issue("acct-1")
	require.NoError(t, err)
	stale, err := expired.Issue("acct-1")
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond) // NumericDate has second resolution

	none := jwt.NewWithClaims(jwt.SigningMethodNone, auth.Claims{UserID: "acct-1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"garbage":  "not-a-token",
		"forged":   forged,
		"expired":  stale,
		"alg none": unsigned,
		"no user":  noUser,
	} {
		_, err := tokens.Verify(tok)
		assert.ErrorIs(t, err, auth.ErrUnauthenticated, name)
	}
}

func newRouter(tokens *auth.Tokens, exists auth.Resolver) http.Handler {
	r := chi.NewRouter()
	r.With(tokens.Middleware(exists)).Get("/me", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.AccountID(r.Context())
		w.Write([]byte(id))
	})
	return r
}

func TestMiddleware(t *testing.T) {
	tokens := auth.NewTokens("s3cret", time.Hour)
	tok, err := tokens.Issue("acct-7")
	require.NoError(t, err)
	h := newRouter(tokens, nil)

	tests := []struct {
		name   string
		header string
		query  string
		status int
		body   string
	}{
		{"bearer header", "Bearer " + tok, "", http.StatusOK, "acct-7"},
		{"lowercase scheme", "bearer " + tok, "", http.StatusOK, "acct-7"},
		{"query param", "", "?access_token=" + tok, http.StatusOK, "acct-7"},
		{"missing", "", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + tok, "", http.StatusUnauthorized, ""},
		{"bad token", "Bearer nope", "", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.body, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestMiddlewareAccountLookup(t *testing.T) {
	tokens := auth.NewTokens("s3cret", time.Hour)
	tok, err := tokens.Issue("acct-9")
	require.NoError(t, err)

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"exists", nil, http.StatusOK},
		{"deleted", fmt.Errorf("lookup: %w", store.ErrAccountNotFound), http.StatusUnauthorized},
		{"store down", errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRouter(tokens, func(context.Context, string) error { return tt.err })
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			req.Header.Set("Authorization", "Bearer "+tok)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestAccountIDMissing(t *testing.T) {
	_, ok := auth.AccountID(context.Background())
	assert.False(t, ok)
}
