// Package middleware provides the HTTP middleware chain: caller
// authentication, per-caller rate limiting, and CORS.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
	"github.com/R3E-Network/securities_layer/internal/errors"
	"github.com/R3E-Network/securities_layer/pkg/logger"
)

type contextKey string

const callerKey contextKey = "caller"

// CallerHeader carries the caller address when JWT auth is disabled. Trusted
// deployments sit behind a gateway that strips or sets it.
const CallerHeader = "X-Caller-Address"

// Claims are the JWT claims the service accepts. Address is the ledger
// identity every operation is attributed to.
type Claims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// CallerFromContext returns the authenticated caller address, or zero.
func CallerFromContext(ctx context.Context) token.Address {
	addr, _ := ctx.Value(callerKey).(token.Address)
	return addr
}

// WithCaller returns a context carrying the caller address. Tests use this
// to exercise handlers without the middleware chain.
func WithCaller(ctx context.Context, addr token.Address) context.Context {
	return context.WithValue(ctx, callerKey, addr)
}

// Auth authenticates requests. With a secret configured it validates HMAC
// JWTs from the Authorization header; without one it falls back to the
// caller header. Paths in skipPaths pass through unauthenticated.
type Auth struct {
	secret    []byte
	log       *logger.Logger
	skipPaths map[string]bool
}

// NewAuth constructs the auth middleware. An empty secret disables JWT
// validation and trusts the caller header.
func NewAuth(secret string, log *logger.Logger, skipPaths []string) *Auth {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	var key []byte
	if secret != "" {
		key = []byte(secret)
	}
	return &Auth{secret: key, log: log, skipPaths: skip}
}

// Handler returns the middleware handler.
func (a *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		addr, err := a.callerOf(r)
		if err != nil {
			a.log.WithError(err).
				WithField("path", r.URL.Path).
				Warn("authentication failed")
			// Missing or bad credentials are 401, unlike the 403 the
			// services use for insufficient authority.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{
				"error": err.Error(),
				"code":  string(errors.CodeOf(err)),
			})
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), addr)))
	})
}

func (a *Auth) callerOf(r *http.Request) (token.Address, error) {
	if a.secret == nil {
		addr := token.Address(strings.TrimSpace(r.Header.Get(CallerHeader)))
		if addr.Zero() {
			return "", errors.Unauthorized("missing %s header", CallerHeader)
		}
		return addr, nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.Unauthorized("missing Authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.Unauthorized("malformed Authorization header")
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Unauthorized("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", errors.Unauthorized("invalid token: %v", err)
	}
	if !tok.Valid || claims.Address == "" {
		return "", errors.Unauthorized("invalid token claims")
	}
	return token.Address(claims.Address), nil
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errors.HTTPStatus(err))
	json.NewEncoder(w).Encode(map[string]any{
		"error": err.Error(),
		"code":  string(errors.CodeOf(err)),
	})
}
