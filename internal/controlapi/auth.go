package controlapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/strefethen/playout-conductor/internal/apperrors"
)

type contextKey string

const callerKey contextKey = "controlapi.caller"

// Caller identifies the bearer-token holder a mutating request is
// attributed to; BearerAuth stores it in the request context, where
// CallerFromContext reads it back.
type Caller struct {
	Subject string
}

func withCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext returns the authenticated caller, if any.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}

type claims struct {
	jwt.RegisteredClaims
}

// publicRoutes never require a bearer token: the read-only status and
// health paths.
var publicRoutes = map[string]struct{}{
	"/v1/status":  {},
	"/v1/healthz": {},
}

// BearerAuth validates requests against a static API token or a JWT signed
// with secret, mirroring internal/auth.Middleware's public-route bypass and
// HS256 verification, collapsed from sonos-hub-go's access/refresh pairing
// flow since the control plane has one operator-facing credential, not a
// per-device pairing ceremony.
func BearerAuth(staticToken, jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := publicRoutes[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				WriteError(w, apperrors.NewUnauthorizedError("missing bearer token"))
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")
			if token == "" {
				WriteError(w, apperrors.NewUnauthorizedError("missing bearer token"))
				return
			}

			if staticToken != "" && token == staticToken {
				next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), Caller{Subject: "static-token"})))
				return
			}

			if jwtSecret == "" {
				WriteError(w, apperrors.NewUnauthorizedError("invalid token"))
				return
			}
			sub, err := verifyJWT(token, jwtSecret)
			if err != nil {
				WriteError(w, apperrors.NewUnauthorizedError("invalid token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), Caller{Subject: sub})))
		})
	}
}

func verifyJWT(token, secret string) (string, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	c := &claims{}
	parsed, err := parser.ParseWithClaims(token, c, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if parsed == nil || !parsed.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}
	return c.Subject, nil
}

// IssueJWT mints an operator-scoped token, used by out-of-band tooling
// (never by the conductor itself) to bootstrap a control session.
func IssueJWT(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "playout-conductor",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString([]byte(secret))
}
