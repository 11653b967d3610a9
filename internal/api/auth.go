package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey int

const ctxKeyUserID contextKey = 0

// extractToken pulls the bearer credential out of the Authorization header;
// returns "" if the header is absent or malformed.
func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// claims is the minimal set this orchestrator trusts from a token: who is
// calling. Scopes/roles are left to a future revision.
type claims struct {
	jwt.RegisteredClaims
}

// AuthMiddleware validates the bearer token on every request against
// secret using HMAC. A missing or invalid token is rejected with 401
// before the wrapped handler ever runs.
func AuthMiddleware(secret []byte, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeError(w, errUnauthorized("missing bearer token"), http.StatusUnauthorized)
			return
		}

		parsed := &claims{}
		_, err := jwt.ParseWithClaims(token, parsed, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errUnexpectedSigningMethod
			}
			return secret, nil
		})
		if err != nil || parsed.Subject == "" {
			writeError(w, errUnauthorized("invalid bearer token"), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, parsed.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID extracts the subject AuthMiddleware attached to ctx, if any.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyUserID).(string)
	return id, ok
}

var errUnexpectedSigningMethod = unauthorizedErr("unexpected signing method")

type unauthorizedErr string

func (e unauthorizedErr) Error() string { return string(e) }

func errUnauthorized(reason string) error {
	return unauthorizedErr(reason)
}
