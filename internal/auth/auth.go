package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrInvalidToken is returned by verifiers for tokens that do not resolve to
// a caller.
var ErrInvalidToken = errors.New("invalid token")

// Verifier resolves a bearer token to a caller id. The real identity
// provider lives outside this service; deployments plug in their own
// implementation.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// StaticVerifier resolves tokens from a fixed token → user map. Suitable for
// development and for deployments fronted by a gateway that mints service
// tokens.
type StaticVerifier map[string]string

func (v StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	if user, ok := v[token]; ok {
		return user, nil
	}
	return "", ErrInvalidToken
}

type ctxKey struct{}

// UserID returns the caller id set by Middleware, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Middleware enforces a Bearer token on every request and stores the
// resolved caller id in the request context. Missing or malformed headers
// get 401, tokens the verifier rejects get 403.
func Middleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				http.Error(w, "missing or malformed token", http.StatusUnauthorized)
				return
			}
			userID, err := v.Verify(r.Context(), token)
			if err != nil {
				http.Error(w, "invalid token", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
		})
	}
}
