// Package auth verifies the bearer credential a client presents when it
// opens a socket and resolves it to a user id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const TokenQueryParam = "token"

// ErrUnauthenticated is returned for every verification failure. Callers
// must not distinguish between causes.
var ErrUnauthenticated = errors.New("unauthenticated")

type Verifier interface {
	Verify(ctx context.Context, credential string) (string, error)
}

// TokenFromRequest reads the credential from the token query parameter,
// falling back to an Authorization bearer header.
func TokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get(TokenQueryParam)); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		return strings.TrimSpace(after)
	}

	return ""
}

func unauthenticated(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthenticated, fmt.Sprintf(format, args...))
}
