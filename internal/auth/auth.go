// Package auth extracts the connecting principal from bearer tokens.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dkeye/Meet/internal/domain"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrUnauthenticated    = errors.New("unauthenticated")
)

// Verifier turns a credential into a principal.
type Verifier interface {
	Verify(credential string) (*domain.User, error)
}

// CredentialFromRequest looks at the Authorization header first and falls
// back to the token query parameter, which is the only option browsers
// have when opening a WebSocket.
func CredentialFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", ErrUnauthenticated
		}
		return strings.TrimSpace(token), nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingCredentials
}

// Authenticate resolves the principal of r with v.
func Authenticate(v Verifier, r *http.Request) (*domain.User, error) {
	cred, err := CredentialFromRequest(r)
	if err != nil {
		return nil, err
	}
	return v.Verify(cred)
}
