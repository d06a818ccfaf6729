// Package auth verifies EAS Basic authentication against the mailbox
// password store, hashing the way the teacher's passwordreset.TokenHasher
// hashes reset tokens: scrypt with a random per-password salt encoded
// alongside the derived key.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/scrypt"

	"github.com/exchangecore/excore/internal/store"
)

const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	scryptSalt   = 16
)

var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// HashPassword derives a salt:hash encoding suitable for UserStore.
func HashPassword(password string) (string, error) {
	salt := make([]byte, scryptSalt)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	derived, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return fmt.Sprintf("%s:%s",
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(derived),
	), nil
}

func verifyPassword(password, stored string) bool {
	parts := strings.SplitN(stored, ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	got, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got, want) == 1
}

// Authenticator verifies EAS requests, which always carry HTTP Basic auth
// per spec.md §2.
type Authenticator struct {
	users store.UserStore
}

func NewAuthenticator(users store.UserStore) *Authenticator {
	return &Authenticator{users: users}
}

// Authenticate extracts and verifies the Basic credentials on r, returning
// the authenticated user's email. EAS device id/type are separately carried
// as query parameters and are not part of authentication.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (string, error) {
	email, password, ok := r.BasicAuth()
	if !ok || email == "" {
		return "", ErrInvalidCredentials
	}
	user, err := a.users.GetUser(ctx, email)
	if err != nil {
		return "", fmt.Errorf("auth: lookup user: %w", err)
	}
	if user == nil || !user.Active {
		return "", ErrInvalidCredentials
	}
	if !verifyPassword(password, user.PasswordHash) {
		return "", ErrInvalidCredentials
	}
	return user.Email, nil
}

// RequireAuth challenges the client with a WWW-Authenticate header, per
// RFC 7617, for use when Authenticate fails.
func RequireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="ActiveSync"`)
	w.WriteHeader(http.StatusUnauthorized)
}
