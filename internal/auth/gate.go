package auth

import (
	"crypto/subtle"
	"errors"
)

// HeaderAPIKey is the request header that carries the shared secret.
const HeaderAPIKey = "X-API-Key"

// ErrUnauthorized is returned when a write is attempted without the
// configured key.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Gate checks a supplied secret against the configured key. The zero Gate
// lets everything through.
type Gate struct {
	RequireAuth bool
	APIKey      string
}

// NewGate creates a gate.
func NewGate(requireAuth bool, apiKey string) Gate {
	return Gate{RequireAuth: requireAuth, APIKey: apiKey}
}

// Enabled reports whether the gate rejects anything at all.
func (g Gate) Enabled() bool {
	return g.RequireAuth
}

// Authorize reports whether supplied grants write access. With RequireAuth
// set, an empty configured key matches nothing.
func (g Gate) Authorize(supplied string) bool {
	if !g.RequireAuth {
		return true
	}
	if g.APIKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(g.APIKey)) == 1
}

// Check is Authorize returning ErrUnauthorized on failure.
func (g Gate) Check(supplied string) error {
	if !g.Authorize(supplied) {
		return ErrUnauthorized
	}
	return nil
}
