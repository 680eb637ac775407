package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when the caller has no valid credential.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden is returned when the caller is authenticated but lacks the role.
	ErrForbidden = errors.New("admin role required")

	ErrMalformedHeader = fmt.Errorf("%w: malformed authorization header", ErrUnauthenticated)
	ErrInvalidToken    = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	ErrExpiredToken    = fmt.Errorf("%w: token has expired", ErrUnauthenticated)
	ErrTokenRevoked    = fmt.Errorf("%w: token has been revoked", ErrUnauthenticated)
)

// Principal is a resolved caller. A nil *Principal is an anonymous caller.
type Principal struct {
	// ID is the caller identity; deliveries reference it as their customer identifier.
	ID string `json:"id"`
	// IsAdmin grants the mutation operations.
	IsAdmin bool `json:"is_admin"`
}

// RequireAuthenticated allows any resolved principal.
func RequireAuthenticated(p *Principal) error {
	if p == nil || p.ID == "" {
		return ErrUnauthenticated
	}
	return nil
}

// RequireAdmin allows only principals holding the admin role.
func RequireAdmin(p *Principal) error {
	if err := RequireAuthenticated(p); err != nil {
		return err
	}
	if !p.IsAdmin {
		return ErrForbidden
	}
	return nil
}
