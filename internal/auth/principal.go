package auth

import (
	"context"
	"errors"
)

var ErrUnknownIdentity = errors.New("unknown identity")

// Principal is an identity known to the identity store.
type Principal struct {
	Identifier     string
	CredentialHash string
	Role           Role
}

// IdentityResolver maps an identifier (email) to its credentials and role.
// Implementations return ErrUnknownIdentity when the identifier is not known.
type IdentityResolver interface {
	Resolve(ctx context.Context, identifier string) (*Principal, error)
}
