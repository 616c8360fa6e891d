// Package securestore provides opaque key/value persistence with
// at-rest protection. The credential gate is the only intended caller.
package securestore

import "context"

// Authenticator performs a user-presence check (biometric or
// equivalent) immediately before a protected read. Implementations are
// supplied by the host platform.
type Authenticator interface {
	// Authenticate blocks until the user confirms or refuses.
	Authenticate(ctx context.Context, reason string) error
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, reason string) error

func (f AuthenticatorFunc) Authenticate(ctx context.Context, reason string) error {
	return f(ctx, reason)
}

// Store is encrypted-at-rest key/value persistence.
type Store interface {
	// Get returns the value for key, or errs.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// GetProtected is the biometric-gated read variant: it runs the
	// authenticator before every read, with no caching of the outcome.
	GetProtected(ctx context.Context, key, reason string) ([]byte, error)
	// Set stores the value under key.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// DeleteAll removes the listed keys in one atomic write, so no
	// partially-cleared state is ever observable.
	DeleteAll(ctx context.Context, keys ...string) error
}
