// Package store provides durable session persistence.
package store

import (
	"context"

	"github.com/ashureev/prestador-desk/internal/domain"
)

// Persisted keys. They mirror the two entries a browser profile keeps.
const (
	KeyIdentity = "userData"
	KeyToken    = "userToken"
)

// SessionStore persists the authenticated session.
type SessionStore interface {
	// Load returns the stored session, or nil when none is stored or the
	// stored payload is unusable.
	Load(ctx context.Context) (*domain.Session, error)

	// Save writes identity and token atomically.
	Save(ctx context.Context, session domain.Session) error

	// Clear removes every stored entry.
	Clear(ctx context.Context) error

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing database.
	Close() error
}
