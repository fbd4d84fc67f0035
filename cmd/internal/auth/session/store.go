package session

import (
	"context"
	"time"
)

// Session is one authenticated login for a DID.
type Session struct {
	ID        string
	TokenHash string
	DID       string
	Handle    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Store persists sessions. Lookups of expired sessions return ErrSessionNotFound.
type Store interface {
	Create(ctx context.Context, s Session) error
	GetByTokenHash(ctx context.Context, hash string) (Session, error)
	GetByID(ctx context.Context, id string) (Session, error)
	// HasIdentity reports whether did holds at least one live session.
	HasIdentity(ctx context.Context, did string) (bool, error)
	// UpdateHandle rewrites the handle on every live session of did.
	UpdateHandle(ctx context.Context, did, handle string) error
	// RevokeByIdentity deletes every session of did and returns how many were live.
	RevokeByIdentity(ctx context.Context, did string) (int, error)
	Revoke(ctx context.Context, id string) error
	// Prune deletes sessions expired at now.
	Prune(ctx context.Context, now time.Time) (int, error)
}
