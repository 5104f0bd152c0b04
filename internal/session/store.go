package session

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the session expired or never existed.
	ErrNotFound = errors.New("session not found")
	// ErrVersionMismatch is returned when a conditional write loses to a
	// concurrent writer.
	ErrVersionMismatch = errors.New("session version mismatch/conditional failed")
)

// Store persists sessions. Get returns the latest session of a user and
// GetByID a specific one; both return (nil, nil) when absent or expired.
// Put writes s only when the stored version equals expectedVersion (0 for
// a new session) and points the user at s.
type Store interface {
	Get(ctx context.Context, userID string) (*Session, error)
	GetByID(ctx context.Context, sessionID string) (*Session, error)
	Put(ctx context.Context, s *Session, expectedVersion int64) error
}
