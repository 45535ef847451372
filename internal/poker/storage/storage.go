// Package storage defines the session persistence contract shared by the
// in-memory and SQLite backends.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ybrake1950/planning-poker/internal/poker/domain"
)

// ErrNotFound indicates a requested session record is missing. A corrupted
// record on read is reported the same way, never as a crash.
var ErrNotFound = errors.New("session not found")

// ErrAlreadyExists indicates a session code is already taken.
var ErrAlreadyExists = errors.New("session already exists")

// ErrConflict indicates persistence contention exceeded the retry budget.
var ErrConflict = errors.New("session update conflict")

// UpdateAttempts bounds the optimistic retry loop inside ApplyUpdate.
const UpdateAttempts = 3

// RetryBackoff is the pause between conflicting update attempts.
const RetryBackoff = 10 * time.Millisecond

// SessionStore persists session records keyed by code.
//
// ApplyUpdate is the single mutation primitive. It loads the current session,
// applies update to a private copy, and persists the result only if no other
// writer touched the session in between, retrying up to UpdateAttempts times
// before failing with ErrConflict. Two concurrent updates naming different
// players must both land; a whole-record blind write is not an acceptable
// implementation because it silently drops concurrent votes.
type SessionStore interface {
	Create(ctx context.Context, session domain.Session) error
	Get(ctx context.Context, code string) (domain.Session, error)
	Delete(ctx context.Context, code string) error
	ApplyUpdate(ctx context.Context, code string, update func(*domain.Session) error) (domain.Session, error)
}
