// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/formvoice/internal/domain"
)

// ErrNotFound is returned when no session row exists for the requested ID.
var ErrNotFound = errors.New("session not found")

// ErrCorruptSession is returned when a session row exists but its persisted
// state cannot be decoded. Callers discard the record and start fresh rather
// than guessing at partial state.
var ErrCorruptSession = errors.New("session record is corrupt")

// Repository defines the interface for persisting survey sessions and their
// audit trail.
type Repository interface {
	// LoadSession retrieves a session by ID. Returns ErrNotFound when no row
	// exists and ErrCorruptSession when the row cannot be decoded.
	LoadSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// SaveSession atomically creates or replaces the session record.
	SaveSession(ctx context.Context, session *domain.Session) error

	// AppendAudit appends one entry to the immutable audit log.
	AppendAudit(ctx context.Context, entry *domain.AuditEntry) error

	// ListAudit returns the most recent audit entries for a session, newest
	// first, up to limit.
	ListAudit(ctx context.Context, sessionID string, limit int) ([]*domain.AuditEntry, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
