// Package session keeps bounded per-session conversation history.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
)

const DefaultMaxTurns = 50

// Store holds conversation turns keyed by session id.
//
// Append adds turns atomically and in order, creating the session if needed;
// an empty sessionID gets a fresh id, which is returned. Each session keeps at
// most its configured number of turns, dropping the oldest first.
type Store interface {
	Append(ctx context.Context, sessionID string, turns ...domain.Turn) (string, error)
	History(ctx context.Context, sessionID string) ([]domain.Turn, error)
	// ExpireIdle evicts sessions idle for longer than ttl and reports how
	// many were removed.
	ExpireIdle(ctx context.Context, ttl time.Duration) (int, error)
	Delete(ctx context.Context, sessionID string) error
}

func NewID() string {
	return uuid.NewString()
}
