package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
	"github.com/fjwyyds6668/ai-tourguide/internal/metrics"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
)

type memorySession struct {
	mu         sync.Mutex
	turns      []domain.Turn
	lastActive time.Time
	// removed is set once the sweeper has dropped the session from the map;
	// an appender holding a stale pointer must start over.
	removed bool
}

// Memory is an in-process Store. The map lock is held only to find or create
// a session; turn mutation happens under that session's own lock, so
// independent sessions never wait on each other.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	maxTurns int
	ttl      time.Duration
	now      func() time.Time
}

// NewMemory returns a store keeping at most maxTurns turns per session.
// Sessions idle for longer than ttl read as empty even before a sweep;
// ttl <= 0 disables that.
func NewMemory(maxTurns int, ttl time.Duration) *Memory {
	if maxTurns < 1 {
		maxTurns = DefaultMaxTurns
	}
	return &Memory{
		sessions: make(map[string]*memorySession),
		maxTurns: maxTurns,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *Memory) Append(ctx context.Context, sessionID string, turns ...domain.Turn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if sessionID == "" {
		sessionID = NewID()
	}

	for {
		s := m.getOrCreate(sessionID)
		s.mu.Lock()
		if s.removed {
			s.mu.Unlock()
			continue
		}
		now := m.now()
		if m.expired(s, now) {
			s.turns = nil
		}
		s.turns = append(s.turns, turns...)
		if over := len(s.turns) - m.maxTurns; over > 0 {
			kept := make([]domain.Turn, m.maxTurns)
			copy(kept, s.turns[over:])
			s.turns = kept
		}
		s.lastActive = now
		s.mu.Unlock()
		return sessionID, nil
	}
}

func (m *Memory) History(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return []domain.Turn{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed || m.expired(s, m.now()) {
		return []domain.Turn{}, nil
	}
	out := make([]domain.Turn, len(s.turns))
	copy(out, s.turns)
	return out, nil
}

// ExpireIdle drops sessions idle for longer than ttl. A ttl of 0 or less
// disables expiry.
func (m *Memory) ExpireIdle(_ context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		s.mu.Lock()
		if now.Sub(s.lastActive) > ttl {
			s.removed = true
			delete(m.sessions, id)
			removed++
		}
		s.mu.Unlock()
	}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	return removed, nil
}

func (m *Memory) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionID]; ok {
		s.mu.Lock()
		s.removed = true
		s.mu.Unlock()
		delete(m.sessions, sessionID)
	}
	return nil
}

// Len reports the number of live sessions.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// RunJanitor sweeps idle sessions every interval until ctx is done.
func (m *Memory) RunJanitor(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 || ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, _ := m.ExpireIdle(ctx, ttl)
			if n > 0 {
				logger.Debug("expired idle sessions", zap.Int("count", n), zap.Int("remaining", m.Len()))
			}
		}
	}
}

func (m *Memory) getOrCreate(id string) *memorySession {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s = &memorySession{lastActive: m.now()}
	m.sessions[id] = s
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	return s
}

func (m *Memory) expired(s *memorySession, now time.Time) bool {
	return m.ttl > 0 && len(s.turns) > 0 && now.Sub(s.lastActive) > m.ttl
}
