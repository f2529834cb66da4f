package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiz-session-service/internal/domain"
)

// SessionMarker is an in-memory implementation of app.SessionMarker.
type SessionMarker struct {
	mu      sync.RWMutex
	clock   func() time.Time
	markers map[domain.UserID]marker
}

type marker struct {
	sessionID uuid.UUID
	expiresAt time.Time
}

func NewSessionMarker() *SessionMarker {
	return &SessionMarker{
		clock:   time.Now,
		markers: make(map[domain.UserID]marker),
	}
}

func (m *SessionMarker) Mark(_ context.Context, userID domain.UserID, sessionID uuid.UUID, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[userID] = marker{sessionID: sessionID, expiresAt: expiresAt}
	return nil
}

func (m *SessionMarker) Lookup(_ context.Context, userID domain.UserID) (uuid.UUID, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mk, ok := m.markers[userID]
	if !ok || !mk.expiresAt.After(m.clock()) {
		return uuid.Nil, false, nil
	}
	return mk.sessionID, true, nil
}

// Clear removes the marker only while it still points at sessionID.
func (m *SessionMarker) Clear(_ context.Context, userID domain.UserID, sessionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mk, ok := m.markers[userID]; ok && mk.sessionID == sessionID {
		delete(m.markers, userID)
	}
	return nil
}
