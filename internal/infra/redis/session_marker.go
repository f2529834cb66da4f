package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"quiz-session-service/internal/domain"
)

// clearIfOwner deletes the marker only when it still holds the given session id.
var clearIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SessionMarker keeps a per-user pointer to the live session, expiring with the session deadline.
type SessionMarker struct {
	client *redis.Client
	clock  func() time.Time
}

func NewSessionMarker(client *redis.Client) *SessionMarker {
	return &SessionMarker{client: client, clock: time.Now}
}

func (m *SessionMarker) Mark(ctx context.Context, userID domain.UserID, sessionID uuid.UUID, expiresAt time.Time) error {
	ttl := expiresAt.Sub(m.clock())
	if ttl <= 0 {
		return nil
	}
	return m.client.Set(ctx, m.key(userID), sessionID.String(), ttl).Err()
}

func (m *SessionMarker) Lookup(ctx context.Context, userID domain.UserID) (uuid.UUID, bool, error) {
	raw, err := m.client.Get(ctx, m.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, nil
	}
	return id, true, nil
}

func (m *SessionMarker) Clear(ctx context.Context, userID domain.UserID, sessionID uuid.UUID) error {
	return clearIfOwner.Run(ctx, m.client, []string{m.key(userID)}, sessionID.String()).Err()
}

func (m *SessionMarker) key(userID domain.UserID) string {
	return "quiz:live:" + string(userID)
}
