package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/metroplan/metroplan-backend/internal/projects/domain"
)

// Key layout: projectState_{user_id} -> JSON Pointer. The key is scoped per
// user so switching accounts on the same deployment never surfaces another
// user's last-open project.
const keyPrefix = "projectState_"

// DefaultTTL keeps abandoned pointers from accumulating forever.
const DefaultTTL = 30 * 24 * time.Hour

// Pointer records which project and route a user was last working on.
// Field names mirror what the web client stores.
type Pointer struct {
	ProjectID    string    `json:"projectId"`
	ProjectTitle string    `json:"projectTitle"`
	Route        string    `json:"route"`
	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"userId"`
}

// Store persists one session pointer per user in Redis.
type Store struct {
	client    *redis.Client
	ttl       time.Duration
	restoring atomic.Bool
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		client: client,
		ttl:    ttl,
	}
}

func (s *Store) key(userID string) string {
	return keyPrefix + userID
}

// BeginRestore sets the restore-in-progress latch. While it is held, Save is
// a no-op, which keeps a restore from immediately re-saving the pointer it
// is replaying.
func (s *Store) BeginRestore() { s.restoring.Store(true) }

// EndRestore releases the latch.
func (s *Store) EndRestore() { s.restoring.Store(false) }

// Restoring reports whether a restore is in flight.
func (s *Store) Restoring() bool { return s.restoring.Load() }

// Save writes the pointer for the given user, overwriting any previous one.
// No-op without a signed-in user and no-op while a restore is in progress.
func (s *Store) Save(ctx context.Context, userID string, p *domain.Project, route string) error {
	if userID == "" || p == nil {
		return nil
	}
	if s.restoring.Load() {
		return nil
	}

	if route == "" {
		route = "/projects/" + p.ID
	}

	ptr := Pointer{
		ProjectID:    p.ID,
		ProjectTitle: p.Title,
		Route:        route,
		Timestamp:    time.Now().UTC(),
		UserID:       userID,
	}

	data, err := json.Marshal(ptr)
	if err != nil {
		return fmt.Errorf("marshal session pointer: %w", err)
	}

	if err := s.client.Set(ctx, s.key(userID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session pointer: %w", err)
	}
	return nil
}

// Load returns the stored pointer for the user, or nil when there is none.
// Corrupt entries and entries written for a different user are discarded
// with a log line, never an error: a missing pointer is a normal state.
func (s *Store) Load(ctx context.Context, userID string) (*Pointer, error) {
	if userID == "" {
		return nil, nil
	}

	data, err := s.client.Get(ctx, s.key(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session pointer: %w", err)
	}

	var ptr Pointer
	if err := json.Unmarshal([]byte(data), &ptr); err != nil {
		log.Printf("[warn] operation=session_load user_id=%s error=unparseable pointer: %v", userID, err)
		return nil, nil
	}

	if ptr.UserID != userID {
		log.Printf("[warn] operation=session_load user_id=%s error=pointer owned by %s, discarding", userID, ptr.UserID)
		return nil, nil
	}

	return &ptr, nil
}

// Clear removes the stored pointer for the user. Called on logout and on an
// explicit "forget project" action.
func (s *Store) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("clear session pointer: %w", err)
	}
	return nil
}
