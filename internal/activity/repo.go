package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event kinds recorded by the orchestrator.
const (
	KindProjectSelected = "project_selected"
	KindStageChanged    = "stage_changed"
	KindProjectCreated  = "project_created"
	KindProjectDeleted  = "project_deleted"
)

// Event is one row in the activity log.
type Event struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	ProjectID string         `json:"project_id"`
	Kind      string         `json:"kind"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Repo persists activity events in Postgres.
type Repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// Record inserts one event. IDs are assigned here when absent.
func (r *Repo) Record(ctx context.Context, ev *Event) error {
	if ev.UserID == "" {
		return fmt.Errorf("user id required")
	}
	if ev.Kind == "" {
		return fmt.Errorf("event kind required")
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	detail, err := json.Marshal(ev.Detail)
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}

	const q = `
INSERT INTO activity_events (id, user_id, project_id, kind, detail)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at;
`
	err = r.db.QueryRowContext(ctx, q, ev.ID, ev.UserID, ev.ProjectID, ev.Kind, detail).
		Scan(&ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert activity event: %w", err)
	}
	return nil
}

// ListRecent returns the newest events for a user, most recent first.
func (r *Repo) ListRecent(ctx context.Context, userID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	const q = `
SELECT id, user_id, project_id, kind, detail, created_at
FROM activity_events
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0, limit)
	for rows.Next() {
		var ev Event
		var detail []byte
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.ProjectID, &ev.Kind, &detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &ev.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal event detail: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
