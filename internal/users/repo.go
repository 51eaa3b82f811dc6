package users

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Roles recognized by the product. Role gates the admin surface; planners
// and viewers differ only in write access, which the upstream API enforces.
const (
	RoleAdmin   = "admin"
	RolePlanner = "planner"
	RoleViewer  = "viewer"
)

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{db: db}
}

type UpsertUser struct {
	FirebaseUID string
	Email       string
	DisplayName string
	Role        string
}

// EnsureUser creates or refreshes the user row for a verified token and
// returns its database id. The role defaults to viewer on first sight and is
// never downgraded from here.
func (r *Repo) EnsureUser(ctx context.Context, u UpsertUser) (string, error) {
	if u.FirebaseUID == "" {
		return "", fmt.Errorf("firebase_uid required")
	}
	if u.Role == "" {
		u.Role = RoleViewer
	}

	const q = `
insert into users (firebase_uid, email, display_name, role, updated_at)
values ($1, nullif($2,''), nullif($3,''), $4, now())
on conflict (firebase_uid) do update
set
  email = coalesce(excluded.email, users.email),
  display_name = coalesce(excluded.display_name, users.display_name),
  updated_at = now()
returning id::text;
`
	var id string
	if err := r.db.QueryRow(ctx, q, u.FirebaseUID, u.Email, u.DisplayName, u.Role).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

// Role returns the stored role for a user.
func (r *Repo) Role(ctx context.Context, firebaseUID string) (string, error) {
	const q = `select role from users where firebase_uid = $1;`

	var role string
	if err := r.db.QueryRow(ctx, q, firebaseUID).Scan(&role); err != nil {
		return "", err
	}
	return role, nil
}
