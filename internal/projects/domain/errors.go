package domain

import "errors"

var (
	ErrNotFound     = errors.New("project not found")
	ErrAuthRequired = errors.New("authentication required")
	ErrRateLimited  = errors.New("rate limited by upstream")
	ErrNoSelection  = errors.New("no project selected")
)
