package domain

import (
	"strings"
	"time"
)

// Project is the canonical in-memory shape of a planning project. The
// upstream system of record owns the record; everything here is a cached,
// possibly-stale copy keyed by ID.
type Project struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Location    string         `json:"location,omitempty"`
	Type        string         `json:"type,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	Budget      float64        `json:"budget,omitempty"`
	Area        float64        `json:"area,omitempty"`
	Status      string         `json:"status"`
	Progress    int            `json:"progress"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedBy   string         `json:"created_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Project status labels as written by the workflow engine. Status is free
// text on the wire; these are the values this service produces.
const (
	StatusPlanning   = "Planning"
	StatusInProgress = "In Progress"
	StatusCompleted  = "Completed"
)

// Metadata keys stamped by the advancement engine.
const (
	MetaTerrainCompleted     = "terrain_completed"
	MetaSuitabilityCompleted = "suitability_completed"
	MetaZoningCompleted      = "zoning_completed"
	MetaPreviousStage        = "previous_stage"
	MetaStageChangedAt       = "stage_changed_at"
)

// Flag reports whether a metadata key holds a truthy completion marker.
// Upstream records carry these as booleans, but older rows use the strings
// "true"/"1", so both are accepted.
func (p *Project) Flag(key string) bool {
	if p == nil || p.Metadata == nil {
		return false
	}
	switch v := p.Metadata[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	default:
		return false
	}
}

// HasStatus compares the free-text status label case-insensitively.
func (p *Project) HasStatus(label string) bool {
	return p != nil && strings.EqualFold(strings.TrimSpace(p.Status), label)
}

// Patch is the partial update applied to a project by the workflow engine
// and by user edits. Nil fields are left untouched upstream.
type Patch struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Location    *string        `json:"location,omitempty"`
	Status      *string        `json:"status,omitempty"`
	Progress    *int           `json:"progress,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Stats is the aggregate view served by the upstream stats endpoint.
type Stats struct {
	Total      int            `json:"total"`
	Active     int            `json:"active"`
	Completed  int            `json:"completed"`
	ByStatus   map[string]int `json:"by_status,omitempty"`
	ByPriority map[string]int `json:"by_priority,omitempty"`
}
