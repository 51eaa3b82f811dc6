package domain

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// wireProject tolerates the shapes the upstream API has historically served:
// Mongo-style "_id" next to "id", camelCase "createdBy" next to snake_case,
// and fractional progress values. Normalization happens here, once, at
// ingestion; nothing past this boundary branches on shape again.
type wireProject struct {
	ID          string         `json:"id"`
	AltID       string         `json:"_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Location    string         `json:"location"`
	Type        string         `json:"type"`
	Priority    string         `json:"priority"`
	Budget      float64        `json:"budget"`
	Area        float64        `json:"area"`
	Status      string         `json:"status"`
	Progress    float64        `json:"progress"`
	Metadata    map[string]any `json:"metadata"`
	CreatedBy   string         `json:"created_by"`
	CreatedByCC string         `json:"createdBy"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (w *wireProject) normalize() (*Project, error) {
	id := strings.TrimSpace(w.ID)
	if id == "" {
		id = strings.TrimSpace(w.AltID)
	}
	if id == "" {
		return nil, fmt.Errorf("project record missing id")
	}

	createdBy := w.CreatedBy
	if createdBy == "" {
		createdBy = w.CreatedByCC
	}

	progress := int(w.Progress)
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	return &Project{
		ID:          id,
		Title:       w.Title,
		Description: w.Description,
		Location:    w.Location,
		Type:        w.Type,
		Priority:    w.Priority,
		Budget:      w.Budget,
		Area:        w.Area,
		Status:      w.Status,
		Progress:    progress,
		Metadata:    w.Metadata,
		CreatedBy:   createdBy,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}, nil
}

// DecodeProject reads one project record from an upstream response body.
func DecodeProject(r io.Reader) (*Project, error) {
	var w wireProject
	if err := json.NewDecoder(r).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode project: %w", err)
	}
	return w.normalize()
}

// DecodeProjectList reads a list response. Records that fail normalization
// (no id under either key) are dropped rather than failing the whole list.
func DecodeProjectList(r io.Reader) ([]*Project, error) {
	var ws []wireProject
	if err := json.NewDecoder(r).Decode(&ws); err != nil {
		return nil, fmt.Errorf("decode project list: %w", err)
	}

	out := make([]*Project, 0, len(ws))
	for i := range ws {
		p, err := ws[i].normalize()
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
