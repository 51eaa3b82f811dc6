package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/metroplan/metroplan-backend/internal/workflow"
)

// Client asks the terrain/suitability/zoning analysis backends whether a
// project has completed analyses that are not yet reflected in its own
// metadata. These feed the advancement engine as auxiliary signals.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type signalsResponse struct {
	Terrain     bool `json:"terrain"`
	Suitability bool `json:"suitability"`
	Zoning      bool `json:"zoning"`
}

// Signals fetches the analysis completion flags for a project. A client
// without a configured backend, and any fetch failure, yields zero signals:
// advancement then falls back to the project's own metadata, which fails
// safe to "no advancement".
func (c *Client) Signals(ctx context.Context, token, projectID string) workflow.AuxiliarySignals {
	if c == nil || c.baseURL == "" || token == "" {
		return workflow.AuxiliarySignals{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/projects/"+projectID+"/signals", nil)
	if err != nil {
		return workflow.AuxiliarySignals{}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return workflow.AuxiliarySignals{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return workflow.AuxiliarySignals{}
	}

	var sig signalsResponse
	if err := json.NewDecoder(resp.Body).Decode(&sig); err != nil {
		return workflow.AuxiliarySignals{}
	}

	return workflow.AuxiliarySignals{
		HasTerrainAnalysis:     sig.Terrain,
		HasSuitabilityAnalysis: sig.Suitability,
		HasZoning:              sig.Zoning,
	}
}

// Healthy pings the analysis backend.
func (c *Client) Healthy(ctx context.Context) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("analysis backend not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("analysis backend status %d", resp.StatusCode)
	}
	return nil
}
