package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/metroplan/metroplan-backend/internal/projects/domain"
	"github.com/metroplan/metroplan-backend/internal/workflow"
)

// HTTPNotifier posts stage-change events to the notification service. The
// advancement engine treats delivery as best effort, so errors returned here
// end up logged, never propagated.
type HTTPNotifier struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPNotifier(baseURL string) *HTTPNotifier {
	return &HTTPNotifier{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type stageChangeEvent struct {
	ProjectID    string `json:"project_id"`
	ProjectTitle string `json:"project_title"`
	UserID       string `json:"user_id,omitempty"`
	FromStage    string `json:"from_stage"`
	ToStage      string `json:"to_stage"`
	OccurredAt   string `json:"occurred_at"`
}

// StageChanged implements workflow.Notifier.
func (n *HTTPNotifier) StageChanged(ctx context.Context, p *domain.Project, from, to *workflow.Stage) error {
	if n == nil || n.baseURL == "" {
		return nil
	}

	event := stageChangeEvent{
		ProjectID:    p.ID,
		ProjectTitle: p.Title,
		UserID:       p.CreatedBy,
		FromStage:    from.ID,
		ToStage:      to.ID,
		OccurredAt:   time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode stage event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/notifications/stage-change", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification service status %d", resp.StatusCode)
	}
	return nil
}
