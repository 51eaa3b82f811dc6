package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/metroplan/metroplan-backend/internal/projects/domain"
)

// Client talks to the projects system of record. Every call carries the
// caller's bearer token; a missing token short-circuits to an empty result
// instead of erroring, which keeps consumers inert during logout
// transitions. HTTP 429 responses are retried with bounded exponential
// backoff, HTTP 401 maps to domain.ErrAuthRequired, everything else passes
// through unchanged.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	// sleep is swapped out in tests to avoid real backoff waits
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client for the given upstream base URL. ratePerSecond
// caps outbound request rate client-side; zero disables the cap.
func NewClient(baseURL string, ratePerSecond float64) *Client {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond))
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: limiter,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryDelay computes the wait before the next attempt: the upstream's
// retry-after header when present (milliseconds), else 1000ms * 2^attempt
// capped at 10s.
func retryDelay(attempt int, retryAfter string) time.Duration {
	if retryAfter != "" {
		if ms, err := strconv.Atoi(retryAfter); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}

	delay := backoffBase << uint(attempt)
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay
}

// do issues one request, retrying on 429 per the backoff policy. The caller
// owns the returned body. Backoff waits respect ctx cancellation, so a
// pending retry dies with its caller.
func (c *Client) do(ctx context.Context, method, path, token string, body []byte) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		duration := time.Since(start)
		if err != nil {
			recordCall(duration, err)
			return nil, fmt.Errorf("upstream request failed: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			recordCall(duration, nil)
			return resp, nil
		}

		// Rate limited. Schedule one retry while the budget lasts; after
		// that give up quietly so callers keep whatever they already have.
		recordRateLimit()
		retryAfter := resp.Header.Get("Retry-After")
		resp.Body.Close()

		if attempt >= maxRetries {
			recordCall(duration, domain.ErrRateLimited)
			recordAbandonment()
			log.Printf("[warn] operation=upstream_request method=%s path=%s error=rate limited, retries exhausted", method, path)
			return nil, domain.ErrRateLimited
		}

		recordRetry()
		if err := c.sleep(ctx, retryDelay(attempt, retryAfter)); err != nil {
			return nil, err
		}
	}
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, payload any) (*http.Response, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	resp, err := c.do(ctx, method, path, token, body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		return nil, domain.ErrAuthRequired
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, domain.ErrNotFound
	case resp.StatusCode >= 400:
		resp.Body.Close()
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	return resp, nil
}

// List fetches all projects visible to the token's user.
func (c *Client) List(ctx context.Context, token string) ([]*domain.Project, error) {
	if token == "" {
		return nil, nil
	}

	resp, err := c.doJSON(ctx, http.MethodGet, "/projects", token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return domain.DecodeProjectList(resp.Body)
}

// ListByUser fetches the projects owned by one user.
func (c *Client) ListByUser(ctx context.Context, token, userID string) ([]*domain.Project, error) {
	if token == "" {
		return nil, nil
	}

	resp, err := c.doJSON(ctx, http.MethodGet, "/users/"+userID+"/projects", token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return domain.DecodeProjectList(resp.Body)
}

// Get fetches a single project.
func (c *Client) Get(ctx context.Context, token, id string) (*domain.Project, error) {
	if token == "" {
		return nil, nil
	}

	resp, err := c.doJSON(ctx, http.MethodGet, "/projects/"+id, token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return domain.DecodeProject(resp.Body)
}

// CreateRequest is the payload for creating a project. Status and progress
// are not accepted from callers: new projects always start at Planning / 0.
type CreateRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Location    string  `json:"location,omitempty"`
	Type        string  `json:"type,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	Budget      float64 `json:"budget,omitempty"`
	Area        float64 `json:"area,omitempty"`
}

// Create creates a project with status Planning and progress 0.
func (c *Client) Create(ctx context.Context, token string, req CreateRequest) (*domain.Project, error) {
	if token == "" {
		return nil, nil
	}

	payload := struct {
		CreateRequest
		Status   string `json:"status"`
		Progress int    `json:"progress"`
	}{
		CreateRequest: req,
		Status:        domain.StatusPlanning,
		Progress:      0,
	}

	resp, err := c.doJSON(ctx, http.MethodPost, "/projects", token, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return domain.DecodeProject(resp.Body)
}

// Update applies a partial update and returns the refreshed record.
func (c *Client) Update(ctx context.Context, token, id string, patch domain.Patch) (*domain.Project, error) {
	if token == "" {
		return nil, nil
	}

	resp, err := c.doJSON(ctx, http.MethodPut, "/projects/"+id, token, patch)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return domain.DecodeProject(resp.Body)
}

// Delete removes a project.
func (c *Client) Delete(ctx context.Context, token, id string) error {
	if token == "" {
		return nil
	}

	resp, err := c.doJSON(ctx, http.MethodDelete, "/projects/"+id, token, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// UpdateStatus sets only the status label.
func (c *Client) UpdateStatus(ctx context.Context, token, id, status string) (*domain.Project, error) {
	if token == "" {
		return nil, nil
	}

	payload := map[string]string{"status": status}
	resp, err := c.doJSON(ctx, http.MethodPut, "/projects/"+id+"/status", token, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return domain.DecodeProject(resp.Body)
}

// Stats fetches the aggregate project stats.
func (c *Client) Stats(ctx context.Context, token string) (*domain.Stats, error) {
	if token == "" {
		return nil, nil
	}

	resp, err := c.doJSON(ctx, http.MethodGet, "/projects/stats", token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var stats domain.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &stats, nil
}
