package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Poller checks the notification service on a fixed interval and caches the
// per-user unread counts so the API can serve them without another round
// trip. Mirrors the 30-second background poll the web client runs.
type Poller struct {
	baseURL    string
	httpClient *http.Client
	interval   time.Duration
	cron       *cron.Cron

	mu     sync.RWMutex
	unread map[string]int
}

func NewPoller(baseURL string, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		interval: interval,
		unread:   make(map[string]int),
	}
}

// Start schedules the poll. No-op when no notification service is configured.
func (p *Poller) Start() error {
	if p.baseURL == "" {
		log.Println("notification poller disabled (no NOTIFICATION_API_URL)")
		return nil
	}

	p.cron = cron.New(cron.WithSeconds())
	spec := fmt.Sprintf("@every %s", p.interval)
	if _, err := p.cron.AddFunc(spec, p.poll); err != nil {
		return fmt.Errorf("schedule notification poll: %w", err)
	}

	log.Printf("notification poller started (every %s)", p.interval)
	p.cron.Start()
	return nil
}

// Stop cancels the scheduled poll and waits for a running one to finish.
func (p *Poller) Stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
}

func (p *Poller) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/notifications/unread-counts", nil)
	if err != nil {
		return
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		log.Printf("[warn] operation=notification_poll error=%v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[warn] operation=notification_poll error=status %d", resp.StatusCode)
		return
	}

	var counts map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		log.Printf("[warn] operation=notification_poll error=decode: %v", err)
		return
	}

	p.mu.Lock()
	p.unread = counts
	p.mu.Unlock()
}

// UnreadCount returns the cached unread count for a user.
func (p *Poller) UnreadCount(userID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.unread[userID]
}
