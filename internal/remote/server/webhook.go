package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kilupskalvis/depot/internal/models"
	"golang.org/x/sync/errgroup"
)

const (
	EventChangelistSubmitted = "changelist.submitted"
	EventBranchMerged        = "branch.merged"
)

// WebhookEvent is the payload posted to webhook URLs.
type WebhookEvent struct {
	Event        string `json:"event"`
	Repo         string `json:"repo"`
	Branch       string `json:"branch"`
	SourceBranch string `json:"source_branch,omitempty"`
	Number       int64  `json:"number"`
	Message      string `json:"message"`
	UserID       string `json:"user_id"`
	Timestamp    string `json:"timestamp"`
}

// WebhookConfig holds the webhook URLs and the optional signing secret.
type WebhookConfig struct {
	URLs       []string
	Secret     string
	RetryDelay time.Duration // base delay between attempts, 1s if zero
}

// WebhookNotifier posts ledger events to the configured URLs. It implements ledger.Notifier.
type WebhookNotifier struct {
	config *WebhookConfig
	client *http.Client
	logger *slog.Logger
}

// NewWebhookNotifier creates a webhook notifier. Returns nil if no URLs are configured.
func NewWebhookNotifier(cfg *WebhookConfig, logger *slog.Logger) *WebhookNotifier {
	if cfg == nil || len(cfg.URLs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// ChangelistSubmitted sends a changelist.submitted event without blocking the caller.
func (wn *WebhookNotifier) ChangelistSubmitted(repo *models.Repo, branch string, cl *models.Changelist) {
	if wn == nil {
		return
	}
	go wn.send(&WebhookEvent{
		Event:     EventChangelistSubmitted,
		Repo:      repo.Name,
		Branch:    branch,
		Number:    cl.Number,
		Message:   cl.Message,
		UserID:    cl.UserID,
		Timestamp: cl.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// BranchMerged sends a branch.merged event without blocking the caller.
func (wn *WebhookNotifier) BranchMerged(repo *models.Repo, incoming, target string, cl *models.Changelist) {
	if wn == nil {
		return
	}
	go wn.send(&WebhookEvent{
		Event:        EventBranchMerged,
		Repo:         repo.Name,
		Branch:       target,
		SourceBranch: incoming,
		Number:       cl.Number,
		Message:      cl.Message,
		UserID:       cl.UserID,
		Timestamp:    cl.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// send delivers the event to every URL in parallel.
func (wn *WebhookNotifier) send(event *WebhookEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		wn.logger.Error("webhook: marshal event", "error", err)
		return
	}

	var g errgroup.Group
	for _, url := range wn.config.URLs {
		g.Go(func() error {
			if err := wn.post(url, data); err != nil {
				wn.logger.Warn("webhook: delivery failed", "url", url, "event", event.Event, "error", err)
				return err
			}
			wn.logger.Debug("webhook: delivered", "url", url, "event", event.Event)
			return nil
		})
	}
	_ = g.Wait()
}

// Sign returns the hex HMAC-SHA256 of body under secret, as sent in X-Depot-Signature.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// post sends a single webhook POST with up to 2 retries. 4xx responses are not retried.
func (wn *WebhookNotifier) post(url string, data []byte) error {
	const maxRetries = 2

	delay := wn.config.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * delay)
		}

		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "depot-server/1.0")
		if wn.config.Secret != "" {
			req.Header.Set("X-Depot-Signature", Sign(wn.config.Secret, data))
		}

		resp, err := wn.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return lastErr
		}
	}

	return lastErr
}
