package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kilupskalvis/depot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	webhookRepo = &models.Repo{ID: "r1", Name: "game"}
	webhookCL   = &models.Changelist{
		Number:    7,
		Message:   "fix spawn",
		UserID:    "alice",
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
)

func TestNewWebhookNotifier_NilConfig(t *testing.T) {
	assert.Nil(t, NewWebhookNotifier(nil, discardLogger()))
}

func TestNewWebhookNotifier_EmptyURLs(t *testing.T) {
	assert.Nil(t, NewWebhookNotifier(&WebhookConfig{}, discardLogger()))
}

func TestWebhookNotifier_NilReceiver(t *testing.T) {
	var wn *WebhookNotifier
	wn.ChangelistSubmitted(webhookRepo, "main", webhookCL)
	wn.BranchMerged(webhookRepo, "feature/x", "main", webhookCL)
}

// collector records delivered events and their signature headers.
type collector struct {
	mu         sync.Mutex
	events     []WebhookEvent
	signatures []string
	bodies     [][]byte
}

func (c *collector) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	c.events = append(c.events, event)
	c.signatures = append(c.signatures, r.Header.Get("X-Depot-Signature"))
	c.bodies = append(c.bodies, body)
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestWebhookNotifier_ChangelistSubmitted(t *testing.T) {
	c := &collector{}
	ts := httptest.NewServer(http.HandlerFunc(c.handler))
	defer ts.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{ts.URL}}, discardLogger())
	require.NotNil(t, wn)
	wn.ChangelistSubmitted(webhookRepo, "main", webhookCL)

	require.Eventually(t, func() bool { return c.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	ev := c.events[0]
	assert.Equal(t, EventChangelistSubmitted, ev.Event)
	assert.Equal(t, "game", ev.Repo)
	assert.Equal(t, "main", ev.Branch)
	assert.Equal(t, int64(7), ev.Number)
	assert.Equal(t, "alice", ev.UserID)
	assert.Equal(t, "2024-03-01T12:00:00Z", ev.Timestamp)
	assert.Empty(t, c.signatures[0])
}

func TestWebhookNotifier_BranchMerged_Signed(t *testing.T) {
	c := &collector{}
	ts := httptest.NewServer(http.HandlerFunc(c.handler))
	defer ts.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{ts.URL}, Secret: "s3cret"}, discardLogger())
	wn.BranchMerged(webhookRepo, "feature/x", "main", webhookCL)

	require.Eventually(t, func() bool { return c.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, EventBranchMerged, c.events[0].Event)
	assert.Equal(t, "feature/x", c.events[0].SourceBranch)
	assert.Equal(t, "main", c.events[0].Branch)
	assert.Equal(t, Sign("s3cret", c.bodies[0]), c.signatures[0])
}

func TestWebhookNotifier_MultipleURLs(t *testing.T) {
	c := &collector{}
	ts1 := httptest.NewServer(http.HandlerFunc(c.handler))
	defer ts1.Close()
	ts2 := httptest.NewServer(http.HandlerFunc(c.handler))
	defer ts2.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{ts1.URL, ts2.URL}}, discardLogger())
	wn.ChangelistSubmitted(webhookRepo, "main", webhookCL)

	require.Eventually(t, func() bool { return c.count() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebhookNotifier_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{ts.URL}, RetryDelay: time.Millisecond}, discardLogger())
	require.NoError(t, wn.post(ts.URL, []byte(`{}`)))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookNotifier_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{ts.URL}, RetryDelay: time.Millisecond}, discardLogger())
	err := wn.post(ts.URL, []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSign(t *testing.T) {
	sig := Sign("key", []byte("payload"))
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)
	assert.Equal(t, sig, Sign("key", []byte("payload")))
	assert.NotEqual(t, sig, Sign("other", []byte("payload")))
}
