package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"naming_events/pkg/config"
	"naming_events/pkg/data"
	"naming_events/pkg/event"
)

// recorder collects announcements and can be told to fail or block
type recorder struct {
	mu      sync.Mutex
	texts   []string
	err     error
	release chan struct{}
}

func (r *recorder) Announce(ctx context.Context, tenantID, text string) error {
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, tenantID+": "+text)
	return r.err
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	require.NoError(t, n.Announce(context.Background(), "t1", "voting is open"))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "t1", entry.ContextMap()["tenant"])
	assert.Equal(t, "voting is open", entry.ContextMap()["text"])
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("boom")}

	err := Fanout{ok, bad}.Announce(context.Background(), "t1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"t1: hello"}, ok.got())
	assert.Equal(t, []string{"t1: hello"}, bad.got())
}

func TestWebhookNotifier(t *testing.T) {
	var mu sync.Mutex
	var received []webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
		if p.Tenant == "broken" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	ctx := context.Background()
	repo := data.NewMemoryRepository()
	require.NoError(t, repo.SaveDestination(ctx, &data.Destination{
		TenantID: "t1", ChannelID: "ch-1", RoleID: "role-1", WebhookURL: server.URL + "/t1",
	}))
	require.NoError(t, repo.SaveDestination(ctx, &data.Destination{
		TenantID: "t2", ChannelID: "ch-2", RoleID: "role-2",
	}))

	t.Run("TenantWebhook", func(t *testing.T) {
		n := NewWebhookNotifier(config.NotifierConfig{Timeout: time.Second}, repo, zaptest.NewLogger(t))
		require.NoError(t, n.Announce(ctx, "t1", "oak wins"))

		mu.Lock()
		defer mu.Unlock()
		require.NotEmpty(t, received)
		assert.Equal(t, webhookPayload{Tenant: "t1", ChannelID: "ch-1", RoleID: "role-1", Content: "oak wins"}, received[len(received)-1])
	})

	t.Run("DefaultWebhook", func(t *testing.T) {
		n := NewWebhookNotifier(config.NotifierConfig{WebhookURL: server.URL, Timeout: time.Second}, repo, zaptest.NewLogger(t))
		require.NoError(t, n.Announce(ctx, "t2", "voting is open"))

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "ch-2", received[len(received)-1].ChannelID)
	})

	t.Run("NoWebhookSkips", func(t *testing.T) {
		n := NewWebhookNotifier(config.NotifierConfig{Timeout: time.Second}, repo, zaptest.NewLogger(t))
		mu.Lock()
		before := len(received)
		mu.Unlock()

		require.NoError(t, n.Announce(ctx, "t2", "ignored"))

		mu.Lock()
		defer mu.Unlock()
		assert.Len(t, received, before)
	})

	t.Run("ErrorStatus", func(t *testing.T) {
		n := NewWebhookNotifier(config.NotifierConfig{WebhookURL: server.URL, Timeout: time.Second}, repo, zaptest.NewLogger(t))
		err := n.Announce(ctx, "broken", "x")
		require.Error(t, err)
		assert.True(t, event.IsExternal(err))
	})

	t.Run("Unreachable", func(t *testing.T) {
		n := NewWebhookNotifier(config.NotifierConfig{WebhookURL: "http://127.0.0.1:1", Timeout: time.Second}, repo, zaptest.NewLogger(t))
		err := n.Announce(ctx, "t3", "x")
		require.Error(t, err)
		assert.True(t, event.IsExternal(err))
	})
}

func TestDispatcherDelivers(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, config.NotifierConfig{QueueSize: 8, Workers: 1, Timeout: time.Second}, zaptest.NewLogger(t))
	d.Start()

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, d.Announce(context.Background(), "t1", text))
	}
	d.Stop()

	assert.Equal(t, []string{"t1: one", "t1: two", "t1: three"}, rec.got())
	assert.Equal(t, int64(3), d.Stats().Delivered)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	rec := &recorder{release: make(chan struct{})}
	d := NewDispatcher(rec, config.NotifierConfig{QueueSize: 1, Workers: 1}, zaptest.NewLogger(t))
	d.Start()

	// The worker takes the first and blocks; the second fills the queue.
	require.NoError(t, d.Announce(context.Background(), "t1", "first"))
	require.Eventually(t, func() bool { return d.Stats().Queued == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Announce(context.Background(), "t1", "second"))
	require.NoError(t, d.Announce(context.Background(), "t1", "third"))

	assert.Equal(t, int64(1), d.Stats().Dropped)

	close(rec.release)
	d.Stop()
	assert.Equal(t, []string{"t1: first", "t1: second"}, rec.got())
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	rec := &recorder{err: event.NewExternal("notifier", errors.New("down"))}
	d := NewDispatcher(rec, config.NotifierConfig{QueueSize: 4, Workers: 2}, zaptest.NewLogger(t))
	d.Start()

	require.NoError(t, d.Announce(context.Background(), "t1", "hello"))
	d.Stop()

	assert.Equal(t, int64(1), d.Stats().Failed)
	assert.NoError(t, d.Announce(context.Background(), "t1", "after stop"))
	assert.Equal(t, int64(1), d.Stats().Dropped)
}
