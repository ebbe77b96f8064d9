package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welldanyogia/mailarchive/internal/health"
	"github.com/welldanyogia/mailarchive/internal/models"
)

var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil)
	hub.now = func() time.Time { return fixedNow }
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func receive(t *testing.T, client *Client) WSMessage {
	t.Helper()
	select {
	case data := <-client.send:
		var msg WSMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("expected a message")
		return WSMessage{}
	}
}

func assertSilent(t *testing.T, client *Client) {
	t.Helper()
	select {
	case data := <-client.send:
		t.Fatalf("unexpected message %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

// ==================== Origin Tests ====================

func TestNewSecureUpgrader_CheckOrigin(t *testing.T) {
	tests := []struct {
		name     string
		allowed  string
		origin   string
		expected bool
	}{
		{"listed origin", "http://localhost:3000,http://example.com", "http://example.com", true},
		{"unlisted origin", "http://localhost:3000", "http://malicious.com", false},
		{"same origin", "http://localhost:3000", "", true},
		{"default origin", "", "http://localhost:3000", true},
		{"comma only list", ",,,", "http://localhost:3000", true},
		{"surrounding whitespace", "  http://localhost:3000  ,  http://example.com  ", "http://example.com", true},
		{"case sensitive", "http://localhost:3000", "HTTP://LOCALHOST:3000", false},
		{"origin with path", "http://localhost:3000", "http://localhost:3000/some/path", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			upgrader := NewSecureUpgrader(tt.allowed, nil)
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			// Act & Assert
			assert.Equal(t, tt.expected, upgrader.CheckOrigin(req))
		})
	}
}

func TestParseOrigins_FiltersBlanks(t *testing.T) {
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, ParseOrigins("http://a.test,, http://b.test ,"))
	assert.Equal(t, []string{"http://localhost:3000"}, ParseOrigins(""))
}

func TestNewSecureUpgrader_BufferSizes(t *testing.T) {
	upgrader := NewSecureUpgrader("", nil)

	assert.Equal(t, 1024, upgrader.ReadBufferSize)
	assert.Equal(t, 1024, upgrader.WriteBufferSize)
}

func TestDefaultUpgrader_AllowsAll(t *testing.T) {
	upgrader := DefaultUpgrader()

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://malicious.com")

	assert.True(t, upgrader.CheckOrigin(req))
}

// ==================== Hub Tests ====================

func TestHub_NewHub(t *testing.T) {
	hub := NewHub(nil)

	assert.NotNil(t, hub.clients)
	assert.NotNil(t, hub.subscriptions)
	assert.NotNil(t, hub.watchers)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_EmailArchivedReachesMailboxSubscribers(t *testing.T) {
	// Arrange
	hub := startHub(t)
	subscriber := NewClient(hub, nil, nil)
	other := NewClient(hub, nil, nil)
	hub.Register(subscriber)
	hub.Register(other)
	hub.Subscribe(subscriber, 7)
	hub.Subscribe(other, 8)

	// Act
	hub.EmailArchived(7, 42, "report-1@example.com", "Quarterly report")

	// Assert
	msg := receive(t, subscriber)
	assert.Equal(t, MessageTypeEmailArchived, msg.Type)
	assert.Equal(t, uint(7), msg.MailboxID)
	payload := msg.Message.(map[string]interface{})
	assert.Equal(t, float64(42), payload["id"])
	assert.Equal(t, "report-1@example.com", payload["message_id"])
	assert.Equal(t, "Quarterly report", payload["subject"])
	assert.Equal(t, "2024-03-15T10:30:00Z", payload["archived_at"])
	assertSilent(t, other)
}

func TestHub_UnsubscribedClientHearsNothing(t *testing.T) {
	// Arrange
	hub := startHub(t)
	client := NewClient(hub, nil, nil)
	hub.Register(client)
	hub.Subscribe(client, 7)
	hub.Unsubscribe(client, 7)

	// Act
	hub.EmailArchived(7, 1, "a@example.com", "")

	// Assert
	assertSilent(t, client)
}

func TestHub_HealthChangedReachesWatchersOnly(t *testing.T) {
	// Arrange
	hub := startHub(t)
	watcher := NewClient(hub, nil, nil)
	subscriber := NewClient(hub, nil, nil)
	hub.Register(watcher)
	hub.Register(subscriber)
	hub.WatchHealth(watcher, true)
	hub.Subscribe(subscriber, 3)

	// Act
	err := hub.HealthChanged(context.Background(), nil, health.Change{
		Kind:     health.KindMailbox,
		ID:       3,
		From:     models.HealthHealthy,
		To:       models.HealthUnhealthy,
		Error:    "login failed",
		At:       fixedNow,
		Cascaded: true,
	})

	// Assert
	require.NoError(t, err)
	msg := receive(t, watcher)
	assert.Equal(t, MessageTypeHealthChanged, msg.Type)
	assert.Equal(t, uint(3), msg.MailboxID)
	payload := msg.Message.(map[string]interface{})
	assert.Equal(t, "mailbox", payload["kind"])
	assert.Equal(t, "healthy", payload["from"])
	assert.Equal(t, "unhealthy", payload["to"])
	assert.Equal(t, "login failed", payload["error"])
	assert.Equal(t, true, payload["cascaded"])
	assertSilent(t, subscriber)
}

func TestHub_UnwatchStopsHealthFeed(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil, nil)
	hub.Register(client)
	hub.WatchHealth(client, true)
	hub.WatchHealth(client, false)

	require.NoError(t, hub.HealthChanged(context.Background(), nil, health.Change{Kind: health.KindAccount, ID: 1, At: fixedNow}))

	assertSilent(t, client)
}

func TestHub_UnregisterClosesSendChannel(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil, nil)
	hub.Register(client)
	hub.Subscribe(client, 7)

	hub.Unregister(client)

	_, open := <-client.send
	assert.False(t, open)
	hub.mu.RLock()
	_, exists := hub.subscriptions[7]
	hub.mu.RUnlock()
	assert.False(t, exists)
}

func TestHub_StopClosesClientsAndUnblocksCallers(t *testing.T) {
	// Arrange
	hub := NewHub(nil)
	go hub.Run()
	client := NewClient(hub, nil, nil)
	hub.Register(client)

	// Act
	hub.Stop()

	// Assert
	select {
	case _, open := <-client.send:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("send channel was not closed")
	}
	hub.Register(NewClient(hub, nil, nil))
	hub.Stop()
}

func TestHub_FullQueueDropsEvents(t *testing.T) {
	// No Run loop: the queue fills and further events are dropped
	hub := NewHub(nil)

	for i := 0; i < cap(hub.broadcast)+10; i++ {
		hub.EmailArchived(1, uint(i), "x@example.com", "")
	}

	assert.Len(t, hub.broadcast, cap(hub.broadcast))
}
