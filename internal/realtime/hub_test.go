package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/sungwoon-dev/mealpass/internal/models"
)

func TestAllowedStreams(t *testing.T) {
	student := AllowedStreams(models.RoleStudent)
	require.Contains(t, student, StreamEligibility)
	require.NotContains(t, student, StreamRedemptions)

	teacher := AllowedStreams(models.RoleTeacher)
	require.Contains(t, teacher, StreamEligibility)
	require.Contains(t, teacher, StreamRedemptions)

	admin := AllowedStreams(models.RoleAdmin)
	require.Contains(t, admin, StreamRedemptions)
}

func TestUniqueStreams(t *testing.T) {
	got := uniqueStreams([]string{" Eligibility", "eligibility", "", "redemptions"})
	require.Equal(t, []string{"eligibility", "redemptions"}, got)
}

func TestHostWithoutPort(t *testing.T) {
	require.Equal(t, "example.com", hostWithoutPort("example.com:8080"))
	require.Equal(t, "example.com", hostWithoutPort("https://example.com:8443"))
	require.Equal(t, "localhost", hostWithoutPort("localhost"))
	require.Empty(t, hostWithoutPort("  "))
}

func TestIsLoopback(t *testing.T) {
	require.True(t, isLoopback("127.0.0.1"))
	require.True(t, isLoopback("localhost"))
	require.False(t, isLoopback("example.com"))
}

func TestBroadcastWithoutSubscribersIsSafe(t *testing.T) {
	hub := NewHub()
	hub.NotifyEligibility(&models.User{ID: "user-1"})
	hub.NotifyRedemption(map[string]string{"name": "Kim Jiho"})
	hub.BroadcastToUser(StreamEligibility, "", Message{Event: "noop"})
}

// dialTestClient upgrades a real WebSocket and registers it with the hub, but
// starts no read/write loops so the outbound buffer can be filled
// deterministically.
func dialTestClient(t *testing.T, hub *Hub, userID string, streams []string) *connection {
	t.Helper()

	ready := make(chan *connection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := hub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := newConnection(hub, conn, userID, nil)
		hub.subscribe(client, streams)
		ready <- client
	}))
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	select {
	case client := <-ready:
		return client
	case <-time.After(2 * time.Second):
		t.Fatal("websocket upgrade did not complete")
		return nil
	}
}

func TestBroadcastDropsBackpressuredClient(t *testing.T) {
	hub := NewHub()
	client := dialTestClient(t, hub, "student-1", []string{StreamEligibility})

	for i := 0; i < defaultBufferSize; i++ {
		require.True(t, client.trySend(Message{Event: "fill"}))
	}

	done := make(chan struct{})
	go func() {
		hub.BroadcastToUser(StreamEligibility, "student-1", Message{Event: "eligibility.updated"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a backpressured client")
	}

	// The stalled connection was unregistered; later broadcasts find nobody.
	hub.mu.RLock()
	_, subscribed := hub.subscriptions[StreamEligibility]
	hub.mu.RUnlock()
	require.False(t, subscribed)

	hub.BroadcastToUser(StreamEligibility, "student-1", Message{Event: "eligibility.updated"})
	hub.BroadcastStream(StreamEligibility, Message{Event: "eligibility.updated"})

	// Sends after teardown are inert, not panics.
	require.NotPanics(t, func() { client.trySend(Message{Event: "late"}) })
	require.True(t, client.trySend(Message{Event: "late"}))
}

func TestBroadcastStreamDropsOnlyStalledClients(t *testing.T) {
	hub := NewHub()
	stalled := dialTestClient(t, hub, "teacher-1", []string{StreamRedemptions})
	healthy := dialTestClient(t, hub, "teacher-2", []string{StreamRedemptions})

	for i := 0; i < defaultBufferSize; i++ {
		require.True(t, stalled.trySend(Message{Event: "fill"}))
	}

	done := make(chan struct{})
	go func() {
		hub.BroadcastStream(StreamRedemptions, Message{Event: "redemption.accepted"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a backpressured client")
	}

	select {
	case msg := <-healthy.send:
		require.Equal(t, "redemption.accepted", msg.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("healthy subscriber did not receive the broadcast")
	}

	hub.mu.RLock()
	_, stalledSubscribed := hub.subscriptions[StreamRedemptions]["teacher-1"]
	_, healthySubscribed := hub.subscriptions[StreamRedemptions]["teacher-2"]
	hub.mu.RUnlock()
	require.False(t, stalledSubscribed)
	require.True(t, healthySubscribed)
}
