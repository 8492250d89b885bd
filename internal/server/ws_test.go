package server

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/stibe881/traumfunke/internal/generator"
	"github.com/stibe881/traumfunke/internal/notify"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func dialWS(t *testing.T, ts *testServer, userID string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/v0/ws/requests"
	conn, _, err := websocket.Dial(context.Background(), url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + userToken(t, userID)}},
	})
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	return conn
}

func TestWSStreamsUserEvents(t *testing.T) {
	ts := newTestServer(t, generator.Client{})
	conn := dialWS(t, ts, "user-1")
	defer conn.Close(websocket.StatusNormalClosure, "")

	waitFor(t, "subscription", func() bool { return ts.Hub.SubscriberCount("user-1") == 1 })
	ts.Hub.Publish(notify.ChangeEvent{
		Type:      notify.ChangeUpdate,
		RequestID: "req-1",
		UserID:    "user-1",
		Status:    "processing",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var ev notify.ChangeEvent
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.RequestID != "req-1" || ev.Type != notify.ChangeUpdate {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestWSUnsubscribesOnDisconnect(t *testing.T) {
	ts := newTestServer(t, generator.Client{})
	conn := dialWS(t, ts, "user-1")

	waitFor(t, "subscription", func() bool { return ts.Hub.SubscriberCount("user-1") == 1 })

	// an idle client closing must release the hub subscription
	conn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, "unsubscribe", func() bool { return ts.Hub.SubscriberCount("user-1") == 0 })
}

func TestWSRequiresAuth(t *testing.T) {
	ts := newTestServer(t, generator.Client{})
	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/v0/ws/requests"
	_, resp, err := websocket.Dial(context.Background(), url, nil)
	if err == nil {
		t.Fatal("dial without credentials succeeded")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}
