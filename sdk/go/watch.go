package traumfunkesdk

import (
	"context"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ChangeEvent is a push notification about one request. Treat it as a hint
// to refetch; the payload is not authoritative state.
type ChangeEvent struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	Status    string `json:"status,omitempty"`
}

// WatchRequests opens the change stream and invokes fn per event until ctx
// is cancelled or the connection drops.
func (c *Client) WatchRequests(ctx context.Context, fn func(ChangeEvent)) error {
	wsURL := c.base() + "/v0/ws/requests"
	if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + strings.TrimPrefix(wsURL, "http")
	}
	header := http.Header{}
	switch {
	case c.BearerToken != "":
		header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		header.Set("X-Api-Key", c.APIKey)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	for {
		var ev ChangeEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		fn(ev)
	}
}
