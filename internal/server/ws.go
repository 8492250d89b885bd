package server

import (
	"net/http"
	"path"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/stibe881/traumfunke/internal/notify"
)

// registerWS streams change events for the caller's requests over a
// websocket. Payloads are hints for scheduling a refetch, not state.
func registerWS(r chi.Router, basePath string, hub *notify.Hub) {
	if hub == nil {
		return
	}
	r.Get(path.Join(basePath, "ws/requests"), func(w http.ResponseWriter, req *http.Request) {
		principal, ok := principalFromContext(req.Context())
		if !ok || principal.UserID == "" {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			return
		}
		conn, err := websocket.Accept(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		// Write-only connection: CloseRead cancels the context when the
		// peer closes, so idle subscribers do not leak.
		ctx := conn.CloseRead(req.Context())

		events, cancel := hub.Subscribe(principal.UserID)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, open := <-events:
				if !open {
					return
				}
				if err := wsjson.Write(ctx, conn, ev); err != nil {
					return
				}
			}
		}
	})
}
