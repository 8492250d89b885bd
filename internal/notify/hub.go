package notify

import "sync"

// ChangeEvent is a push notification about one story request. Payloads are
// hints only: subscribers refetch rather than applying them directly, so a
// stale or reordered delivery cannot corrupt local state.
type ChangeEvent struct {
	Type      string `json:"type" enum:"insert,update,delete"`
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	Status    string `json:"status,omitempty"`
}

const (
	ChangeInsert = "insert"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// Hub fans change events out to per-user subscribers. Slow subscribers
// drop events instead of blocking the pump; a dropped event is safe because
// the next delivered one still triggers a full refetch.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan ChangeEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan ChangeEvent]struct{})}
}

// Subscribe registers a channel for one user's events. The returned cancel
// func unregisters and closes it.
func (h *Hub) Subscribe(userID string) (<-chan ChangeEvent, func()) {
	ch := make(chan ChangeEvent, 16)
	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[chan ChangeEvent]struct{})
		h.subs[userID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[userID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, userID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber of ev.UserID.
func (h *Hub) Publish(ev ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.UserID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports how many channels are registered for a user.
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}
