package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/stibe881/traumfunke/internal/domain"
	"github.com/stibe881/traumfunke/internal/events"
	"github.com/stibe881/traumfunke/internal/repo"
)

// Pump tails the events table and converts request events into change
// notifications on the hub. It starts at the current tail so restarts do
// not replay history.
type Pump struct {
	Repo     repo.Repo
	Hub      *Hub
	Logger   *slog.Logger
	Interval time.Duration
}

func (p Pump) interval() time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return 250 * time.Millisecond
}

func (p Pump) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Run polls until ctx is cancelled.
func (p Pump) Run(ctx context.Context) error {
	cursor, err := p.Repo.LatestEventID(ctx)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(p.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			next, err := p.drain(ctx, cursor)
			if err != nil {
				p.logger().Warn("notify pump poll failed", "err", err)
				continue
			}
			cursor = next
		}
	}
}

func (p Pump) drain(ctx context.Context, cursor int64) (int64, error) {
	for {
		batch, err := p.Repo.EventsAfter(ctx, 100, cursor)
		if err != nil {
			return cursor, err
		}
		if len(batch) == 0 {
			return cursor, nil
		}
		for _, ev := range batch {
			cursor = ev.ID
			ce, ok := toChange(ev)
			if !ok {
				continue
			}
			p.Hub.Publish(ce)
		}
	}
}

func toChange(ev domain.Event) (ChangeEvent, bool) {
	var changeType string
	switch ev.Type {
	case events.TypeRequestCreated:
		changeType = ChangeInsert
	case events.TypeRequestUpdated:
		changeType = ChangeUpdate
	case events.TypeRequestCancelled:
		changeType = ChangeDelete
	default:
		return ChangeEvent{}, false
	}
	var payload struct {
		Status string `json:"status"`
	}
	if ev.Payload != "" {
		_ = json.Unmarshal([]byte(ev.Payload), &payload)
	}
	return ChangeEvent{
		Type:      changeType,
		RequestID: ev.EntityID,
		UserID:    ev.UserID,
		Status:    payload.Status,
	}, true
}
