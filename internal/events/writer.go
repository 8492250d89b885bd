package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends rows to the events table inside the caller's transaction,
// so an event is only visible if the mutation it describes committed.
type Writer struct {
	Now func() time.Time
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Append records one event. payload is marshalled to JSON; nil payloads
// produce an empty object.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, userID, entityKind, entityID string, payload any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	ts := w.now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,user_id,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, nullable(userID), entityKind, nullable(entityID), string(raw))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// Event type names. The notify pump maps these onto change notifications.
const (
	TypeRequestCreated   = "request.created"
	TypeRequestUpdated   = "request.updated"
	TypeRequestCancelled = "request.cancelled"
	TypeStoryCreated     = "story.created"
	TypeCoinsDebited     = "coins.debited"
	TypeCoinsCredited    = "coins.credited"
)
