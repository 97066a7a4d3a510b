package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	SuitCreated  = "suit.created"
	SuitDeleted  = "suit.deleted"
	ArmorPushed  = "armor.pushed"
	ArmorPopped  = "armor.popped"
	SuitRepaired = "suit.repaired"
)

// Types lists every event type the engine emits.
var Types = []string{SuitCreated, SuitDeleted, ArmorPushed, ArmorPopped, SuitRepaired}

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, suitID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if actorID == "" {
		return fmt.Errorf("event %s: actor_id required", evtType)
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,suit_id,actor_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, nullable(suitID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
