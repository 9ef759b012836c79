package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"decoflow/internal/domain"
)

// Event types written by the engine.
const (
	EventBatch  = "notify.batch"
	EventNotify = "notify.sent"
	EventError  = "notify.error"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Append writes one event row inside the given transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, batchID string, ref domain.Ref, actor, room string, payload Payload) error {
	ts := w.now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(ts,type,batch_id,order_number,item_id,component_id,actor,room,payload_json) VALUES (?,?,?,?,?,?,?,?,?)`,
		ts, evtType, nullable(batchID), nullable(ref.OrderNumber), nullable(ref.ItemID), nullable(ref.ComponentID), actor, nullable(room), string(data))
	return err
}

// AppendBatch records a notification batch as a unit: one notify.batch row
// plus one notify.sent row per outbound notification, in a single
// transaction.
func (w Writer) AppendBatch(ctx context.Context, ref domain.Ref, actor string, batch domain.Batch) error {
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	summary := Payload{
		"self_ack":   batch.SelfAck != nil,
		"broadcasts": len(batch.Broadcasts),
	}
	if batch.SelfAck != nil {
		summary["self_event"] = batch.SelfAck.Event
	}
	if err := w.Append(ctx, tx, EventBatch, batch.ID, ref, actor, "", summary); err != nil {
		return err
	}
	for _, n := range batch.Broadcasts {
		if err := w.Append(ctx, tx, EventNotify, batch.ID, ref, actor, n.Room, Payload{
			"event":   n.Event,
			"payload": n.Payload,
		}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AppendError records a terminal action failure. No broadcast accompanies it.
func (w Writer) AppendError(ctx context.Context, ref domain.Ref, actor, action string, cause error) error {
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := w.Append(ctx, tx, EventError, "", ref, actor, "", Payload{
		"action": action,
		"error":  cause.Error(),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
