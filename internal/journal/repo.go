package journal

import (
	"context"
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("not found")

// Event is one journal row.
type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts"`
	Type        string `json:"type"`
	BatchID     string `json:"batch_id,omitempty"`
	OrderNumber string `json:"order_number,omitempty"`
	ItemID      string `json:"item_id,omitempty"`
	ComponentID string `json:"component_id,omitempty"`
	Actor       string `json:"actor"`
	Room        string `json:"room,omitempty"`
	Payload     string `json:"payload_json"`
}

type Repo struct {
	DB *sql.DB
}

const eventColumns = `id, ts, type, COALESCE(batch_id,''), COALESCE(order_number,''), COALESCE(item_id,''), COALESCE(component_id,''), actor, COALESCE(room,''), payload_json`

func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.BatchID, &e.OrderNumber, &e.ItemID, &e.ComponentID, &e.Actor, &e.Room, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventsAfter returns up to limit events with id greater than cursor, oldest
// first. Used by the webhook forwarder.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]Event, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEventID returns the newest event id, or 0 for an empty journal.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// Tail returns the most recent events, newest first.
func (r Repo) Tail(ctx context.Context, limit int) ([]Event, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// ComponentHistory returns all events for one component, oldest first.
func (r Repo) ComponentHistory(ctx context.Context, orderNumber, itemID, componentID string) ([]Event, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE order_number=? AND item_id=? AND component_id=? ORDER BY id ASC`,
		orderNumber, itemID, componentID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}
