// Package outbox relays live-state events from the database to NATS.
// Events are written in the same transaction as the mutation that
// produced them, so the broadcast can be retried until it succeeds
// instead of being lost.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lkaplan/livecomp/internal/events"
)

// NotifyChannel is the postgres NOTIFY channel that wakes the relay
// when new rows land.
const NotifyChannel = "livecomp_outbox"

// Row is one pending or sent outbox entry. Payload holds the full
// event envelope as it will appear on the wire.
type Row struct {
	ID         uuid.UUID       `json:"id"`
	DivisionID uuid.UUID       `json:"division_id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	SentAt     *time.Time      `json:"sent_at,omitempty"`
}

// InsertTx writes an event into the outbox within the caller's
// transaction.
func InsertTx(ctx context.Context, tx pgx.Tx, ev events.Event) error {
	envelope, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (id, division_id, event_type, payload)
		VALUES ($1, $2, $3, $4)`,
		ev.ID, ev.DivisionID, string(ev.Type), envelope)
	if err != nil {
		return fmt.Errorf("insert outbox event %s: %w", ev.Type, err)
	}
	return nil
}
