package outbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FetchUnsent returns pending rows in insert order. The sequence
// column breaks same-timestamp ties, so per-entity event order
// survives on the wire.
func (r *Repository) FetchUnsent(ctx context.Context, limit int32) ([]Row, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, division_id, event_type, payload, created_at
		FROM outbox_events
		WHERE sent_at IS NULL
		ORDER BY seq
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.ID, &row.DivisionID, &row.EventType, &row.Payload, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch unsent outbox events: %w", err)
	}
	return out, nil
}

func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE outbox_events SET sent_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark outbox event sent: %w", err)
	}
	return nil
}

// DeleteSentBefore prunes delivered rows; events are not a replay
// store, so anything already broadcast can go.
func (r *Repository) DeleteSentBefore(ctx context.Context, cutoff string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM outbox_events WHERE sent_at IS NOT NULL AND sent_at < now() - $1::interval`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune outbox events: %w", err)
	}
	return tag.RowsAffected(), nil
}
