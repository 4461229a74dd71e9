package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type RelayConfig struct {
	FallbackInterval time.Duration // poll period when no NOTIFY arrives
	BatchSize        int32
	MaxRetries       int
	RetryDelay       time.Duration
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		FallbackInterval: 15 * time.Second,
		BatchSize:        100,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
	}
}

// Relay drains the outbox to the publisher. It wakes on postgres
// NOTIFY and falls back to polling so a missed notification only
// delays delivery, never drops it.
type Relay struct {
	pool      *pgxpool.Pool
	repo      *Repository
	publisher Publisher
	cfg       RelayConfig
}

func NewRelay(pool *pgxpool.Pool, repo *Repository, publisher Publisher, cfg RelayConfig) *Relay {
	return &Relay{pool: pool, repo: repo, publisher: publisher, cfg: cfg}
}

func (r *Relay) Start(ctx context.Context) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("listen on %s: %w", NotifyChannel, err)
	}

	log.Info().
		Str("channel", NotifyChannel).
		Dur("fallback_interval", r.cfg.FallbackInterval).
		Msg("outbox relay started")

	// Drain anything left over from a previous run.
	if err := r.processUnsent(ctx); err != nil {
		log.Error().Err(err).Msg("failed to process unsent outbox events")
	}

	for {
		waitCtx, cancel := context.WithTimeout(ctx, r.cfg.FallbackInterval)
		_, err := conn.Conn().WaitForNotification(waitCtx)
		cancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				log.Info().Msg("outbox relay shutting down")
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}

		if err := r.processUnsent(ctx); err != nil {
			log.Error().Err(err).Msg("failed to process unsent outbox events")
		}
	}
}

func (r *Relay) processUnsent(ctx context.Context) error {
	for {
		rows, err := r.repo.FetchUnsent(ctx, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		for _, row := range rows {
			if err := r.publishWithRetry(ctx, row); err != nil {
				// Leave the row pending; the next wakeup retries it.
				log.Error().
					Err(err).
					Str("event_id", row.ID.String()).
					Str("event_type", row.EventType).
					Msg("failed to publish outbox event, will retry")
				return err
			}
			if err := r.repo.MarkSent(ctx, row.ID); err != nil {
				// The event may be delivered again after a restart;
				// payloads are idempotent so viewers converge anyway.
				return err
			}
		}
		if int32(len(rows)) < r.cfg.BatchSize {
			return nil
		}
	}
}

func (r *Relay) publishWithRetry(ctx context.Context, row Row) error {
	var err error
	for attempt := 0; attempt < r.cfg.MaxRetries; attempt++ {
		if err = r.publisher.Publish(ctx, row); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.RetryDelay):
		}
	}
	return err
}
