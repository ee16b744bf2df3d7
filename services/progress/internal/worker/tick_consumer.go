// Package worker applies queued progress tick events to Postgres in
// idempotent batches.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/cliniks-academy/services/progress/internal/config"
	"github.com/example/cliniks-academy/services/progress/internal/reconcile"
)

// TickEvent is the payload published by the HTTP layer for playback ticks.
type TickEvent struct {
	EventID          string  `json:"event_id"`
	UserID           string  `json:"user_id"`
	LessonID         string  `json:"lesson_id"`
	WatchTimeSeconds int     `json:"watch_time_seconds"`
	PositionSeconds  float64 `json:"position_seconds"`
	DurationSeconds  float64 `json:"duration_seconds"`
	ClientTsMs       int64   `json:"client_ts_ms"`
	CreatedAt        string  `json:"created_at"`
}

type completionKey struct {
	userID   uuid.UUID
	lessonID uuid.UUID
}

// StartTickConsumer subscribes to the tick subject and applies batched,
// idempotent upserts. Ticks that crossed the completion threshold are routed
// through the reconciler after the batch commits.
func StartTickConsumer(ctx context.Context, nc *nats.Conn, pool *pgxpool.Pool, rec *reconcile.Reconciler, cfg config.Config, log *zap.Logger) {
	js, err := nc.JetStream()
	if err != nil {
		log.Error("tick consumer: jetstream", zap.Error(err))
		return
	}

	sub, err := js.PullSubscribe(config.TickSubject, "progress_ticks")
	if err != nil {
		log.Error("tick consumer: subscribe", zap.Error(err))
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msgs, err := sub.Fetch(cfg.WorkerBatchSize, nats.MaxWait(cfg.WorkerBatchInterval))
			if err != nil {
				if err == nats.ErrTimeout {
					continue
				}
				log.Warn("tick consumer: fetch", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}
			if len(msgs) == 0 {
				continue
			}

			completions := applyBatch(ctx, pool, msgs, cfg, log)

			// Idempotent at the store layer, so replaying a completion for
			// an already-completed lesson is harmless.
			for k := range completions {
				if _, err := rec.OnLessonCompleted(ctx, k.userID, k.lessonID); err != nil {
					log.Warn("tick consumer: completion reconcile",
						zap.String("user_id", k.userID.String()),
						zap.String("lesson_id", k.lessonID.String()),
						zap.Error(err))
				}
			}
		}
	}()
}

// applyBatch writes one fetched batch inside a single transaction with
// processed_events dedupe. Returns the set of (user, lesson) pairs whose
// ticks crossed the completion threshold; empty on rollback.
func applyBatch(ctx context.Context, pool *pgxpool.Pool, msgs []*nats.Msg, cfg config.Config, log *zap.Logger) map[completionKey]struct{} {
	nakAll := func() {
		for _, m := range msgs {
			if err := m.Nak(); err != nil {
				log.Warn("tick consumer: nak", zap.Error(err))
			}
		}
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Warn("tick consumer: begin", zap.Error(err))
		nakAll()
		return nil
	}
	defer func() { _ = tx.Rollback(ctx) }()

	completions := make(map[completionKey]struct{})
	for _, m := range msgs {
		var ev TickEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			log.Warn("tick consumer: invalid json", zap.Error(err))
			nakAll()
			return nil
		}

		ct, err := tx.Exec(ctx,
			`INSERT INTO processed_events (event_id, subject, created_at, payload) VALUES ($1,$2,$3,$4) ON CONFLICT (event_id) DO NOTHING`,
			ev.EventID, config.TickSubject, ev.CreatedAt, m.Data)
		if err != nil {
			log.Warn("tick consumer: dedupe insert", zap.Error(err))
			nakAll()
			return nil
		}
		if ct.RowsAffected() == 0 {
			// already processed; skip
			continue
		}

		if err := applyTick(ctx, tx, &ev); err != nil {
			log.Warn("tick consumer: upsert", zap.Error(err))
			nakAll()
			return nil
		}

		if ev.DurationSeconds > 0 && 100*ev.PositionSeconds/ev.DurationSeconds >= cfg.CompletionThresholdPercent {
			userID, uerr := uuid.Parse(ev.UserID)
			lessonID, lerr := uuid.Parse(ev.LessonID)
			if uerr == nil && lerr == nil {
				completions[completionKey{userID, lessonID}] = struct{}{}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		log.Warn("tick consumer: commit", zap.Error(err))
		nakAll()
		return nil
	}

	for _, m := range msgs {
		if err := m.Ack(); err != nil {
			log.Warn("tick consumer: ack", zap.Error(err))
		}
	}
	return completions
}

// applyTick runs the monotonic watch-time upsert inside the batch
// transaction.
func applyTick(ctx context.Context, tx pgx.Tx, ev *TickEvent) error {
	q := `
INSERT INTO lesson_progress (user_id, lesson_id, watch_time_seconds, completed, updated_at)
VALUES ($1, $2, $3, false, $4)
ON CONFLICT (user_id, lesson_id)
DO UPDATE SET
	watch_time_seconds = GREATEST(lesson_progress.watch_time_seconds, EXCLUDED.watch_time_seconds),
	updated_at = EXCLUDED.updated_at`

	watch := ev.WatchTimeSeconds
	if watch < 0 {
		watch = 0
	}
	_, err := tx.Exec(ctx, q, ev.UserID, ev.LessonID, watch, time.Now().UTC())
	return err
}
