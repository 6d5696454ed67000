// Package worker drains the Redis persistence queues into PostgreSQL.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// drain runs the shared BLPop batching loop over queue. decode turns one
// raw message into an item, and flush persists a batch and returns the
// items that must go back on the queue.
func drain[T any](
	ctx context.Context,
	rdb *redis.Client,
	log zerolog.Logger,
	queue string,
	decode func(raw string) (T, error),
	flush func(ctx context.Context, batch []T) []T,
) {
	buffer := make([]T, 0, BatchSize)
	lastFlush := time.Now()

	for {
		// 1. Check flush conditions (time or size)
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			if failed := flush(ctx, buffer); len(failed) > 0 {
				requeue(ctx, rdb, log, queue, failed)
			}
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		// 2. Graceful shutdown
		select {
		case <-ctx.Done():
			log.Info().Int("pending", len(buffer)).Msg("Worker stopping, flushing remaining buffer...")
			if len(buffer) > 0 {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if failed := flush(shutdownCtx, buffer); len(failed) > 0 {
					requeue(shutdownCtx, rdb, log, queue, failed)
				}
				cancel()
			}
			return
		default:
		}

		// 3. Fetch. BLPop returns immediately if data exists.
		result, err := rdb.BLPop(ctx, PollTimeout, queue).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		item, err := decode(result[1])
		if err != nil {
			// Malformed payloads can never succeed.
			log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed payload")
			continue
		}
		buffer = append(buffer, item)
	}
}

func requeue[T any](ctx context.Context, rdb *redis.Client, log zerolog.Logger, queue string, items []T) {
	pipe := rdb.Pipeline()
	for _, it := range items {
		data, _ := json.Marshal(it)
		pipe.RPush(ctx, queue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// Back off while the database is down.
	time.Sleep(2 * time.Second)
}
