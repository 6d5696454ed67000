package database

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Startup connection attempts.
const (
	connectAttempts = 5
	connectBackoff  = time.Second
)

// retry calls fn up to connectAttempts times, doubling the wait between
// tries, and returns the last error.
func retry(ctx context.Context, log zerolog.Logger, target string, fn func(context.Context) error) error {
	wait := connectBackoff
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == connectAttempts {
			break
		}
		log.Warn().Err(err).
			Str("target", target).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("Connection failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}
