package proctor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// SweepResult counts what one reaper pass did.
type SweepResult struct {
	Expired int
	Retried int
	Purged  int
}

// Reaper closes abandoned sessions, retries auto-submits that failed and
// drops completed sessions once they have been kept for the retention
// window.
type Reaper struct {
	engine    *Engine
	store     SessionStore
	idleTTL   time.Duration
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
}

// NewReaper creates a Reaper. An idleTTL of zero disables expiry.
func NewReaper(engine *Engine, store SessionStore, idleTTL, retention, interval time.Duration, log zerolog.Logger) *Reaper {
	return &Reaper{
		engine:    engine,
		store:     store,
		idleTTL:   idleTTL,
		retention: retention,
		interval:  interval,
		log:       logger.Component(log, "session_reaper"),
	}
}

// Start runs Sweep every interval until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	if r.interval <= 0 {
		r.log.Info().Msg("Session reaper disabled")
		return
	}
	r.log.Info().Dur("idle_ttl", r.idleTTL).Dur("interval", r.interval).Msg("Session reaper started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("Session reaper stopped")
			return
		case <-ticker.C:
			res, err := r.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.log.Error().Err(err).Msg("Sweep failed")
				continue
			}
			if res != (SweepResult{}) {
				r.log.Info().
					Int("expired", res.Expired).
					Int("retried", res.Retried).
					Int("purged", res.Purged).
					Msg("Sweep finished")
			}
		}
	}
}

// Sweep makes one pass over the store.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	sessions, err := r.store.List(ctx)
	if err != nil {
		return res, err
	}
	now := r.engine.now()

	for _, s := range sessions {
		idle := now.Sub(s.LastActivityAt)

		switch {
		case s.Status == model.SessionStatusCompleted:
			if r.retention > 0 && idle > r.retention {
				if err := r.store.Delete(ctx, s.ID); err != nil {
					r.log.Error().Err(err).Str("session_id", s.ID.String()).Msg("Failed to purge session")
					continue
				}
				res.Purged++
			}

		case needsAutoSubmit(s):
			if _, _, err := r.engine.complete(ctx, s.ID, model.CompletionAutoSubmit); err == nil {
				res.Retried++
			} else if !errors.Is(err, ErrSessionCompleted) {
				r.log.Error().Err(err).Str("session_id", s.ID.String()).Msg("Auto-submit retry failed")
			}

		case r.idleTTL > 0 && idle > r.idleTTL:
			if _, err := r.engine.Expire(ctx, s.ID); err == nil {
				res.Expired++
			} else if !errors.Is(err, ErrSessionCompleted) {
				r.log.Error().Err(err).Str("session_id", s.ID.String()).Msg("Failed to expire session")
			}
		}
	}
	return res, nil
}
