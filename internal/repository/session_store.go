package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// maxTxRetries bounds optimistic retries before giving up with
// proctor.ErrConflict.
const maxTxRetries = 32

// RedisSessionStore keeps live sessions as JSON in Redis so every API
// replica sees the same state. Updates are compare-and-swap through
// WATCH/MULTI on the session key.
type RedisSessionStore struct {
	rdb *redis.Client
}

// NewRedisSessionStore creates a RedisSessionStore.
func NewRedisSessionStore(rdb *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb}
}

var _ proctor.SessionStore = (*RedisSessionStore)(nil)

func decodeSession(raw string) (*model.ProctoringSession, error) {
	var s model.ProctoringSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisSessionStore) load(ctx context.Context, c getter, id uuid.UUID) (*model.ProctoringSession, error) {
	raw, err := c.Get(ctx, config.CacheKey.SessionKey(id.String())).Result()
	if errors.Is(err, redis.Nil) {
		return nil, proctor.ErrUnknownSession
	}
	if err != nil {
		return nil, err
	}
	return decodeSession(raw)
}

func (r *RedisSessionStore) CreateOrGet(ctx context.Context, s *model.ProctoringSession) (*model.ProctoringSession, bool, error) {
	openKey := config.CacheKey.OpenSessionKey(s.QuizID.String(), s.UserID)
	data, err := json.Marshal(s)
	if err != nil {
		return nil, false, fmt.Errorf("encode session: %w", err)
	}

	var (
		existing *model.ProctoringSession
		created  bool
	)
	txf := func(tx *redis.Tx) error {
		existing, created = nil, false

		id, err := tx.Get(ctx, openKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			if sid, perr := uuid.Parse(id); perr == nil {
				cur, lerr := r.load(ctx, tx, sid)
				if lerr == nil && cur.Status != model.SessionStatusCompleted {
					existing = cur
					return nil
				}
				if lerr != nil && !errors.Is(lerr, proctor.ErrUnknownSession) {
					return lerr
				}
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, config.CacheKey.SessionKey(s.ID.String()), data, 0)
			pipe.SAdd(ctx, config.CacheKey.QuizSessionsKey(s.QuizID.String()), s.ID.String())
			pipe.SAdd(ctx, config.CacheKey.AllSessionsKey(), s.ID.String())
			pipe.Set(ctx, openKey, s.ID.String(), 0)
			return nil
		})
		if err == nil {
			created = true
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.rdb.Watch(ctx, txf, openKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
		return s.Clone(), created, nil
	}
	return nil, false, proctor.ErrConflict
}

func (r *RedisSessionStore) Get(ctx context.Context, id uuid.UUID) (*model.ProctoringSession, error) {
	return r.load(ctx, r.rdb, id)
}

func (r *RedisSessionStore) Update(ctx context.Context, id uuid.UUID, fn proctor.UpdateFunc) (*model.ProctoringSession, error) {
	key := config.CacheKey.SessionKey(id.String())

	var result *model.ProctoringSession
	txf := func(tx *redis.Tx) error {
		cur, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}

		next := cur.Clone()
		if err := fn(next); err != nil {
			result = cur
			return err
		}
		next.Version = cur.Version + 1

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		result = nil
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return result, err
	}
	return nil, proctor.ErrConflict
}

func (r *RedisSessionStore) ListByQuiz(ctx context.Context, quizID uuid.UUID) ([]*model.ProctoringSession, error) {
	return r.listSet(ctx, config.CacheKey.QuizSessionsKey(quizID.String()))
}

func (r *RedisSessionStore) List(ctx context.Context) ([]*model.ProctoringSession, error) {
	return r.listSet(ctx, config.CacheKey.AllSessionsKey())
}

// listSet resolves every id in a set. Ids whose session key is gone are
// pruned from the set.
func (r *RedisSessionStore) listSet(ctx context.Context, setKey string) ([]*model.ProctoringSession, error) {
	ids, err := r.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*model.ProctoringSession{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = config.CacheKey.SessionKey(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	sessions := make([]*model.ProctoringSession, 0, len(vals))
	var stale []any
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		s, err := decodeSession(raw)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if len(stale) > 0 {
		r.rdb.SRem(ctx, setKey, stale...)
	}

	proctor.SortSessions(sessions)
	return sessions, nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	s, err := r.load(ctx, r.rdb, id)
	if errors.Is(err, proctor.ErrUnknownSession) {
		return nil
	}
	if err != nil {
		return err
	}

	openKey := config.CacheKey.OpenSessionKey(s.QuizID.String(), s.UserID)
	return r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		open, err := tx.Get(ctx, openKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, config.CacheKey.SessionKey(id.String()))
			pipe.SRem(ctx, config.CacheKey.QuizSessionsKey(s.QuizID.String()), id.String())
			pipe.SRem(ctx, config.CacheKey.AllSessionsKey(), id.String())
			if open == id.String() {
				pipe.Del(ctx, openKey)
			}
			return nil
		})
		return err
	}, openKey)
}
