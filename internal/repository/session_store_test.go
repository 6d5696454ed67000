package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// newTestRedis connects to TEST_REDIS_URL and flushes the selected db.
// Tests are skipped when the variable is unset.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse TEST_REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opt)
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	if err := rdb.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("FlushDB: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func newStoredSession(quizID uuid.UUID, userID int) *model.ProctoringSession {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.ProctoringSession{
		ID:             uuid.New(),
		QuizID:         quizID,
		UserID:         userID,
		StartedAt:      now,
		LastActivityAt: now,
		Policy:         model.DefaultPolicy(),
		Answers:        map[int]string{},
		Violations:     []model.Violation{},
		Status:         model.SessionStatusActive,
	}
}

func TestRedisSessionStoreCreateOrGet(t *testing.T) {
	store := NewRedisSessionStore(newTestRedis(t))
	ctx := context.Background()
	quizID := uuid.New()

	first, created, err := store.CreateOrGet(ctx, newStoredSession(quizID, 1))
	if err != nil || !created {
		t.Fatalf("CreateOrGet: created=%v err=%v", created, err)
	}
	again, created, err := store.CreateOrGet(ctx, newStoredSession(quizID, 1))
	if err != nil {
		t.Fatalf("CreateOrGet again: %v", err)
	}
	if created || again.ID != first.ID {
		t.Fatalf("expected existing session %s, got %s (created=%v)", first.ID, again.ID, created)
	}

	list, err := store.ListByQuiz(ctx, quizID)
	if err != nil {
		t.Fatalf("ListByQuiz: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("ListByQuiz = %d sessions, want 1", len(list))
	}
}

func TestRedisSessionStoreConcurrentUpdates(t *testing.T) {
	store := NewRedisSessionStore(newTestRedis(t))
	ctx := context.Background()

	s, _, err := store.CreateOrGet(ctx, newStoredSession(uuid.New(), 1))
	if err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, s.ID, func(s *model.ProctoringSession) error {
				s.TabChangeCount++
				return nil
			})
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TabChangeCount != n || got.Version != n {
		t.Fatalf("TabChangeCount=%d Version=%d, want %d", got.TabChangeCount, got.Version, n)
	}
}

func TestRedisSessionStoreUpdateAbort(t *testing.T) {
	store := NewRedisSessionStore(newTestRedis(t))
	ctx := context.Background()

	s, _, _ := store.CreateOrGet(ctx, newStoredSession(uuid.New(), 1))
	boom := errors.New("boom")

	cur, err := store.Update(ctx, s.ID, func(s *model.ProctoringSession) error {
		s.TabChangeCount = 99
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if cur == nil || cur.TabChangeCount != 0 {
		t.Fatalf("snapshot = %+v, want untouched session", cur)
	}

	if _, err := store.Update(ctx, uuid.New(), func(*model.ProctoringSession) error { return nil }); !errors.Is(err, proctor.ErrUnknownSession) {
		t.Fatalf("unknown id err = %v", err)
	}
}

func TestRedisSessionStoreDelete(t *testing.T) {
	store := NewRedisSessionStore(newTestRedis(t))
	ctx := context.Background()
	quizID := uuid.New()

	s, _, _ := store.CreateOrGet(ctx, newStoredSession(quizID, 3))
	if err := store.Delete(ctx, s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, s.ID); !errors.Is(err, proctor.ErrUnknownSession) {
		t.Fatalf("Get after delete err = %v", err)
	}
	if err := store.Delete(ctx, s.ID); err != nil {
		t.Fatalf("second Delete: %v", err)
	}

	_, created, err := store.CreateOrGet(ctx, newStoredSession(quizID, 3))
	if err != nil || !created {
		t.Fatalf("CreateOrGet after delete: created=%v err=%v", created, err)
	}
}
