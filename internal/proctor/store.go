package proctor

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var (
	// ErrUnknownSession is returned when a session id is not in the store.
	ErrUnknownSession = errors.New("unknown proctoring session")
	// ErrSessionCompleted is returned when an operation needs a session
	// that is still open.
	ErrSessionCompleted = errors.New("proctoring session already completed")
	// ErrConflict is returned by stores that give up after repeated
	// concurrent modification.
	ErrConflict = errors.New("proctoring session update conflict")
)

// errNoChange aborts an update without writing.
var errNoChange = errors.New("no change")

// UpdateFunc mutates a private copy of a session. Returning an error
// discards the copy. It may run more than once and must not do I/O.
type UpdateFunc func(s *model.ProctoringSession) error

// SessionStore is a key-value store of sessions with atomic per-key
// updates. Implementations must serialise Update calls for the same id.
type SessionStore interface {
	// CreateOrGet stores s unless the same student already has an open
	// session for the quiz, in which case that session is returned and
	// created is false.
	CreateOrGet(ctx context.Context, s *model.ProctoringSession) (cur *model.ProctoringSession, created bool, err error)

	// Get returns a copy of the session or ErrUnknownSession.
	Get(ctx context.Context, id uuid.UUID) (*model.ProctoringSession, error)

	// Update applies fn atomically and bumps Version. When fn fails the
	// stored value is untouched and the returned session is the current
	// snapshot alongside fn's error.
	Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*model.ProctoringSession, error)

	// ListByQuiz returns copies of every session of a quiz.
	ListByQuiz(ctx context.Context, quizID uuid.UUID) ([]*model.ProctoringSession, error)

	// List returns copies of every stored session.
	List(ctx context.Context) ([]*model.ProctoringSession, error)

	// Delete removes a session. Deleting a missing id is not an error.
	Delete(ctx context.Context, id uuid.UUID) error
}

// SortSessions orders sessions by start time, oldest first.
func SortSessions(ss []*model.ProctoringSession) {
	sort.Slice(ss, func(i, j int) bool {
		if ss[i].StartedAt.Equal(ss[j].StartedAt) {
			return ss[i].ID.String() < ss[j].ID.String()
		}
		return ss[i].StartedAt.Before(ss[j].StartedAt)
	})
}
