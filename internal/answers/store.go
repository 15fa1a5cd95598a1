// Package answers holds the in-memory answer state for one quiz session.
package answers

import (
	"slices"
	"sync"

	"github.com/JohnnyZhao2/LMS-sub002/internal/domain"
	"github.com/JohnnyZhao2/LMS-sub002/internal/errors"
)

var (
	// ErrSessionLocked is returned for any mutation after the store has been
	// frozen by submission.
	ErrSessionLocked = errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("session is locked, answers can no longer be changed"))

	// ErrQuestionLocked is returned when mutating a question that was locked
	// by a practice-mode answer check.
	ErrQuestionLocked = errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("question is locked after checking its answer"))
)

// Store holds per-question answer records. Absence of a record means the
// question is unanswered. All mutation is rejected once the store is frozen;
// individual questions can additionally be locked (practice feedback).
type Store struct {
	mu      sync.RWMutex
	records map[int64]domain.AnswerRecord
	locked  map[int64]bool
	frozen  bool
}

func NewStore() *Store {
	return &Store{
		records: make(map[int64]domain.AnswerRecord),
		locked:  make(map[int64]bool),
	}
}

// Set replaces the record for a question. A record that does not count as an
// answer (empty selection, blank text) clears the stored record instead.
func (s *Store) Set(questionID int64, rec domain.AnswerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mutable(questionID); err != nil {
		return err
	}

	if !rec.Answered() {
		delete(s.records, questionID)
		return nil
	}

	rec.Selected = slices.Clone(rec.Selected)
	s.records[questionID] = rec
	return nil
}

// Toggle adds the option key to the question's selection set if absent,
// removes it if present. Used for MULTIPLE_CHOICE.
func (s *Store) Toggle(questionID int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mutable(questionID); err != nil {
		return err
	}

	rec := s.records[questionID]
	sel := slices.Clone(rec.Selected)
	if i := slices.Index(sel, key); i >= 0 {
		sel = slices.Delete(sel, i, i+1)
	} else {
		sel = append(sel, key)
		slices.Sort(sel)
	}
	rec.Selected = sel

	if !rec.Answered() {
		delete(s.records, questionID)
		return nil
	}

	s.records[questionID] = rec
	return nil
}

func (s *Store) mutable(questionID int64) error {
	if s.frozen {
		return ErrSessionLocked
	}
	if s.locked[questionID] {
		return ErrQuestionLocked
	}
	return nil
}

// Has reports whether the question has an answer.
func (s *Store) Has(questionID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.records[questionID]
	return ok
}

// Get returns the stored record for a question, if any.
func (s *Store) Get(questionID int64) (domain.AnswerRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[questionID]
	return rec, ok
}

// Snapshot returns a copy of all records, keyed by question id.
func (s *Store) Snapshot() map[int64]domain.AnswerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]domain.AnswerRecord, len(s.records))
	for id, rec := range s.records {
		rec.Selected = slices.Clone(rec.Selected)
		out[id] = rec
	}
	return out
}

// Lock marks one question immutable. Idempotent.
func (s *Store) Lock(questionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.locked[questionID] = true
}

// Locked reports whether the question has been locked.
func (s *Store) Locked(questionID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.locked[questionID]
}

// Freeze rejects all further mutation. Called when the session leaves ACTIVE.
func (s *Store) Freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frozen = true
}

// Unfreeze re-enables mutation after a recoverable submission failure.
func (s *Store) Unfreeze() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frozen = false
}
