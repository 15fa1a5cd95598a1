// Package cursor tracks the current position inside a session's question
// list and derives progress information. It never mutates answer state.
package cursor

import (
	"sync"

	"github.com/JohnnyZhao2/LMS-sub002/internal/answers"
	"github.com/JohnnyZhao2/LMS-sub002/internal/domain"
)

// Cursor is a bounded index over [0, len(questions)-1]. Next and Prev clamp
// at the bounds without error.
type Cursor struct {
	mu        sync.RWMutex
	questions []domain.SessionQuestion
	store     *answers.Store
	idx       int
}

func New(questions []domain.SessionQuestion, store *answers.Store) *Cursor {
	return &Cursor{
		questions: questions,
		store:     store,
	}
}

func (c *Cursor) Index() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.idx
}

// Current returns the question under the cursor.
func (c *Cursor) Current() domain.SessionQuestion {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.questions[c.idx]
}

func (c *Cursor) Next() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.idx < len(c.questions)-1 {
		c.idx++
	}
}

func (c *Cursor) Prev() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.idx > 0 {
		c.idx--
	}
}

// Seek moves the cursor to i, clamped into bounds.
func (c *Cursor) Seek(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i < 0 {
		i = 0
	}
	if i > len(c.questions)-1 {
		i = len(c.questions) - 1
	}
	c.idx = i
}

// AnsweredCount counts questions that have an answer in the store.
func (c *Cursor) AnsweredCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, q := range c.questions {
		if c.store.Has(q.QuestionID) {
			n++
		}
	}
	return n
}

// UnansweredIndices returns the 0-based positions without an answer, in
// display order. Used for pre-submit warnings.
func (c *Cursor) UnansweredIndices() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []int
	for i, q := range c.questions {
		if !c.store.Has(q.QuestionID) {
			out = append(out, i)
		}
	}
	return out
}
