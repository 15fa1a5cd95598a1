package session

import (
	"context"
	"sync"
	"time"

	"github.com/JohnnyZhao2/LMS-sub002/internal/countdown"
	"github.com/JohnnyZhao2/LMS-sub002/internal/domain"
	"github.com/JohnnyZhao2/LMS-sub002/internal/errors"
	"github.com/JohnnyZhao2/LMS-sub002/internal/event"
)

// ServiceConfig wires the session service.
type ServiceConfig struct {
	Gateway       Gateway
	EventBus      *event.Bus
	NewTickerFunc countdown.NewTickerFunc
	SubmitRetries int
	RetryBackoff  time.Duration
}

// Service owns all live controllers, keyed by session id. One learner, one
// controller, for the lifetime of an attempt.
type Service struct {
	cfg ServiceConfig

	mu          sync.RWMutex
	controllers map[string]*Controller
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		cfg:         cfg,
		controllers: make(map[string]*Controller),
	}
}

// Start creates a controller for a fresh session and registers it.
func (s *Service) Start(ctx context.Context, req StartRequest) (*Controller, error) {
	c, err := Start(ctx, Config{
		Gateway:       s.cfg.Gateway,
		EventBus:      s.cfg.EventBus,
		NewTickerFunc: s.cfg.NewTickerFunc,
		SubmitRetries: s.cfg.SubmitRetries,
		RetryBackoff:  s.cfg.RetryBackoff,
	}, req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.controllers[c.Session().SessionID] = c
	s.mu.Unlock()

	return c, nil
}

// Get returns the controller for a session owned by username.
func (s *Service) Get(sessionID, username string) (*Controller, error) {
	s.mu.RLock()
	c, ok := s.controllers[sessionID]
	s.mu.RUnlock()

	if !ok || c.Session().Username != username {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", sessionID))
	}
	return c, nil
}

// Discard tears a session down and forgets it. A COMPLETED practice "retry"
// goes through here followed by a fresh Start; the old session is never
// resumed.
func (s *Service) Discard(sessionID, username string) error {
	c, err := s.Get(sessionID, username)
	if err != nil {
		return err
	}

	if c.SubmitPending() {
		return ErrSubmissionPending
	}

	c.Teardown()

	s.mu.Lock()
	delete(s.controllers, sessionID)
	s.mu.Unlock()
	return nil
}

// Shutdown cancels every live countdown so no stray expiry fires during
// process exit.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.controllers {
		if c.Status() == domain.StatusActive {
			c.Teardown()
		}
		delete(s.controllers, id)
	}
}
