package app

import (
	"context"
	"errors"
	"fmt"
)

// Backend is the part of the placement API that acts on behalf of one student.
type Backend interface {
	Attempts
	Judge
}

// SessionRegistry abstracts where live controllers are tracked (in-memory, Redis, etc).
type SessionRegistry interface {
	Put(connID string, ctrl *Controller)
	Get(connID string) (*Controller, bool)
	Delete(connID string)
	Drain() map[string]*Controller
}

// RunnerService hands out one controller per connection and abandons them
// when the connection or the process goes away.
type RunnerService struct {
	sessions SessionRegistry
	catalog  Catalog
	backend  Backend
	opts     Options
}

func NewRunnerService(sessions SessionRegistry, catalog Catalog, backend Backend, opts Options) *RunnerService {
	return &RunnerService{
		sessions: sessions,
		catalog:  catalog,
		backend:  backend,
		opts:     opts,
	}
}

// Open creates a controller for connID with the test definition loaded.
// A nil backend selects the service default. Students cannot open unknown tests.
func (s *RunnerService) Open(ctx context.Context, connID string, testID int64, backend Backend, presenter Presenter, screen Screen) (*Controller, error) {
	if _, ok := s.sessions.Get(connID); ok {
		return nil, fmt.Errorf("connection %s already has an attempt", connID)
	}
	if backend == nil {
		backend = s.backend
	}
	ctrl := NewController(Deps{
		Catalog:   s.catalog,
		Attempts:  backend,
		Judge:     backend,
		Presenter: presenter,
		Screen:    screen,
	}, s.opts)
	if err := ctrl.LoadDefinition(ctx, testID); err != nil {
		_ = ctrl.Close(ctx)
		return nil, err
	}
	s.sessions.Put(connID, ctrl)
	return ctrl, nil
}

// Leave abandons the controller of connID, if any.
func (s *RunnerService) Leave(ctx context.Context, connID string) error {
	ctrl, ok := s.sessions.Get(connID)
	if !ok {
		return nil
	}
	s.sessions.Delete(connID)
	return ctrl.Close(ctx)
}

// Heartbeat refreshes the liveness of connID where the registry tracks it.
func (s *RunnerService) Heartbeat(ctx context.Context, connID string) error {
	if t, ok := s.sessions.(interface {
		Touch(ctx context.Context, connID string) error
	}); ok {
		return t.Touch(ctx, connID)
	}
	return nil
}

// Shutdown abandons every live controller.
func (s *RunnerService) Shutdown(ctx context.Context) error {
	var errs []error
	for connID, ctrl := range s.sessions.Drain() {
		if err := ctrl.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", connID, err))
		}
	}
	return errors.Join(errs...)
}
