// Package session connects a core.Model to a kb.KnowledgeBase. Every KB
// change and every host request is funneled through one consumer goroutine,
// so the model only ever sees serialized calls.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/signalsfoundry/connection-matrix/core"
	"github.com/signalsfoundry/connection-matrix/internal/logging"
	"github.com/signalsfoundry/connection-matrix/kb"
)

var (
	// ErrNotStarted is returned by Do before Start has been called.
	ErrNotStarted = errors.New("session not started")
	// ErrStopped is returned once the consumer has exited.
	ErrStopped = errors.New("session stopped")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("session already started")
)

type job struct {
	ctx  context.Context
	ev   *kb.Event
	fn   func(context.Context, *core.Model)
	done chan struct{}
}

// Session owns the consumer goroutine driving one Model.
type Session struct {
	kb    *kb.KnowledgeBase
	model *core.Model
	log   logging.Logger

	mu      sync.Mutex
	pending []job
	wake    chan struct{}
	started bool
	stopped bool

	unsubscribe func()
	stop        context.CancelFunc
	exited      chan struct{}
}

// Option customises a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// New builds a session. Nothing happens until Start.
func New(store *kb.KnowledgeBase, m *core.Model, opts ...Option) *Session {
	s := &Session{
		kb:     store,
		model:  m,
		log:    logging.Noop(),
		wake:   make(chan struct{}, 1),
		exited: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start subscribes to the KB, queues an EntityOnline for every entity
// already present and launches the consumer. The consumer exits when ctx
// is cancelled or Stop is called.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)

	// Subscribing before listing may queue an entity twice; EntityOnline
	// replaces an existing entity so the second arrival is harmless.
	unsubscribe := s.kb.Subscribe(func(ev kb.Event) {
		s.enqueue(job{ctx: context.Background(), ev: &ev})
	})
	s.mu.Lock()
	s.stop = cancel
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
	for _, id := range s.kb.ListEntities() {
		s.enqueue(job{ctx: context.Background(), ev: &kb.Event{Type: kb.EventEntityOnline, EntityID: id}})
	}

	go s.run(runCtx)
	s.log.Info(ctx, "matrix session started")
	return nil
}

// Stop unsubscribes from the KB and waits for the consumer to exit. Queued
// work that has not run yet is dropped.
func (s *Session) Stop() {
	s.mu.Lock()
	unsubscribe, stop := s.unsubscribe, s.stop
	s.mu.Unlock()
	if stop == nil {
		return
	}

	unsubscribe()
	stop()
	<-s.exited
}

// Do runs fn on the consumer goroutine and waits for it to finish. fn may
// read the model freely; it must not call back into the session.
func (s *Session) Do(ctx context.Context, fn func(context.Context, *core.Model)) error {
	s.mu.Lock()
	switch {
	case !s.started:
		s.mu.Unlock()
		return ErrNotStarted
	case s.stopped:
		s.mu.Unlock()
		return ErrStopped
	}
	s.mu.Unlock()

	done := make(chan struct{})
	s.enqueue(job{ctx: ctx, fn: fn, done: done})
	select {
	case <-done:
		return nil
	case <-s.exited:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every event queued before the call has been applied.
func (s *Session) Flush(ctx context.Context) error {
	return s.Do(ctx, func(context.Context, *core.Model) {})
}

func (s *Session) enqueue(j job) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, j)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.exited)
	defer func() {
		s.mu.Lock()
		s.stopped = true
		s.pending = nil
		s.mu.Unlock()
		s.log.Info(context.Background(), "matrix session stopped")
	}()

	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, j := range batch {
			if ctx.Err() != nil {
				return
			}
			s.runJob(j)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
	}
}

func (s *Session) runJob(j job) {
	ctx, _ := logging.EnsureEventID(j.ctx)
	if j.ev != nil {
		Apply(ctx, s.model, *j.ev)
	}
	if j.fn != nil {
		j.fn(ctx, s.model)
	}
	if j.done != nil {
		close(j.done)
	}
}

// Apply forwards one KB event to the matching Model change handler.
func Apply(ctx context.Context, m *core.Model, ev kb.Event) {
	switch ev.Type {
	case kb.EventControllerOffline:
		m.ControllerOffline(ctx)
	case kb.EventEntityOnline:
		m.EntityOnline(ctx, ev.EntityID)
	case kb.EventEntityOffline:
		m.EntityOffline(ctx, ev.EntityID)
	case kb.EventStreamRunningChanged:
		m.StreamRunningChanged(ctx, ev.EntityID, ev.Side, ev.StreamIndex, ev.Running)
	case kb.EventStreamConnectionChanged:
		m.StreamConnectionChanged(ctx, ev.Listener)
	case kb.EventStreamFormatChanged:
		m.StreamFormatChanged(ctx, ev.EntityID, ev.Side, ev.StreamIndex, ev.Format)
	case kb.EventGptpChanged:
		m.GptpChanged(ctx, ev.EntityID, ev.AvbInterface, ev.GrandmasterID, ev.GrandmasterDomain)
	case kb.EventLinkStatusChanged:
		m.LinkStatusChanged(ctx, ev.EntityID, ev.AvbInterface, ev.LinkStatus)
	case kb.EventEntityNameChanged:
		m.EntityNameChanged(ctx, ev.EntityID, ev.Name)
	case kb.EventStreamNameChanged:
		m.StreamNameChanged(ctx, ev.EntityID, ev.Side, ev.StreamIndex, ev.Name)
	case kb.EventMediaLockChanged:
		m.StreamMediaLockChanged(ctx, ev.EntityID, ev.StreamIndex, ev.MediaLock)
	}
}
