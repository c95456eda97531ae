package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/caffeineduck/datalab/adapter"
	"github.com/caffeineduck/datalab/internal/metrics"
)

// Factory builds an unstarted adapter for a language name.
type Factory func(lang string) (*adapter.Adapter, error)

var ErrSessionNotFound = errors.New("session not found")

// Session is one adapter owned by an HTTP client.
type Session struct {
	ID      string
	Adapter *adapter.Adapter
	Created time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	lastUsed time.Time
}

// Context lives as long as the session. Commands run under it rather than
// under the request that issued them, so a disconnecting client cannot
// interrupt the interpreter.
func (s *Session) Context() context.Context { return s.ctx }

// SessionManager owns live sessions and expires the ones left idle longer
// than the TTL.
type SessionManager struct {
	factory Factory
	ttl     time.Duration
	log     *logrus.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
	wg       sync.WaitGroup
	done     chan struct{}
	stop     sync.Once
}

func NewSessionManager(factory Factory, ttl time.Duration, logger *logrus.Logger, m *metrics.Metrics) *SessionManager {
	if logger == nil {
		logger = logrus.New()
	}
	sm := &SessionManager{
		factory:  factory,
		ttl:      ttl,
		log:      logger,
		metrics:  m,
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
	if ttl > 0 {
		go sm.cleanup(ttl / 4)
	}
	return sm
}

// Create registers a session for lang and starts its bootstrap in the
// background.
func (sm *SessionManager) Create(lang string) (*Session, error) {
	a, err := sm.factory(lang)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	s := &Session{
		ID:       uuid.New().String(),
		Adapter:  a,
		Created:  now,
		ctx:      ctx,
		cancel:   cancel,
		lastUsed: now,
	}

	sm.mu.Lock()
	sm.sessions[s.ID] = s
	sm.mu.Unlock()
	sm.metrics.SessionOpened()

	log := sm.log.WithFields(logrus.Fields{"session": s.ID, "lang": lang})
	log.Info("session created")

	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()
		if err := a.Initialize(ctx); err != nil {
			log.WithError(err).Warn("session bootstrap failed")
		}
	}()
	return s, nil
}

// Get returns a session and marks it used.
func (sm *SessionManager) Get(id string) (*Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[id]
	if ok {
		s.lastUsed = time.Now()
	}
	return s, ok
}

// Len returns the number of live sessions.
func (sm *SessionManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Remove closes and forgets a session.
func (sm *SessionManager) Remove(id string) error {
	sm.mu.Lock()
	s, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	sm.close(s)
	return nil
}

// Expire removes every session idle since before now-ttl and returns how
// many were closed.
func (sm *SessionManager) Expire(now time.Time) int {
	var stale []*Session
	sm.mu.Lock()
	for id, s := range sm.sessions {
		if now.Sub(s.lastUsed) > sm.ttl {
			stale = append(stale, s)
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()

	for _, s := range stale {
		sm.log.WithField("session", s.ID).Info("session expired")
		sm.close(s)
	}
	return len(stale)
}

// CloseAll closes every session and stops the expiry loop.
func (sm *SessionManager) CloseAll() {
	sm.stop.Do(func() { close(sm.done) })

	sm.mu.Lock()
	all := make([]*Session, 0, len(sm.sessions))
	for id, s := range sm.sessions {
		all = append(all, s)
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()

	for _, s := range all {
		sm.close(s)
	}
	sm.wg.Wait()
}

func (sm *SessionManager) close(s *Session) {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Adapter.Close(ctx); err != nil {
		sm.log.WithField("session", s.ID).WithError(err).Warn("close session")
	}
	sm.metrics.SessionClosed()
}

func (sm *SessionManager) cleanup(every time.Duration) {
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			sm.Expire(now)
		case <-sm.done:
			return
		}
	}
}
