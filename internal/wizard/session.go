package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"missionline/internal/domain"
)

// ErrSessionNotFound is returned for ids with no live or saved state.
var ErrSessionNotFound = errors.New("wizard: session not found")

// Session binds a Machine to a Store slot and saves after every change.
type Session struct {
	ID    string
	Owner string

	key     string
	mu      sync.Mutex
	machine *Machine
	store   Store
	logger  *zap.Logger
	release func()
}

func (s *Session) Machine() *Machine { return s.machine }

func (s *Session) State() State { return s.machine.State() }

// Apply runs a on the machine and persists the result.
func (s *Session) Apply(ctx context.Context, a Action) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.machine.Apply(a); err != nil {
		return s.machine.State(), err
	}
	if err := s.store.Save(ctx, s.key, s.machine.Snapshot()); err != nil {
		return State{}, fmt.Errorf("save wizard state: %w", err)
	}
	return s.machine.State(), nil
}

// Submit submits the machine and persists the reset state on success. The
// manager then drops the session from memory; the saved slot remains.
func (s *Session) Submit(ctx context.Context, sub Submitter) (domain.Mission, error) {
	mission, err := s.machine.Submit(ctx, sub)
	if err != nil {
		return domain.Mission{}, err
	}
	s.mu.Lock()
	if err := s.store.Save(ctx, s.key, s.machine.Snapshot()); err != nil {
		s.logger.Warn("save wizard state after submit", zap.String("session", s.ID), zap.Error(err))
	}
	s.mu.Unlock()
	if s.release != nil {
		s.release()
	}
	return mission, nil
}

const defaultIdleTimeout = 30 * time.Minute

// Manager tracks live sessions and falls back to the store for sessions
// started by another process. Sessions idle for longer than the idle timeout
// are dropped from memory on the next Create.
type Manager struct {
	store  Store
	build  func() *Machine
	logger *zap.Logger
	idle   time.Duration
	now    func() time.Time

	mu   sync.Mutex
	live map[string]*liveSession
}

type liveSession struct {
	sess    *Session
	touched time.Time
}

type ManagerOption func(*Manager)

// WithIdleTimeout sets how long an untouched session stays in memory.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.idle = d
		}
	}
}

// WithClock overrides the time source used for idle tracking.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(store Store, build func() *Machine, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:  store,
		build:  build,
		logger: logger,
		idle:   defaultIdleTimeout,
		now:    time.Now,
		live:   make(map[string]*liveSession),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SlotKey is the store key of an owner's session.
func SlotKey(owner, id string) string { return owner + "/" + id }

func (m *Manager) session(owner, id string, machine *Machine) *Session {
	key := SlotKey(owner, id)
	sess := &Session{
		ID:      id,
		Owner:   owner,
		key:     key,
		machine: machine,
		store:   m.store,
		logger:  m.logger,
	}
	sess.release = func() { m.evict(key, sess) }
	return sess
}

// Live reports how many sessions are held in memory.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Create starts a session for owner on step 1 and saves it.
func (m *Manager) Create(ctx context.Context, owner string) (*Session, error) {
	sess := m.session(owner, uuid.NewString(), m.build())
	if err := m.store.Save(ctx, sess.key, sess.machine.Snapshot()); err != nil {
		return nil, fmt.Errorf("save wizard state: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	m.live[sess.key] = &liveSession{sess: sess, touched: m.now()}
	return sess, nil
}

// Get returns a live session or resumes one from the store. Sessions are
// only visible to their owner. Unreadable snapshots restart at step 1.
func (m *Manager) Get(ctx context.Context, owner, id string) (*Session, error) {
	key := SlotKey(owner, id)
	m.mu.Lock()
	if entry, ok := m.live[key]; ok {
		entry.touched = m.now()
		m.mu.Unlock()
		return entry.sess, nil
	}
	m.mu.Unlock()

	snap, err := m.store.Load(ctx, key)
	if errors.Is(err, ErrNoState) {
		return nil, ErrSessionNotFound
	}
	machine := m.build()
	if err != nil {
		m.logger.Warn("discarding unreadable wizard state", zap.String("session", id), zap.Error(err))
	} else if err := machine.Restore(snap); err != nil {
		m.logger.Warn("discarding invalid wizard state", zap.String("session", id), zap.Error(err))
	}
	sess := m.session(owner, id, machine)

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another caller may have loaded the same slot meanwhile.
	if entry, ok := m.live[key]; ok {
		entry.touched = m.now()
		return entry.sess, nil
	}
	m.live[key] = &liveSession{sess: sess, touched: m.now()}
	return sess, nil
}

// Delete forgets a session and clears its slot.
func (m *Manager) Delete(ctx context.Context, owner, id string) error {
	key := SlotKey(owner, id)
	m.mu.Lock()
	delete(m.live, key)
	m.mu.Unlock()
	return m.store.Delete(ctx, key)
}

func (m *Manager) evict(key string, sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.live[key]; ok && entry.sess == sess {
		delete(m.live, key)
	}
}

func (m *Manager) pruneLocked() {
	cutoff := m.now().Add(-m.idle)
	for key, entry := range m.live {
		if entry.touched.Before(cutoff) && !entry.sess.machine.State().Submitting {
			delete(m.live, key)
		}
	}
}
