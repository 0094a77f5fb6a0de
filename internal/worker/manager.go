package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"duochat/internal/models"
	"duochat/internal/redis"
)

// DispatcherConfig sizes the worker pool and the shared job queue.
type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

// Manager owns provider job scheduling and per-user session state.
type Manager struct {
	dispatcher  *Dispatcher
	state       *userState
	cache       *stateRedis
	defaultMode string
	stop        context.CancelFunc
}

// NewManager starts the dispatcher. cacheClient may be nil; when set, session
// state is mirrored to redis and other instances are told to drop stale copies.
func NewManager(cfg DispatcherConfig, defaultMode string, cacheClient *redis.Client) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		dispatcher:  NewDispatcher(cfg.MinWorkers, cfg.MaxWorkers, cfg.QueueSize, cfg.IdleTimeout),
		state:       newUserState(),
		cache:       newStateCache(cacheClient, uuid.NewString()),
		defaultMode: defaultMode,
		stop:        cancel,
	}
	m.cache.startListener(ctx, m.handleInvalidation)
	return m
}

func (m *Manager) handleInvalidation(inv invalidateMessage) {
	debugLog("[manager] drop state for %s (%s from %s)", inv.Username, inv.Scope, inv.Origin)
	m.state.drop(inv.Username)
	if inv.Scope == scopeLogout {
		m.dispatcher.CancelUser(inv.Username)
	}
}

// Run executes fn on a pooled worker on behalf of username and waits for it.
func (m *Manager) Run(ctx context.Context, username string, fn func(ctx context.Context)) error {
	return m.dispatcher.Submit(ctx, username, fn)
}

func (m *Manager) newState(username string) func() *models.SessionState {
	return func() *models.SessionState {
		if st, ok := m.cache.load(username); ok {
			return st
		}
		return &models.SessionState{
			Username: username,
			Mode:     m.defaultMode,
			Style:    models.StyleProfessional,
			Duo:      models.DuoState{Outputs: map[string]string{}},
		}
	}
}

// State returns a copy of the user's session state, creating the default one.
func (m *Manager) State(username string) *models.SessionState {
	if st, ok := m.state.get(username); ok {
		return st
	}
	st, _ := m.state.update(username, m.newState(username), func(*models.SessionState) error { return nil })
	return st
}

// UpdateState applies fn atomically and mirrors the result.
func (m *Manager) UpdateState(username string, fn func(*models.SessionState) error) (*models.SessionState, error) {
	st, err := m.state.update(username, m.newState(username), fn)
	if err != nil {
		return nil, err
	}
	m.cache.store(st)
	m.cache.publishInvalidation(username, scopeUpdate)
	return st, nil
}

// ResetUser forgets the user's state and drops their queued jobs.
func (m *Manager) ResetUser(username string) {
	m.dispatcher.CancelUser(username)
	m.state.drop(username)
	m.cache.remove(username)
	m.cache.publishInvalidation(username, scopeLogout)
}

// Close stops the dispatcher and the invalidation listener.
func (m *Manager) Close() {
	m.stop()
	m.dispatcher.Close()
}
