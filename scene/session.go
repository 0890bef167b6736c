package scene

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionState captures the engine session lifecycle.
type SessionState string

const (
	SessionUninitialized SessionState = "uninitialized"
	SessionInitializing  SessionState = "initializing"
	SessionReady         SessionState = "ready"
	SessionDisposed      SessionState = "disposed"
)

// SessionConfig holds engine initialization inputs.
type SessionConfig struct {
	License string
	BaseURL string
	UserID  string
}

// Validate reports configuration errors before any engine call.
func (c SessionConfig) Validate() error {
	if strings.TrimSpace(c.License) == "" {
		return NewError(KindConfiguration, "engine license is required", nil)
	}
	return nil
}

// Session wraps one initialized engine handle.
type Session struct {
	id        string
	config    SessionConfig
	engine    Engine
	createdAt time.Time

	disposeOnce sync.Once
	disposeErr  error
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Config returns the configuration the session was initialized with.
func (s *Session) Config() SessionConfig { return s.config }

// Engine returns the engine handle. The handle is owned by the manager and
// must not be disposed by callers.
func (s *Session) Engine() Engine { return s.engine }

// CreatedAt returns the initialization time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) dispose() error {
	s.disposeOnce.Do(func() {
		if s.engine != nil {
			s.disposeErr = s.engine.Dispose()
		}
	})
	return s.disposeErr
}

type sessionCall struct {
	done    chan struct{}
	session *Session
	err     error
}

// SessionManager owns the lifecycle of a single engine session. Concurrent
// Acquire calls during initialization share the in-flight result.
type SessionManager struct {
	Factory EngineFactory
	Logger  Logger
	Now     func() time.Time

	mu      sync.Mutex
	state   SessionState
	pending *sessionCall
	current *Session
}

// NewSessionManager creates a manager backed by factory.
func NewSessionManager(factory EngineFactory) *SessionManager {
	return &SessionManager{Factory: factory, Logger: NopLogger{}, Now: time.Now}
}

// State returns the current lifecycle state.
func (m *SessionManager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == "" {
		return SessionUninitialized
	}
	return m.state
}

// Acquire returns the live session, initializing it on first use.
func (m *SessionManager) Acquire(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if m == nil {
		return nil, NewError(KindInternal, "session manager is nil", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m.Factory == nil {
		return nil, NewError(KindConfiguration, "engine factory is required", nil)
	}

	m.mu.Lock()
	if m.current != nil {
		session := m.current
		m.mu.Unlock()
		return session, nil
	}
	if call := m.pending; call != nil {
		m.mu.Unlock()
		return m.wait(ctx, call)
	}

	call := &sessionCall{done: make(chan struct{})}
	m.pending = call
	m.state = SessionInitializing
	m.mu.Unlock()

	m.initialize(ctx, cfg, call)
	return call.session, call.err
}

func (m *SessionManager) initialize(ctx context.Context, cfg SessionConfig, call *sessionCall) {
	logger := loggerOrNop(m.Logger)
	engine, err := m.Factory.NewEngine(ctx, cfg)
	if err == nil && engine == nil {
		err = NewError(KindEngine, "engine factory returned no engine", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer close(call.done)

	m.pending = nil
	if err != nil {
		m.state = SessionUninitialized
		call.err = EngineError("engine initialization failed", err)
		logger.Debug("engine initialization failed", "error", err)
		return
	}

	call.session = &Session{
		id:        uuid.NewString(),
		config:    cfg,
		engine:    engine,
		createdAt: m.now(),
	}
	m.current = call.session
	m.state = SessionReady
	logger.Debug("engine session ready", "session", call.session.id)
}

func (m *SessionManager) wait(ctx context.Context, call *sessionCall) (*Session, error) {
	select {
	case <-call.done:
		return call.session, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release disposes the live session exactly once. It is a no-op when no
// session exists and waits for an in-flight initialization to settle first.
func (m *SessionManager) Release(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	for m.pending != nil {
		call := m.pending
		m.mu.Unlock()
		select {
		case <-call.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
	}
	session := m.current
	if session == nil {
		m.mu.Unlock()
		return nil
	}
	m.current = nil
	m.state = SessionDisposed
	m.mu.Unlock()

	if err := session.dispose(); err != nil {
		return EngineError("engine dispose failed", err)
	}
	loggerOrNop(m.Logger).Debug("engine session disposed", "session", session.id)
	return nil
}

// WithSession runs fn inside a scoped acquisition. The session is released on
// every exit path, including panics, and release failures are joined to the
// returned error.
func (m *SessionManager) WithSession(ctx context.Context, cfg SessionConfig, fn func(*Session) error) (err error) {
	session, err := m.Acquire(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		releaseErr := m.Release(context.WithoutCancel(ctx))
		if releaseErr != nil {
			err = errors.Join(err, releaseErr)
		}
	}()
	return fn(session)
}

func (m *SessionManager) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}
