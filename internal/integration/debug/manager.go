package debug

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/timcharper/dape/internal/config"
	"github.com/timcharper/dape/internal/integration/debug/dap"
	"github.com/timcharper/dape/internal/integration/process"
	"github.com/timcharper/dape/internal/logflags"
)

// Severity grades messages reported through Hooks.OnMessage.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String returns a string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Hooks are the Manager's callbacks into the front end. Any of them may be
// nil. They run on the loop.
type Hooks struct {
	// OnStateChanged is called on every lifecycle transition.
	OnStateChanged func(s *Session, old, new SessionState)

	// OnStopped is called once per stop, after the selected frame's
	// scopes, expanded variables and watches are fetched.
	OnStopped func(s *Session)

	// OnContinued is called when the debuggee resumes.
	OnContinued func(s *Session)

	// OnOutput is called for adapter output events.
	OnOutput func(s *Session, category, output string)

	// OnMessage reports diagnostics meant for the user.
	OnMessage func(s *Session, severity Severity, msg string)

	// OnExited is called with the debuggee's exit code.
	OnExited func(s *Session, code int, success bool)

	// OnSessionEnded is called when a root session is torn down.
	OnSessionEnded func(s *Session)

	// OnBreakpointsChanged is called after breakpoints of path changed,
	// either by an edit or by adapter feedback.
	OnBreakpointsChanged func(path string)

	// OnProgress is called for adapter progress events.
	OnProgress func(s *Session, p Progress)

	// Expand decides which variables are fetched after a stop. The
	// default expands nodes marked Expanded.
	Expand ExpandFunc
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHooks sets the front end callbacks.
func WithHooks(h Hooks) ManagerOption {
	return func(m *Manager) {
		m.hooks = h
	}
}

// WithLauncher replaces the process launcher.
func WithLauncher(l Launcher) ManagerOption {
	return func(m *Manager) {
		m.launcher = l
	}
}

// WithSupervisor sets the supervisor used for adapters and for
// runInTerminal processes.
func WithSupervisor(sup *process.Supervisor) ManagerOption {
	return func(m *Manager) {
		m.supervisor = sup
	}
}

// WithRequestTimeout sets how long requests wait for a response.
func WithRequestTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = d
	}
}

// WithTerminalOutput sets where runInTerminal processes write.
func WithTerminalOutput(w io.Writer) ManagerOption {
	return func(m *Manager) {
		m.terminalOutput = w
	}
}

// WithStepGranularity sets the granularity sent with step requests to
// adapters that support it: "statement", "line" or "instruction".
func WithStepGranularity(g string) ManagerOption {
	return func(m *Manager) {
		m.granularity = g
	}
}

// WithSourceCacheSize bounds the number of cached source contents.
func WithSourceCacheSize(n int) ManagerOption {
	return func(m *Manager) {
		m.sourceCacheSize = n
	}
}

// Manager is the registry of live sessions. It starts root sessions,
// tracks which one is active, and forwards Store changes to every session.
// Its methods must be called on the loop.
type Manager struct {
	loop     *dap.Loop
	store    *Store
	launcher Launcher
	hooks    Hooks

	supervisor     *process.Supervisor
	terminalOutput io.Writer
	timeout        time.Duration
	grace          time.Duration
	granularity    string

	sourceCacheSize int
	sources         *lru.Cache

	sessions map[string]*Session
	// active is the id of the session commands apply to.
	active string

	unsubscribe func()
	log         *logrus.Entry
}

// NewManager creates a manager running on loop and sharing store.
func NewManager(loop *dap.Loop, store *Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		loop:            loop,
		store:           store,
		timeout:         dap.DefaultTimeout,
		grace:           2 * time.Second,
		sourceCacheSize: 64,
		sessions:        make(map[string]*Session),
		log:             logflags.SessionLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.supervisor == nil {
		m.supervisor = process.NewSupervisor()
	}
	if m.launcher == nil {
		pl := NewProcessLauncher(m.supervisor)
		pl.Output = m.terminalOutput
		pl.Grace = m.grace
		m.launcher = pl
	}
	if m.hooks.Expand == nil {
		m.hooks.Expand = ExpandMarked
	}
	cache, err := lru.New(m.sourceCacheSize)
	if err != nil {
		cache, _ = lru.New(64)
	}
	m.sources = cache

	m.unsubscribe = store.Subscribe(func(c Change) {
		loop.Do(func() { m.storeChanged(c) })
	})
	return m
}

// Store returns the shared store.
func (m *Manager) Store() *Store {
	return m.store
}

// Loop returns the loop the manager runs on.
func (m *Manager) Loop() *dap.Loop {
	return m.loop
}

// Start resolves cfg and starts a root session for it. done is called
// once the launch or attach request succeeded, or with the error that
// ended the attempt. done may be nil.
func (m *Manager) Start(cfg config.Config, done func(*Session, error)) {
	finish := func(s *Session, err error) {
		if done != nil {
			done(s, err)
		}
	}
	resolved, err := cfg.Resolve()
	if err != nil {
		finish(nil, err)
		return
	}
	if err := resolved.Validate(); err != nil {
		finish(nil, err)
		return
	}
	s := m.newSession(resolved, nil)
	s.origin = cfg.Clone()
	m.active = s.ID
	s.connect(finish)
}

func (m *Manager) newSession(cfg config.Config, parent *Session) *Session {
	s := newSession(m, cfg, parent)
	m.sessions[s.ID] = s
	if parent != nil {
		parent.children = append(parent.children, s)
	}
	m.log.WithField("session", s.ID).Debugf("created session for %q", cfg.Type())
	return s
}

func (m *Manager) remove(s *Session) {
	delete(m.sessions, s.ID)
	if p := s.parent; p != nil {
		for i, c := range p.children {
			if c == s {
				p.children = append(p.children[:i:i], p.children[i+1:]...)
				break
			}
		}
	}
	if m.active == s.ID {
		m.active = ""
		if s.parent != nil && !s.parent.closed {
			m.active = s.parent.ID
		}
	}
	m.store.forgetSession(s.ID)
	for _, key := range m.sources.Keys() {
		if k, ok := key.(sourceKey); ok && k.session == s.ID {
			m.sources.Remove(key)
		}
	}
}

// Active returns the session commands apply to, or nil.
func (m *Manager) Active() *Session {
	return m.sessions[m.active]
}

// SetActive makes s the active session.
func (m *Manager) SetActive(s *Session) {
	if s == nil {
		m.active = ""
		return
	}
	if _, ok := m.sessions[s.ID]; ok {
		m.active = s.ID
	}
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	s, ok := m.sessions[id]
	return s, ok
}

// Sessions returns every live session, roots before their children.
func (m *Manager) Sessions() []*Session {
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].depth() != out[j].depth() {
			return out[i].depth() < out[j].depth()
		}
		return out[i].created.Before(out[j].created)
	})
	return out
}

// KillAll kills every root session and calls done when all are gone.
func (m *Manager) KillAll(done func()) {
	var roots []*Session
	for _, s := range m.Sessions() {
		if s.parent == nil {
			roots = append(roots, s)
		}
	}
	pending := len(roots) + 1
	finish := func() {
		pending--
		if pending == 0 && done != nil {
			done()
		}
	}
	for _, s := range roots {
		s.Kill(finish)
	}
	finish()
}

// Close detaches the manager from the store.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *Manager) storeChanged(c Change) {
	switch c.Kind {
	case ChangeStatus:
		if m.hooks.OnBreakpointsChanged != nil {
			m.hooks.OnBreakpointsChanged(c.Path)
		}
		return
	case ChangeWatches:
		return
	}

	for _, s := range m.Sessions() {
		if !s.configurable() {
			continue
		}
		switch c.Kind {
		case ChangeSource:
			s.syncSource(c.Path, nil)
		case ChangeFunctions:
			s.syncFunctions(nil)
		case ChangeExceptions:
			s.syncExceptions(nil)
		}
	}
	if c.Kind == ChangeSource && m.hooks.OnBreakpointsChanged != nil {
		m.hooks.OnBreakpointsChanged(c.Path)
	}
}

// launch runs the launcher off the loop and delivers the endpoint back on
// it.
func (m *Manager) launch(cfg config.Config, deliver func(*Endpoint, error)) {
	go func() {
		ep, err := m.launcher.Launch(context.Background(), cfg)
		if !m.loop.Do(func() { deliver(ep, err) }) && ep != nil {
			if ep.Transport != nil {
				_ = ep.Transport.Close()
			}
			m.launcher.Release(ep)
		}
	}()
}

func (m *Manager) release(ep *Endpoint) {
	if ep == nil {
		return
	}
	go m.launcher.Release(ep)
}

func (m *Manager) message(s *Session, severity Severity, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	entry := m.log
	if s != nil {
		entry = s.log
	}
	switch severity {
	case SeverityError:
		entry.Error(msg)
	case SeverityWarning:
		entry.Warn(msg)
	default:
		entry.Info(msg)
	}
	if m.hooks.OnMessage != nil {
		m.hooks.OnMessage(s, severity, msg)
	}
}
