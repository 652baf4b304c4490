package debug

import (
	"encoding/json"
	"time"

	godap "github.com/google/go-dap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/timcharper/dape/internal/config"
	"github.com/timcharper/dape/internal/integration/debug/dap"
	"github.com/timcharper/dape/internal/integration/process"
)

// Session is one connection to a debug adapter and everything known about
// the debuggee behind it.
type Session struct {
	// ID identifies the session in the Manager.
	ID string

	// Config is the resolved launch configuration.
	Config config.Config

	// origin is the configuration Start was given, before Resolve. A
	// restart that needs a new session starts from it.
	origin config.Config

	mgr      *Manager
	client   *dap.Client
	endpoint *Endpoint
	parent   *Session
	children []*Session
	created  time.Time

	caps    godap.Capabilities
	rawCaps map[string]any

	state       SessionState
	initialized bool
	restarting  bool
	closed      bool
	ending      bool

	threads    []*Thread
	threadID   int
	frameID    int
	allStopped bool
	stopReason string
	exception  string
	exitCode   *int
	debuggee   *godap.ProcessEventBody

	modules   []godap.Module
	sources   []godap.Source
	terminals []*process.Process
	progress  map[string]Progress
	watches   []WatchResult

	// generation increments on every stop and resume. Callbacks of
	// fetches started in an earlier generation are ignored.
	generation   int
	stopNotified bool

	// lastVars is the variable tree of the most recently selected frame;
	// new trees take their expansion marks from it.
	lastVars *Tree

	log *logrus.Entry
}

func newSession(m *Manager, cfg config.Config, parent *Session) *Session {
	id := uuid.New().String()
	return &Session{
		ID:       id,
		Config:   cfg,
		mgr:      m,
		parent:   parent,
		created:  time.Now(),
		rawCaps:  make(map[string]any),
		progress: make(map[string]Progress),
		log:      m.log.WithField("session", id[:8]),
	}
}

// State returns the lifecycle state.
func (s *Session) State() SessionState {
	return s.state
}

func (s *Session) setState(state SessionState) {
	if s.state == state {
		return
	}
	old := s.state
	s.state = state
	s.log.Debugf("state %s -> %s", old, state)
	if h := s.mgr.hooks.OnStateChanged; h != nil {
		h(s, old, state)
	}
}

// Initialized reports whether the adapter sent its initialized event.
func (s *Session) Initialized() bool {
	return s.initialized
}

// Restarting reports whether an in-place restart is in flight.
func (s *Session) Restarting() bool {
	return s.restarting
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	return s.closed
}

// Capabilities returns what the adapter declared.
func (s *Session) Capabilities() godap.Capabilities {
	return s.caps
}

// Supports reports whether the adapter declared the boolean capability
// name, including ones godap.Capabilities has no field for.
func (s *Session) Supports(name string) bool {
	v, _ := s.rawCaps[name].(bool)
	return v
}

// mergeCapabilities folds a capabilities object into what is known.
func (s *Session) mergeCapabilities(body json.RawMessage) {
	if err := dap.Unmarshal(body, &s.caps); err != nil {
		s.log.Warnf("decode capabilities: %v", err)
	}
	var raw map[string]any
	if err := dap.Unmarshal(body, &raw); err != nil {
		return
	}
	for k, v := range raw {
		s.rawCaps[k] = v
	}
}

// Parent returns the session that started this one, nil for roots.
func (s *Session) Parent() *Session {
	return s.parent
}

// Children returns the sessions started by this one.
func (s *Session) Children() []*Session {
	return append([]*Session(nil), s.children...)
}

func (s *Session) root() *Session {
	r := s
	for r.parent != nil {
		r = r.parent
	}
	return r
}

func (s *Session) depth() int {
	d := 0
	for p := s.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// StopReason returns the reason of the last stop.
func (s *Session) StopReason() string {
	return s.stopReason
}

// Exception returns the description of the exception the debuggee stopped
// on, empty after any other kind of stop.
func (s *Session) Exception() string {
	return s.exception
}

// ExitCode returns the debuggee's exit code once it exited.
func (s *Session) ExitCode() (int, bool) {
	if s.exitCode == nil {
		return 0, false
	}
	return *s.exitCode, true
}

// Debuggee returns what the process event said about the debuggee.
func (s *Session) Debuggee() (godap.ProcessEventBody, bool) {
	if s.debuggee == nil {
		return godap.ProcessEventBody{}, false
	}
	return *s.debuggee, true
}

// Modules returns the modules the adapter reported.
func (s *Session) Modules() []godap.Module {
	return append([]godap.Module(nil), s.modules...)
}

// LoadedSources returns the sources the adapter reported.
func (s *Session) LoadedSources() []godap.Source {
	return append([]godap.Source(nil), s.sources...)
}

// Terminals returns the processes started for runInTerminal requests.
func (s *Session) Terminals() []*process.Process {
	return append([]*process.Process(nil), s.terminals...)
}

// Progress returns the progress reports still open.
func (s *Session) Progress() []Progress {
	out := make([]Progress, 0, len(s.progress))
	for _, p := range s.progress {
		out = append(out, p)
	}
	return out
}

// configurable reports whether breakpoint changes can be sent now.
func (s *Session) configurable() bool {
	return s.initialized && !s.closed && s.client != nil && !s.client.Closed()
}

// live reports whether requests can still be sent.
func (s *Session) live() bool {
	return !s.closed && s.client != nil && !s.client.Closed()
}

func (s *Session) message(severity Severity, format string, args ...any) {
	s.mgr.message(s, severity, format, args...)
}

// request sends command, failing cb when the session never connected.
func (s *Session) request(command string, args any, cb dap.Callback) {
	if s.client == nil {
		if cb != nil {
			s.mgr.loop.Do(func() { cb(nil, dap.ErrConnectionClosed) })
		}
		return
	}
	s.client.Request(command, args, cb)
}
