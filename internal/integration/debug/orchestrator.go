package debug

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/timcharper/dape/internal/config"
	"github.com/timcharper/dape/internal/integration/debug/dap"
)

// ClientID is sent to adapters in the initialize request.
const ClientID = "dape"

var errKilled = errors.New("session killed before it connected")

func (s *Session) name() string {
	if t := s.Config.Type(); t != "" {
		return t
	}
	return "adapter"
}

// connect launches the adapter and starts the handshake. done runs when
// the launch or attach request is answered, or with the error that ended
// the attempt.
func (s *Session) connect(done func(*Session, error)) {
	s.mgr.launch(s.Config, func(ep *Endpoint, err error) {
		if s.closed {
			if ep != nil {
				if ep.Transport != nil {
					_ = ep.Transport.Close()
				}
				s.mgr.release(ep)
			}
			done(nil, errKilled)
			return
		}
		if err != nil {
			s.message(SeverityError, "connect %s: %v", s.name(), err)
			s.teardown()
			done(nil, err)
			return
		}

		s.endpoint = ep
		s.client = dap.NewClient(s.mgr.loop, ep.Transport, s,
			dap.WithTimeout(s.mgr.timeout),
			dap.WithTimeoutNotice(func(command string) {
				s.message(SeverityWarning, "%s request timed out", command)
			}),
		)
		s.setState(StateStarting)
		s.client.Start()
		s.initialize(done)
	})
}

func initializeArguments(cfg config.Config) map[string]any {
	adapterID := cfg.Type()
	if adapterID == "" {
		adapterID = ClientID
	}
	return map[string]any{
		"clientID":                      ClientID,
		"clientName":                    ClientID,
		"adapterID":                     adapterID,
		"pathFormat":                    "path",
		"linesStartAt1":                 true,
		"columnsStartAt1":               true,
		"supportsVariableType":          true,
		"supportsRunInTerminalRequest":  true,
		"supportsProgressReporting":     true,
		"supportsStartDebuggingRequest": true,
		"supportsMemoryReferences":      true,
		"supportsInvalidatedEvent":      true,
	}
}

func (s *Session) initialize(done func(*Session, error)) {
	s.request("initialize", initializeArguments(s.Config), func(body json.RawMessage, err error) {
		if err != nil {
			s.failStart("initialize", err, done)
			return
		}
		s.mergeCapabilities(body)
		s.setState(StateInitialized)
		s.start(done)
	})
}

// start sends launch or attach with the keyword arguments of the
// configuration.
func (s *Session) start(done func(*Session, error)) {
	command := s.Config.Request()
	s.request(command, s.Config.Arguments(), func(_ json.RawMessage, err error) {
		if err != nil {
			s.failStart(command, err, done)
			return
		}
		// Adapters may answer only after configurationDone, by which
		// time the debuggee can already be running or stopped.
		if s.state == StateInitialized {
			if command == "attach" {
				s.setState(StateAttached)
			} else {
				s.setState(StateLaunched)
			}
		}
		done(s, nil)
	})
}

func (s *Session) failStart(command string, err error, done func(*Session, error)) {
	if s.closed {
		done(nil, err)
		return
	}
	s.message(SeverityError, "%s failed: %v", command, err)
	s.log.Errorf("configuration of failed session:\n%s", s.Config.Dump())
	s.Kill(func() { done(nil, fmt.Errorf("%s: %w", command, err)) })
}

// onInitialized sends everything the adapter must know before the
// debuggee starts: exception filters, then breakpoints of every source,
// then function breakpoints, and finally configurationDone.
func (s *Session) onInitialized(json.RawMessage) {
	s.initialized = true
	s.configure()
}

func (s *Session) configure() {
	pending := 1
	finish := func() {
		pending--
		if pending == 0 {
			s.configurationDone()
		}
	}

	if len(s.caps.ExceptionBreakpointFilters) > 0 {
		pending++
		s.syncExceptions(finish)
	}
	for _, path := range s.mgr.store.Paths() {
		pending++
		s.syncSource(path, finish)
	}
	if s.caps.SupportsFunctionBreakpoints && len(s.mgr.store.FunctionBreakpoints()) > 0 {
		pending++
		s.syncFunctions(finish)
	}
	finish()
}

func (s *Session) configurationDone() {
	if !s.caps.SupportsConfigurationDoneRequest || !s.live() {
		return
	}
	s.request("configurationDone", nil, func(_ json.RawMessage, err error) {
		if err != nil && !errors.Is(err, dap.ErrConnectionClosed) {
			s.message(SeverityError, "configurationDone failed: %v", err)
		}
	})
}

// Kill ends the session and its children. The adapter is asked to
// terminate the debuggee when it supports that; otherwise, or when that
// fails, the session disconnects. done runs once the session is gone and
// may be nil.
func (s *Session) Kill(done func()) {
	pending := len(s.children) + 1
	finish := func() {
		pending--
		if pending == 0 && done != nil {
			done()
		}
	}
	for _, c := range s.Children() {
		c.Kill(finish)
	}

	if !s.live() {
		s.teardown()
		finish()
		return
	}
	s.ending = true
	if s.caps.SupportsTerminateRequest {
		s.request("terminate", map[string]any{"restart": false}, func(_ json.RawMessage, err error) {
			if err != nil && s.live() {
				s.log.Debugf("terminate failed, disconnecting: %v", err)
				s.disconnect(finish)
				return
			}
			s.teardown()
			finish()
		})
		return
	}
	s.disconnect(finish)
}

// disconnect asks the adapter to end the session without restarting it.
func (s *Session) disconnect(done func()) {
	args := map[string]any{"restart": false}
	if s.caps.SupportTerminateDebuggee {
		args["terminateDebuggee"] = true
	}
	s.request("disconnect", args, func(_ json.RawMessage, err error) {
		if err != nil && !errors.Is(err, dap.ErrConnectionClosed) {
			s.message(SeverityWarning, "disconnect failed: %v", err)
		}
		s.teardown()
		if done != nil {
			done()
		}
	})
}

// teardown closes the connection, stops the adapter processes and removes
// the session and its children from the manager.
func (s *Session) teardown() {
	if s.closed {
		return
	}
	s.closed = true
	for _, c := range s.Children() {
		c.teardown()
	}
	if s.client != nil {
		s.client.Close()
	}
	s.mgr.release(s.endpoint)
	for _, t := range s.terminals {
		go s.mgr.supervisor.Stop(t, s.mgr.grace)
	}

	s.setState(StateTerminated)
	s.mgr.remove(s)
	if s.parent == nil {
		s.log.Debugf("session ended")
		if h := s.mgr.hooks.OnSessionEnded; h != nil {
			h(s)
		}
	}
}

// HandleClose implements dap.Handler.
func (s *Session) HandleClose(_ *dap.Client, err error) {
	if s.closed {
		return
	}
	if err != nil && !s.ending {
		if !s.initialized {
			s.message(SeverityError, "%s exited before it was initialized: %v\n%s", s.name(), err, s.endpoint.stderr())
		} else {
			s.message(SeverityWarning, "connection to %s lost: %v", s.name(), err)
		}
	}
	s.teardown()
}
