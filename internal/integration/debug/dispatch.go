package debug

import (
	"encoding/json"
	"fmt"

	godap "github.com/google/go-dap"
	"github.com/tidwall/gjson"

	"github.com/timcharper/dape/internal/integration/debug/dap"
)

type (
	eventHandler   func(s *Session, body json.RawMessage)
	requestHandler func(s *Session, req *dap.Envelope)
)

var (
	eventHandlers   map[string]eventHandler
	reverseHandlers map[string]requestHandler
)

func init() {
	eventHandlers = map[string]eventHandler{
		"initialized":  (*Session).onInitialized,
		"capabilities": (*Session).onCapabilities,
		"stopped":      (*Session).onStopped,
		"continued":    (*Session).onContinued,
		"exited":       (*Session).onExited,
		"terminated":   (*Session).onTerminated,
		"thread":       (*Session).onThread,
		"output":       (*Session).onOutput,
		"breakpoint":   (*Session).onBreakpoint,
		"module":       (*Session).onModule,
		"loadedSource": (*Session).onLoadedSource,
		"process":      (*Session).onProcess,
		"invalidated":  (*Session).onInvalidated,
		"progressStart": func(s *Session, body json.RawMessage) {
			s.onProgress(body, false)
		},
		"progressUpdate": func(s *Session, body json.RawMessage) {
			s.onProgress(body, false)
		},
		"progressEnd": func(s *Session, body json.RawMessage) {
			s.onProgress(body, true)
		},
	}
	reverseHandlers = map[string]requestHandler{
		"runInTerminal":  (*Session).onRunInTerminal,
		"startDebugging": (*Session).onStartDebugging,
	}
}

// HandleEvent implements dap.Handler.
func (s *Session) HandleEvent(_ *dap.Client, event string, body json.RawMessage) {
	if s.closed {
		return
	}
	h, ok := eventHandlers[event]
	if !ok {
		s.log.Debugf("unhandled event %q", event)
		return
	}
	h(s, body)
}

// HandleRequest implements dap.Handler.
func (s *Session) HandleRequest(c *dap.Client, req *dap.Envelope) {
	h, ok := reverseHandlers[req.Method]
	if !ok || s.closed {
		if err := c.Reply(req, nil, fmt.Errorf("unsupported request %q", req.Method)); err != nil {
			s.log.Debugf("reply %s: %v", req.Method, err)
		}
		return
	}
	h(s, req)
}

func (s *Session) onCapabilities(body json.RawMessage) {
	caps := gjson.GetBytes(body, "capabilities")
	if !caps.IsObject() {
		return
	}
	s.mergeCapabilities(json.RawMessage(caps.Raw))
}

func (s *Session) onStopped(body json.RawMessage) {
	var ev godap.StoppedEventBody
	if err := dap.Unmarshal(body, &ev); err != nil {
		s.log.Warnf("decode stopped event: %v", err)
		return
	}
	var hits []int
	for _, id := range gjson.GetBytes(body, "hitBreakpointIds").Array() {
		hits = append(hits, int(id.Int()))
	}
	if len(hits) > 0 {
		s.mgr.store.recordHits(s.ID, hits)
	}

	s.clearFrames()
	s.allStopped = ev.AllThreadsStopped
	s.stopReason = ev.Reason
	s.exception = ""
	if ev.Reason == "exception" {
		s.exception = ev.Text
		if s.exception == "" {
			s.exception = ev.Description
		}
	}
	if ev.AllThreadsStopped {
		for _, t := range s.threads {
			t.Status = ThreadStopped
		}
	}
	if ev.ThreadId != 0 {
		s.ensureThread(ev.ThreadId).Status = ThreadStopped
		if s.threadID != ev.ThreadId {
			s.threadID = ev.ThreadId
			s.frameID = 0
		}
	}
	s.setState(StateStopped)
	s.stopNotified = false
	s.refresh(true)
}

// refresh refetches what a stop shows: threads, the current thread's stack,
// the selected frame's variables, the top frame of every other thread,
// exception details and watches. With notify the OnStopped hook runs once
// everything has answered, unless the debuggee moved on meanwhile.
func (s *Session) refresh(notify bool) {
	gen := s.generation
	stale := func() bool { return gen != s.generation || s.closed }

	s.FetchThreads(func(err error) {
		if stale() {
			return
		}
		if err != nil {
			s.log.Warnf("threads: %v", err)
		}
		if t := s.CurrentThread(); t == nil || !t.Stopped() {
			s.threadID = 0
			for _, t := range s.threads {
				if t.Stopped() {
					s.threadID = t.ID
					break
				}
			}
		}
		s.FetchStack(s.CurrentThread(), stackDepth, func(err error) {
			if stale() {
				return
			}
			if err != nil {
				s.log.Debugf("stackTrace: %v", err)
			}
			s.selectFrame()
			s.loadFrame(func(err error) {
				if stale() {
					return
				}
				if err != nil {
					s.log.Debugf("load frame: %v", err)
				}
				s.FetchSummary(func() {
					if stale() {
						return
					}
					s.fetchExceptionInfo(func() {
						s.evaluateWatches(func() {
							if stale() || !notify || s.stopNotified {
								return
							}
							s.stopNotified = true
							if h := s.mgr.hooks.OnStopped; h != nil {
								h(s)
							}
						})
					})
				})
			})
		})
	})
}

func (s *Session) fetchExceptionInfo(done func()) {
	if s.stopReason != "exception" || !s.caps.SupportsExceptionInfoRequest || s.threadID == 0 {
		done()
		return
	}
	s.ExceptionInfo(func(info godap.ExceptionInfoResponseBody, err error) {
		if err == nil {
			switch {
			case info.Description != "" && info.ExceptionId != "":
				s.exception = info.ExceptionId + ": " + info.Description
			case info.Description != "":
				s.exception = info.Description
			case info.ExceptionId != "":
				s.exception = info.ExceptionId
			}
		}
		done()
	})
}

func (s *Session) onContinued(body json.RawMessage) {
	var ev godap.ContinuedEventBody
	if err := dap.Unmarshal(body, &ev); err != nil {
		s.log.Warnf("decode continued event: %v", err)
		return
	}
	s.markRunning(ev.ThreadId, ev.AllThreadsContinued)
}

// markRunning records that thread id, or every thread, resumed.
func (s *Session) markRunning(id int, all bool) {
	s.clearFrames()
	if all || id == 0 {
		for _, t := range s.threads {
			t.Status = ThreadRunning
		}
	} else if t := s.Thread(id); t != nil {
		t.Status = ThreadRunning
	}
	for _, t := range s.threads {
		if t.Stopped() {
			return
		}
	}
	if s.state == StateRunning {
		return
	}
	s.stopReason = ""
	s.exception = ""
	s.watches = nil
	s.setState(StateRunning)
	if h := s.mgr.hooks.OnContinued; h != nil {
		h(s)
	}
}

func (s *Session) onExited(body json.RawMessage) {
	var ev godap.ExitedEventBody
	if err := dap.Unmarshal(body, &ev); err != nil {
		s.log.Warnf("decode exited event: %v", err)
		return
	}
	code := ev.ExitCode
	s.exitCode = &code
	s.setState(StateExited)
	success := code == 0
	if success {
		s.message(SeverityInfo, "%s exited with code %d", s.name(), code)
	} else {
		s.message(SeverityWarning, "%s exited with code %d", s.name(), code)
	}
	if h := s.mgr.hooks.OnExited; h != nil {
		h(s, code, success)
	}
}

func (s *Session) onTerminated(body json.RawMessage) {
	if s.ending {
		return
	}
	if gjson.GetBytes(body, "restart").Exists() {
		s.log.Debugf("adapter asked for a restart, ending session instead")
	}
	s.ending = true
	s.disconnect(nil)
}

func (s *Session) onThread(body json.RawMessage) {
	var ev godap.ThreadEventBody
	if err := dap.Unmarshal(body, &ev); err != nil {
		s.log.Warnf("decode thread event: %v", err)
		return
	}
	switch ev.Reason {
	case "started":
		t := s.ensureThread(ev.ThreadId)
		if t.Status == ThreadUnknown {
			t.Status = ThreadRunning
		}
	case "exited":
		for i, t := range s.threads {
			if t.ID == ev.ThreadId {
				s.threads = append(s.threads[:i:i], s.threads[i+1:]...)
				break
			}
		}
		if s.threadID == ev.ThreadId {
			s.threadID = 0
			s.frameID = 0
		}
	}
}

func (s *Session) onOutput(body json.RawMessage) {
	var ev godap.OutputEventBody
	if err := dap.Unmarshal(body, &ev); err != nil {
		s.log.Warnf("decode output event: %v", err)
		return
	}
	if ev.Category == "telemetry" {
		return
	}
	if ev.Category == "" {
		ev.Category = "console"
	}
	if h := s.mgr.hooks.OnOutput; h != nil {
		h(s, ev.Category, ev.Output)
		return
	}
	s.log.WithField("category", ev.Category).Info(ev.Output)
}

func (s *Session) onModule(body json.RawMessage) {
	var ev godap.ModuleEventBody
	if err := dap.Unmarshal(body, &ev); err != nil {
		s.log.Warnf("decode module event: %v", err)
		return
	}
	id := fmt.Sprint(ev.Module.Id)
	for i, m := range s.modules {
		if fmt.Sprint(m.Id) != id {
			continue
		}
		if ev.Reason == "removed" {
			s.modules = append(s.modules[:i:i], s.modules[i+1:]...)
		} else {
			s.modules[i] = ev.Module
		}
		return
	}
	if ev.Reason != "removed" {
		s.modules = append(s.modules, ev.Module)
	}
}

func sourceID(src godap.Source) string {
	if src.SourceReference > 0 {
		return fmt.Sprintf("ref:%d", src.SourceReference)
	}
	return src.Path
}

func (s *Session) onLoadedSource(body json.RawMessage) {
	var ev godap.LoadedSourceEventBody
	if err := dap.Unmarshal(body, &ev); err != nil {
		s.log.Warnf("decode loadedSource event: %v", err)
		return
	}
	id := sourceID(ev.Source)
	for i, src := range s.sources {
		if sourceID(src) != id {
			continue
		}
		if ev.Reason == "removed" {
			s.sources = append(s.sources[:i:i], s.sources[i+1:]...)
		} else {
			s.sources[i] = ev.Source
		}
		return
	}
	if ev.Reason != "removed" {
		s.sources = append(s.sources, ev.Source)
	}
}

func (s *Session) onProcess(body json.RawMessage) {
	var ev godap.ProcessEventBody
	if err := dap.Unmarshal(body, &ev); err != nil {
		s.log.Warnf("decode process event: %v", err)
		return
	}
	s.debuggee = &ev
	s.log.Debugf("debuggee %s (pid %d)", ev.Name, ev.SystemProcessId)
}

// onInvalidated refetches the stop's data without announcing a new stop.
func (s *Session) onInvalidated(json.RawMessage) {
	if s.state != StateStopped {
		return
	}
	s.clearFrames()
	s.refresh(false)
}

// Progress is an adapter progress report.
type Progress struct {
	ID          string
	Title       string
	Message     string
	Percentage  float64
	Cancellable bool
	Done        bool
}

func (s *Session) onProgress(body json.RawMessage, end bool) {
	r := gjson.ParseBytes(body)
	id := r.Get("progressId").String()
	if id == "" {
		return
	}
	p, ok := s.progress[id]
	if !ok {
		p = Progress{ID: id}
	}
	if v := r.Get("title"); v.Exists() {
		p.Title = v.String()
	}
	if v := r.Get("message"); v.Exists() {
		p.Message = v.String()
	}
	if v := r.Get("percentage"); v.Exists() {
		p.Percentage = v.Float()
	}
	if v := r.Get("cancellable"); v.Exists() {
		p.Cancellable = v.Bool()
	}
	if end {
		p.Done = true
		delete(s.progress, id)
	} else {
		s.progress[id] = p
	}
	if h := s.mgr.hooks.OnProgress; h != nil {
		h(s, p)
	}
}
