package debug

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	godap "github.com/google/go-dap"

	"github.com/timcharper/dape/internal/integration/debug/dap"
)

// Thread statuses. Adapters may also report their own reason strings.
const (
	ThreadRunning = "running"
	ThreadStopped = "stopped"
	ThreadUnknown = "unknown"
)

// stackDepth is how many frames are requested for the current thread.
const stackDepth = 50

// Thread is a debuggee thread.
type Thread struct {
	ID     int
	Name   string
	Status string

	// Frames are fetched once per stop, innermost first.
	Frames      []*Frame
	TotalFrames int

	// levels is how many frames were requested; 0 means not fetched.
	levels   int
	complete bool
}

// Stopped reports whether the thread is stopped.
func (t *Thread) Stopped() bool {
	return t.Status != ThreadRunning && t.Status != ThreadUnknown && t.Status != ""
}

// Frame returns the thread's frame with id.
func (t *Thread) Frame(id int) *Frame {
	for _, f := range t.Frames {
		if f.Id == id {
			return f
		}
	}
	return nil
}

func (t *Thread) clearFrames() {
	t.Frames = nil
	t.TotalFrames = 0
	t.levels = 0
	t.complete = false
}

// Frame is a stack frame with the data fetched for it.
type Frame struct {
	godap.StackFrame

	// Scopes are fetched once, when the frame is selected.
	Scopes []godap.Scope

	// Vars holds the frame's scopes and variables.
	Vars *Tree

	scopesFetched bool
}

// HasSource returns true if the frame has source information.
func (f *Frame) HasSource() bool {
	return f.Source != nil && (f.Source.Path != "" || f.Source.SourceReference > 0)
}

// FormatLocation returns a formatted location string like "file.go:42".
func (f *Frame) FormatLocation() string {
	if f.Source == nil {
		return f.Name
	}
	name := f.Source.Name
	if f.Source.Path != "" {
		name = filepath.Base(f.Source.Path)
	}
	if name == "" {
		return f.Name
	}
	return fmt.Sprintf("%s:%d", name, f.Line)
}

// Threads returns the known threads in adapter order.
func (s *Session) Threads() []*Thread {
	return append([]*Thread(nil), s.threads...)
}

// Thread returns the thread with id.
func (s *Session) Thread(id int) *Thread {
	for _, t := range s.threads {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// CurrentThread returns the selected thread.
func (s *Session) CurrentThread() *Thread {
	if s.threadID == 0 {
		return nil
	}
	return s.Thread(s.threadID)
}

// CurrentFrame returns the selected frame of the selected thread.
func (s *Session) CurrentFrame() *Frame {
	t := s.CurrentThread()
	if t == nil {
		return nil
	}
	return t.Frame(s.frameID)
}

func (s *Session) defaultThreadStatus() string {
	switch {
	case s.state == StateRunning:
		return ThreadRunning
	case s.state == StateStopped && s.allStopped:
		return ThreadStopped
	default:
		return ThreadUnknown
	}
}

// ensureThread returns the thread with id, adding a placeholder when the
// adapter has not listed it yet.
func (s *Session) ensureThread(id int) *Thread {
	if t := s.Thread(id); t != nil {
		return t
	}
	t := &Thread{ID: id, Status: ThreadUnknown}
	s.threads = append(s.threads, t)
	return t
}

// clearFrames drops the frames of every thread. A new stop or resume
// begins.
func (s *Session) clearFrames() {
	if f := s.CurrentFrame(); f != nil && f.Vars != nil {
		s.lastVars = f.Vars
	}
	for _, t := range s.threads {
		t.clearFrames()
	}
	s.generation++
}

// FetchThreads refreshes the thread list. Threads already known keep their
// status and frames.
func (s *Session) FetchThreads(cb func(error)) {
	s.request("threads", nil, func(body json.RawMessage, err error) {
		if err != nil {
			cb(err)
			return
		}
		var resp godap.ThreadsResponseBody
		if err := dap.Unmarshal(body, &resp); err != nil {
			cb(fmt.Errorf("decode threads: %w", err))
			return
		}
		known := make(map[int]*Thread, len(s.threads))
		for _, t := range s.threads {
			known[t.ID] = t
		}
		threads := make([]*Thread, 0, len(resp.Threads))
		for _, rt := range resp.Threads {
			t := known[rt.Id]
			if t == nil {
				t = &Thread{ID: rt.Id, Status: s.defaultThreadStatus()}
			}
			t.Name = rt.Name
			if t.Status == ThreadUnknown {
				t.Status = s.defaultThreadStatus()
			}
			threads = append(threads, t)
		}
		s.threads = threads
		cb(nil)
	})
}

// FetchStack fetches up to levels frames of t when it is stopped and they
// are not cached yet.
func (s *Session) FetchStack(t *Thread, levels int, cb func(error)) {
	if t == nil || !t.Stopped() {
		cb(ErrNotStopped)
		return
	}
	if t.levels >= levels || t.complete {
		cb(nil)
		return
	}
	gen := s.generation
	args := godap.StackTraceArguments{ThreadId: t.ID, Levels: levels}
	s.request("stackTrace", args, func(body json.RawMessage, err error) {
		if gen != s.generation {
			cb(nil)
			return
		}
		if err != nil {
			cb(err)
			return
		}
		var resp godap.StackTraceResponseBody
		if err := dap.Unmarshal(body, &resp); err != nil {
			cb(fmt.Errorf("decode stackTrace: %w", err))
			return
		}
		old := t.Frames
		t.Frames = make([]*Frame, 0, len(resp.StackFrames))
		for i, sf := range resp.StackFrames {
			if sf.Source != nil && sf.Source.Path != "" {
				sf.Source.Path = s.Config.RemoteToLocal(sf.Source.Path)
			}
			if i < len(old) && old[i].Id == sf.Id {
				old[i].StackFrame = sf
				t.Frames = append(t.Frames, old[i])
				continue
			}
			t.Frames = append(t.Frames, &Frame{StackFrame: sf})
		}
		t.TotalFrames = resp.TotalFrames
		if t.TotalFrames < len(t.Frames) {
			t.TotalFrames = len(t.Frames)
		}
		t.levels = levels
		t.complete = len(t.Frames) < levels || (resp.TotalFrames > 0 && len(t.Frames) >= resp.TotalFrames)
		cb(nil)
	})
}

// selectFrame picks the current frame of the current thread: the one
// selected before if it has source, else the innermost frame with source,
// else the innermost frame.
func (s *Session) selectFrame() {
	t := s.CurrentThread()
	if t == nil || len(t.Frames) == 0 {
		return
	}
	if f := t.Frame(s.frameID); f != nil && f.HasSource() {
		return
	}
	for _, f := range t.Frames {
		if f.HasSource() {
			s.frameID = f.Id
			return
		}
	}
	s.frameID = t.Frames[0].Id
}

// FetchSummary fetches the top frame of every stopped thread and calls
// done when all have answered.
func (s *Session) FetchSummary(done func()) {
	pending := 1
	finish := func() {
		pending--
		if pending == 0 {
			done()
		}
	}
	for _, t := range s.threads {
		if !t.Stopped() || t.levels > 0 {
			continue
		}
		pending++
		s.FetchStack(t, 1, func(error) { finish() })
	}
	finish()
}

// SelectThread makes id the current thread and loads its current frame.
func (s *Session) SelectThread(id int, cb func(error)) {
	t := s.Thread(id)
	if t == nil {
		cb(fmt.Errorf("thread %d not found", id))
		return
	}
	s.threadID = id
	s.frameID = 0
	s.FetchStack(t, stackDepth, func(err error) {
		if err != nil {
			cb(err)
			return
		}
		s.selectFrame()
		s.loadFrame(cb)
	})
}

// SelectFrame makes the frame with id current and loads its variables.
func (s *Session) SelectFrame(id int, cb func(error)) {
	t := s.CurrentThread()
	if t == nil || t.Frame(id) == nil {
		cb(fmt.Errorf("frame %d not found", id))
		return
	}
	s.frameID = id
	s.loadFrame(cb)
}

// FrameUp selects the caller of the current frame.
func (s *Session) FrameUp(cb func(error)) {
	s.moveFrame(1, cb)
}

// FrameDown selects the callee of the current frame.
func (s *Session) FrameDown(cb func(error)) {
	s.moveFrame(-1, cb)
}

func (s *Session) moveFrame(delta int, cb func(error)) {
	t := s.CurrentThread()
	if t == nil {
		cb(ErrNotStopped)
		return
	}
	for i, f := range t.Frames {
		if f.Id != s.frameID {
			continue
		}
		j := i + delta
		if j < 0 {
			cb(fmt.Errorf("already at the innermost frame"))
			return
		}
		if j >= len(t.Frames) {
			cb(fmt.Errorf("already at the outermost frame"))
			return
		}
		s.SelectFrame(t.Frames[j].Id, cb)
		return
	}
	cb(ErrNoFrame)
}

// loadFrame fetches the current frame's scopes and expanded variables.
func (s *Session) loadFrame(cb func(error)) {
	f := s.CurrentFrame()
	if f == nil {
		cb(ErrNoFrame)
		return
	}
	s.FetchScopes(f, func(err error) {
		if err != nil {
			cb(err)
			return
		}
		s.Walk(f, s.mgr.hooks.Expand, func() { cb(nil) })
	})
}
