package debug

import (
	"encoding/json"
	"path/filepath"

	godap "github.com/google/go-dap"

	"github.com/timcharper/dape/internal/integration/debug/dap"
)

// setBreakpointsArguments always carries the breakpoints array, so an
// empty one clears the source.
type setBreakpointsArguments struct {
	Source      godap.Source             `json:"source"`
	Breakpoints []godap.SourceBreakpoint `json:"breakpoints"`
	Lines       []int                    `json:"lines"`
}

// syncSource replaces the adapter's breakpoints for path with the store's.
// done may be nil and runs whatever the outcome.
func (s *Session) syncSource(path string, done func()) {
	finish := func() {
		if done != nil {
			done()
		}
	}
	ids, bps := s.mgr.store.sourcePayload(path)
	lines := make([]int, len(bps))
	for i, bp := range bps {
		lines[i] = bp.Line
	}
	args := setBreakpointsArguments{
		Source: godap.Source{
			Name: filepath.Base(path),
			Path: s.Config.LocalToRemote(path),
		},
		Breakpoints: bps,
		Lines:       lines,
	}
	s.request("setBreakpoints", args, func(body json.RawMessage, err error) {
		if err != nil {
			s.log.Warnf("setBreakpoints %s: %v", path, err)
			finish()
			return
		}
		var resp godap.SetBreakpointsResponseBody
		if err := dap.Unmarshal(body, &resp); err != nil {
			s.log.Warnf("decode setBreakpoints response: %v", err)
			finish()
			return
		}
		if len(resp.Breakpoints) != len(ids) {
			s.log.Debugf("setBreakpoints %s: sent %d, adapter answered %d", path, len(ids), len(resp.Breakpoints))
		}
		s.mgr.store.acknowledge(s.ID, ids, resp.Breakpoints, s.Config.RemoteToLocal)
		finish()
	})
}

// syncFunctions sends the function breakpoints.
func (s *Session) syncFunctions(done func()) {
	finish := func() {
		if done != nil {
			done()
		}
	}
	if !s.caps.SupportsFunctionBreakpoints {
		finish()
		return
	}
	ids, bps := s.mgr.store.functionPayload()
	s.request("setFunctionBreakpoints", godap.SetFunctionBreakpointsArguments{Breakpoints: bps}, func(body json.RawMessage, err error) {
		if err != nil {
			s.log.Warnf("setFunctionBreakpoints: %v", err)
			finish()
			return
		}
		var resp godap.SetFunctionBreakpointsResponseBody
		if err := dap.Unmarshal(body, &resp); err != nil {
			s.log.Warnf("decode setFunctionBreakpoints response: %v", err)
			finish()
			return
		}
		s.mgr.store.acknowledge(s.ID, ids, resp.Breakpoints, nil)
		finish()
	})
}

// syncExceptions reconciles the adapter's exception filters with the
// user's choices and sends the enabled ones.
func (s *Session) syncExceptions(done func()) {
	finish := func() {
		if done != nil {
			done()
		}
	}
	filters := s.mgr.store.ReconcileExceptionFilters(s.caps.ExceptionBreakpointFilters)
	args := godap.SetExceptionBreakpointsArguments{Filters: enabledFilters(filters)}
	s.request("setExceptionBreakpoints", args, func(_ json.RawMessage, err error) {
		if err != nil {
			s.log.Warnf("setExceptionBreakpoints: %v", err)
		}
		finish()
	})
}

// onBreakpoint applies a breakpoint event. Breakpoints the session never
// acknowledged are ignored.
func (s *Session) onBreakpoint(body json.RawMessage) {
	var ev godap.BreakpointEventBody
	if err := dap.Unmarshal(body, &ev); err != nil {
		s.log.Warnf("decode breakpoint event: %v", err)
		return
	}
	if ev.Reason == "removed" {
		return
	}
	if !s.mgr.store.updateFromEvent(s.ID, ev.Breakpoint, s.Config.RemoteToLocal) {
		s.log.Debugf("breakpoint event for unknown id %d", ev.Breakpoint.Id)
	}
}
