package debug

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	godap "github.com/google/go-dap"

	"github.com/timcharper/dape/internal/integration/debug/dap"
)

// EvalContext tells the adapter where an expression comes from.
type EvalContext string

const (
	EvalWatch     EvalContext = "watch"
	EvalRepl      EvalContext = "repl"
	EvalHover     EvalContext = "hover"
	EvalClipboard EvalContext = "clipboard"
)

// EvalResult is the outcome of Evaluate.
type EvalResult struct {
	Result          string
	Type            string
	Ref             int
	Named           int
	Indexed         int
	MemoryReference string
}

// Evaluate evaluates expression in the selected frame, or globally when no
// frame is selected.
func (s *Session) Evaluate(expression string, context EvalContext, cb func(EvalResult, error)) {
	args := godap.EvaluateArguments{
		Expression: expression,
		FrameId:    s.frameID,
		Context:    string(context),
	}
	s.request("evaluate", args, func(body json.RawMessage, err error) {
		if err != nil {
			cb(EvalResult{}, err)
			return
		}
		var resp godap.EvaluateResponseBody
		if err := dap.Unmarshal(body, &resp); err != nil {
			cb(EvalResult{}, fmt.Errorf("decode evaluate: %w", err))
			return
		}
		cb(EvalResult{
			Result:          resp.Result,
			Type:            resp.Type,
			Ref:             resp.VariablesReference,
			Named:           resp.NamedVariables,
			Indexed:         resp.IndexedVariables,
			MemoryReference: resp.MemoryReference,
		}, nil)
	})
}

// stepArguments carries the granularity field go-dap's argument types lack.
type stepArguments struct {
	ThreadID    int    `json:"threadId"`
	Granularity string `json:"granularity,omitempty"`
}

func (s *Session) step(command string, cb func(error)) {
	if s.threadID == 0 || s.state != StateStopped {
		cb(ErrNotStopped)
		return
	}
	args := stepArguments{ThreadID: s.threadID}
	if s.Supports("supportsSteppingGranularity") {
		args.Granularity = s.mgr.granularity
	}
	id := s.threadID
	s.request(command, args, func(_ json.RawMessage, err error) {
		if err != nil {
			cb(err)
			return
		}
		if t := s.Thread(id); t != nil && t.Stopped() {
			s.markRunning(id, s.allStopped)
		}
		cb(nil)
	})
}

// Next steps over the current line of the selected thread.
func (s *Session) Next(cb func(error)) {
	s.step("next", cb)
}

// StepIn steps into the call on the current line.
func (s *Session) StepIn(cb func(error)) {
	s.step("stepIn", cb)
}

// StepOut runs until the current function returns.
func (s *Session) StepOut(cb func(error)) {
	s.step("stepOut", cb)
}

// Continue resumes the selected thread, or every thread when the adapter
// says so.
func (s *Session) Continue(cb func(error)) {
	if s.threadID == 0 || s.state != StateStopped {
		cb(ErrNotStopped)
		return
	}
	id := s.threadID
	s.request("continue", godap.ContinueArguments{ThreadId: id}, func(body json.RawMessage, err error) {
		if err != nil {
			cb(err)
			return
		}
		// A missing body means all threads continued.
		resp := godap.ContinueResponseBody{AllThreadsContinued: true}
		if err := dap.Unmarshal(body, &resp); err != nil {
			s.log.Debugf("decode continue: %v", err)
		}
		if t := s.Thread(id); t != nil && t.Stopped() {
			s.markRunning(id, resp.AllThreadsContinued)
		}
		cb(nil)
	})
}

// Pause interrupts the selected thread, or the first known one.
func (s *Session) Pause(cb func(error)) {
	if s.state == StateStopped {
		cb(fmt.Errorf("already stopped"))
		return
	}
	id := s.threadID
	if id == 0 && len(s.threads) > 0 {
		id = s.threads[0].ID
	}
	s.request("pause", godap.PauseArguments{ThreadId: id}, func(_ json.RawMessage, err error) {
		cb(err)
	})
}

// Restart restarts the debuggee. Adapters supporting restart do it in
// place; otherwise the root session is killed and its configuration
// started again. cb receives the session now in charge.
func (s *Session) Restart(cb func(*Session, error)) {
	if s.caps.SupportsRestartRequest && s.live() {
		s.restarting = true
		args := map[string]any{"arguments": s.Config.Arguments()}
		s.request("restart", args, func(_ json.RawMessage, err error) {
			s.restarting = false
			if err != nil {
				cb(nil, err)
				return
			}
			s.clearFrames()
			s.threads = nil
			s.threadID = 0
			s.frameID = 0
			s.exitCode = nil
			s.mgr.store.ResetHitCounts()
			cb(s, nil)
		})
		return
	}

	root := s.root()
	cfg := root.origin
	if cfg == nil {
		cfg = root.Config
	}
	cfg = cfg.Clone()
	root.restarting = true
	root.Kill(func() {
		s.mgr.Start(cfg, cb)
	})
}

// ExceptionInfo fetches details of the exception the selected thread
// stopped on.
func (s *Session) ExceptionInfo(cb func(godap.ExceptionInfoResponseBody, error)) {
	if !s.caps.SupportsExceptionInfoRequest {
		cb(godap.ExceptionInfoResponseBody{}, ErrUnsupported)
		return
	}
	s.request("exceptionInfo", godap.ExceptionInfoArguments{ThreadId: s.threadID}, func(body json.RawMessage, err error) {
		var resp godap.ExceptionInfoResponseBody
		if err == nil {
			err = dap.Unmarshal(body, &resp)
		}
		cb(resp, err)
	})
}

// Memory is a block read from the debuggee.
type Memory struct {
	Address string
	Data    []byte

	// Unreadable counts bytes after Data that could not be read.
	Unreadable int
}

// ParseAddress accepts a memory reference written in hex with a 0x prefix
// or in decimal and returns its canonical hex form.
func ParseAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return "", fmt.Errorf("invalid address %q", s)
	}
	return fmt.Sprintf("0x%x", n), nil
}

// ReadMemory reads count bytes at address.
func (s *Session) ReadMemory(address string, count int, cb func(Memory, error)) {
	if !s.caps.SupportsReadMemoryRequest {
		cb(Memory{}, ErrUnsupported)
		return
	}
	ref, err := ParseAddress(address)
	if err != nil {
		cb(Memory{}, err)
		return
	}
	args := godap.ReadMemoryArguments{MemoryReference: ref, Count: count}
	s.request("readMemory", args, func(body json.RawMessage, err error) {
		if err != nil {
			cb(Memory{}, err)
			return
		}
		var resp godap.ReadMemoryResponseBody
		if err := dap.Unmarshal(body, &resp); err != nil {
			cb(Memory{}, fmt.Errorf("decode readMemory: %w", err))
			return
		}
		data, err := base64.StdEncoding.DecodeString(resp.Data)
		if err != nil {
			cb(Memory{}, fmt.Errorf("decode memory data: %w", err))
			return
		}
		cb(Memory{Address: resp.Address, Data: data, Unreadable: resp.UnreadableBytes}, nil)
	})
}
