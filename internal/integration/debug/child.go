package debug

import (
	"fmt"

	godap "github.com/google/go-dap"

	"github.com/timcharper/dape/internal/config"
	"github.com/timcharper/dape/internal/integration/debug/dap"
	"github.com/timcharper/dape/internal/integration/process"
)

type startDebuggingArguments struct {
	Configuration map[string]any `json:"configuration"`
	Request       string         `json:"request"`
}

// childConfig builds the configuration of a session the adapter asks for:
// the parent's meta keys without the command, so the child connects to the
// same adapter, plus the requested configuration as keywords.
func childConfig(parent config.Config, args startDebuggingArguments) config.Config {
	cfg := parent.Meta(config.KeyCommand)
	for k, v := range args.Configuration {
		cfg[config.Keyword(k)] = v
	}
	cfg[config.KeyRequest] = args.Request
	return cfg
}

func (s *Session) onStartDebugging(req *dap.Envelope) {
	var args startDebuggingArguments
	if err := dap.Unmarshal(req.Params, &args); err != nil {
		s.reply(req, nil, fmt.Errorf("decode startDebugging: %w", err))
		return
	}
	if args.Request == "" {
		args.Request = "launch"
	}
	cfg := childConfig(s.Config, args)
	if err := cfg.Validate(); err != nil {
		s.reply(req, nil, err)
		return
	}
	s.reply(req, struct{}{}, nil)

	child := s.mgr.newSession(cfg, s)
	if s.threadID == 0 {
		s.mgr.active = child.ID
	}
	child.connect(func(_ *Session, err error) {
		if err != nil {
			s.log.Debugf("child session: %v", err)
		}
	})
}

func (s *Session) onRunInTerminal(req *dap.Envelope) {
	var args godap.RunInTerminalRequestArguments
	if err := dap.Unmarshal(req.Params, &args); err != nil {
		s.reply(req, nil, fmt.Errorf("decode runInTerminal: %w", err))
		return
	}
	if len(args.Args) == 0 {
		s.reply(req, nil, fmt.Errorf("runInTerminal without args"))
		return
	}

	var env []string
	if len(args.Env) > 0 {
		overrides := make(map[string]*string, len(args.Env))
		for k, v := range args.Env {
			if v == nil {
				overrides[k] = nil
				continue
			}
			str := fmt.Sprint(v)
			overrides[k] = &str
		}
		env = process.Environ(overrides)
	}

	proc, err := s.mgr.supervisor.Spawn(process.Spec{
		Name:   "terminal",
		Path:   args.Args[0],
		Args:   args.Args[1:],
		Dir:    args.Cwd,
		Env:    env,
		Pty:    args.Kind == "integrated",
		Output: s.mgr.terminalOutput,
	})
	if err != nil {
		s.message(SeverityError, "runInTerminal %s: %v", args.Args[0], err)
		s.reply(req, nil, err)
		return
	}
	s.terminals = append(s.terminals, proc)
	s.log.Debugf("runInTerminal started %s (pid %d)", args.Args[0], proc.PID())
	s.reply(req, godap.RunInTerminalResponseBody{ProcessId: proc.PID()}, nil)
}

func (s *Session) reply(req *dap.Envelope, result any, err error) {
	if s.client == nil {
		return
	}
	if rerr := s.client.Reply(req, result, err); rerr != nil {
		s.log.Debugf("reply %s: %v", req.Method, rerr)
	}
}
