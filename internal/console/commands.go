package console

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	godap "github.com/google/go-dap"

	"github.com/timcharper/dape/internal/config"
	"github.com/timcharper/dape/internal/integration/debug"
)

type cmdfunc func(c *Console, args string) error

type command struct {
	aliases []string
	helpMsg string
	cmdFn   cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands is the console's command table.
type Commands struct {
	cmds []command
}

var errNoCmd = errors.New("command not available")

// errNoSession is returned by commands that need a session when none is
// active.
var errNoSession = errors.New("no active session")

// DefaultCommands returns the built-in command table.
func DefaultCommands() *Commands {
	c := &Commands{}
	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: "Prints the help message."},
		{aliases: []string{"start"}, cmdFn: startCmd, helpMsg: `Starts a session from the launch catalog.

	start <name> [key=value ...]`},
		{aliases: []string{"configs"}, cmdFn: configsCmd, helpMsg: "Lists the configurations of the launch catalog."},
		{aliases: []string{"sessions"}, cmdFn: sessionsCmd, helpMsg: "Lists live sessions; the active one is marked."},
		{aliases: []string{"session"}, cmdFn: sessionCmd, helpMsg: `Makes a session active.

	session <index>`},
		{aliases: []string{"continue", "c"}, cmdFn: session(continueCmd), helpMsg: "Resumes the stopped threads."},
		{aliases: []string{"next", "n"}, cmdFn: session(stepCmd((*debug.Session).Next)), helpMsg: "Steps over to the next line."},
		{aliases: []string{"step", "s"}, cmdFn: session(stepCmd((*debug.Session).StepIn)), helpMsg: "Steps into the call on the current line."},
		{aliases: []string{"stepout", "so"}, cmdFn: session(stepCmd((*debug.Session).StepOut)), helpMsg: "Steps out of the current function."},
		{aliases: []string{"pause"}, cmdFn: session(pauseCmd), helpMsg: "Suspends the running debuggee."},
		{aliases: []string{"restart", "r"}, cmdFn: session(restartCmd), helpMsg: "Restarts the session."},
		{aliases: []string{"kill", "k"}, cmdFn: session(killCmd), helpMsg: "Ends the active session and its children."},
		{aliases: []string{"quit", "exit", "q"}, cmdFn: quitCmd, helpMsg: "Kills every session and exits."},
		{aliases: []string{"threads"}, cmdFn: session(threadsCmd), helpMsg: "Lists the debuggee's threads."},
		{aliases: []string{"thread", "tr"}, cmdFn: session(threadCmd), helpMsg: `Selects a thread.

	thread <id>`},
		{aliases: []string{"stack", "bt"}, cmdFn: session(stackCmd), helpMsg: "Prints the current thread's stack."},
		{aliases: []string{"frame"}, cmdFn: session(frameCmd), helpMsg: `Selects a frame of the current thread.

	frame <id>`},
		{aliases: []string{"up"}, cmdFn: session(frameMove((*debug.Session).FrameUp)), helpMsg: "Selects the caller of the current frame."},
		{aliases: []string{"down"}, cmdFn: session(frameMove((*debug.Session).FrameDown)), helpMsg: "Selects the callee of the current frame."},
		{aliases: []string{"locals", "vars"}, cmdFn: session(localsCmd), helpMsg: `Prints the current frame's variables.

	locals [depth]`},
		{aliases: []string{"expand"}, cmdFn: session(expandCmd), helpMsg: `Expands a variable, given as its path from the scope.

	expand Locals req Header`},
		{aliases: []string{"collapse"}, cmdFn: session(collapseCmd), helpMsg: `Collapses a variable.

	collapse Locals req`},
		{aliases: []string{"set"}, cmdFn: session(setCmd), helpMsg: `Assigns a variable.

	set Locals x = 10`},
		{aliases: []string{"print", "p"}, cmdFn: session(printCmd), helpMsg: `Evaluates an expression in the current frame.

	print <expression>`},
		{aliases: []string{"watch"}, cmdFn: watchCmd, helpMsg: `Adds a watch expression, or lists watches without arguments.

	watch [expression]`},
		{aliases: []string{"unwatch"}, cmdFn: unwatchCmd, helpMsg: `Removes a watch expression by index.

	unwatch <index>`},
		{aliases: []string{"break", "b"}, cmdFn: breakCmd, helpMsg: `Sets a breakpoint.

	break <file>:<line> [if <condition>]
	break <function>`},
		{aliases: []string{"logpoint"}, cmdFn: logpointCmd, helpMsg: `Sets a log point.

	logpoint <file>:<line> <message>`},
		{aliases: []string{"toggle"}, cmdFn: toggleCmd, helpMsg: `Toggles the breakpoint at a location.

	toggle <file>:<line>`},
		{aliases: []string{"clear"}, cmdFn: clearCmd, helpMsg: `Deletes a breakpoint.

	clear <id>`},
		{aliases: []string{"clearall"}, cmdFn: clearAllCmd, helpMsg: "Deletes every breakpoint."},
		{aliases: []string{"enable"}, cmdFn: enableCmd(true), helpMsg: "Enables a breakpoint by id."},
		{aliases: []string{"disable"}, cmdFn: enableCmd(false), helpMsg: "Disables a breakpoint by id."},
		{aliases: []string{"condition", "cond"}, cmdFn: conditionCmd, helpMsg: `Sets or clears a breakpoint condition.

	condition <id> [expression]`},
		{aliases: []string{"breakpoints", "bp"}, cmdFn: breakpointsCmd, helpMsg: "Lists breakpoints."},
		{aliases: []string{"exceptions"}, cmdFn: exceptionsCmd, helpMsg: `Lists exception filters, or toggles the named one.

	exceptions [filter]`},
		{aliases: []string{"info"}, cmdFn: session(infoCmd), helpMsg: "Prints details of the current exception."},
		{aliases: []string{"examine", "x"}, cmdFn: session(examineCmd), helpMsg: `Reads debuggee memory.

	x <address> [count]`},
		{aliases: []string{"list", "ls"}, cmdFn: session(listCmd), helpMsg: "Prints source around the current line."},
		{aliases: []string{"modules"}, cmdFn: session(modulesCmd), helpMsg: "Lists loaded modules."},
		{aliases: []string{"sources"}, cmdFn: session(sourcesCmd), helpMsg: "Lists sources the adapter loaded."},
	}
	return c
}

// Find returns the function bound to cmdstr.
func (c *Commands) Find(cmdstr string) cmdfunc {
	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}
	return func(*Console, string) error {
		return fmt.Errorf("%w: %s", errNoCmd, cmdstr)
	}
}

// Call runs a command line.
func (c *Commands) Call(con *Console, cmdstr string) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(con, args)
}

func (c *Commands) complete(line string) (out []string) {
	for _, cmd := range c.cmds {
		for _, alias := range cmd.aliases {
			if strings.HasPrefix(alias, strings.ToLower(line)) {
				out = append(out, alias)
			}
		}
	}
	return out
}

func (c *Commands) help(con *Console, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			if cmd.match(args) {
				con.p.line(cmd.helpMsg)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", errNoCmd, args)
	}
	for _, cmd := range c.cmds {
		h := cmd.helpMsg
		if idx := strings.Index(h, "\n"); idx >= 0 {
			h = h[:idx]
		}
		name := cmd.aliases[0]
		if len(cmd.aliases) > 1 {
			name += " (alias: " + strings.Join(cmd.aliases[1:], " | ") + ")"
		}
		con.p.printf("    %-30s %s", name, h)
	}
	return nil
}

// session wraps fn so it runs only when a session is active.
func session(fn func(c *Console, s *debug.Session, args string) error) cmdfunc {
	return func(c *Console, args string) error {
		s := c.mgr.Active()
		if s == nil {
			return errNoSession
		}
		return fn(c, s, args)
	}
}

// report returns a completion callback printing err.
func (c *Console) report(what string) func(error) {
	return func(err error) {
		if err != nil {
			c.p.errorf("%s: %v", what, err)
		}
	}
}

func startCmd(c *Console, args string) error {
	fields, err := config.SplitCommand(args)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return errors.New("start needs a configuration name")
	}
	cat := c.currentCatalog()
	if cat == nil {
		return errors.New("no launch catalog loaded")
	}
	cfg, ok := cat.Get(fields[0])
	if !ok {
		return fmt.Errorf("no configuration named %q", fields[0])
	}
	for _, kv := range fields[1:] {
		key, value, err := config.ParseOverride(kv)
		if err != nil {
			return err
		}
		cfg[key] = value
	}
	c.start(cfg)
	return nil
}

func configsCmd(c *Console, _ string) error {
	cat := c.currentCatalog()
	if cat == nil {
		return errors.New("no launch catalog loaded")
	}
	for _, name := range cat.Names() {
		cfg, _ := cat.Get(name)
		c.p.printf("%-24s %s %s", name, cfg.Type(), cfg.Request())
	}
	return nil
}

func sessionsCmd(c *Console, _ string) error {
	active := c.mgr.Active()
	for i, s := range c.mgr.Sessions() {
		marker := " "
		if s == active {
			marker = "*"
		}
		indent := ""
		for p := s.Parent(); p != nil; p = p.Parent() {
			indent += "  "
		}
		c.p.printf("%s %2d %s%s %s [%s]", marker, i, indent, shortID(s.ID), s.Config.Type(), s.State())
	}
	return nil
}

func sessionCmd(c *Console, args string) error {
	n, err := strconv.Atoi(args)
	if err != nil {
		return fmt.Errorf("session index %q: %w", args, err)
	}
	all := c.mgr.Sessions()
	if n < 0 || n >= len(all) {
		return fmt.Errorf("no session %d", n)
	}
	c.mgr.SetActive(all[n])
	return nil
}

func continueCmd(c *Console, s *debug.Session, _ string) error {
	s.Continue(c.report("continue"))
	return nil
}

func stepCmd(step func(*debug.Session, func(error))) func(*Console, *debug.Session, string) error {
	return func(c *Console, s *debug.Session, _ string) error {
		step(s, c.report("step"))
		return nil
	}
}

func pauseCmd(c *Console, s *debug.Session, _ string) error {
	s.Pause(c.report("pause"))
	return nil
}

func restartCmd(c *Console, s *debug.Session, _ string) error {
	s.Restart(func(ns *debug.Session, err error) {
		if err != nil {
			c.p.errorf("restart: %v", err)
			return
		}
		c.p.infof("restarted %s", shortID(ns.ID))
	})
	return nil
}

func killCmd(c *Console, s *debug.Session, _ string) error {
	s.Kill(nil)
	return nil
}

func quitCmd(c *Console, _ string) error {
	c.Quit()
	return nil
}

func threadsCmd(c *Console, s *debug.Session, _ string) error {
	s.FetchThreads(func(err error) {
		if err != nil {
			c.p.errorf("threads: %v", err)
			return
		}
		current := s.CurrentThread()
		for _, t := range s.Threads() {
			marker := "  "
			if t == current {
				marker = "=>"
			}
			loc := ""
			if len(t.Frames) > 0 {
				loc = " at " + t.Frames[0].FormatLocation()
			}
			c.p.printf("%s %4d %s [%s]%s", marker, t.ID, t.Name, t.Status, loc)
		}
	})
	return nil
}

func threadCmd(c *Console, s *debug.Session, args string) error {
	id, err := strconv.Atoi(args)
	if err != nil {
		return fmt.Errorf("thread id %q: %w", args, err)
	}
	s.SelectThread(id, c.report("thread"))
	return nil
}

func stackCmd(c *Console, s *debug.Session, _ string) error {
	t := s.CurrentThread()
	if t == nil {
		return debug.ErrNotStopped
	}
	current := s.CurrentFrame()
	for _, f := range t.Frames {
		c.p.frame(f, f == current)
	}
	if t.TotalFrames > len(t.Frames) {
		c.p.printf("   (%d more frames)", t.TotalFrames-len(t.Frames))
	}
	return nil
}

func frameCmd(c *Console, s *debug.Session, args string) error {
	id, err := strconv.Atoi(args)
	if err != nil {
		return fmt.Errorf("frame id %q: %w", args, err)
	}
	s.SelectFrame(id, c.report("frame"))
	return nil
}

func frameMove(move func(*debug.Session, func(error))) func(*Console, *debug.Session, string) error {
	return func(c *Console, s *debug.Session, _ string) error {
		move(s, func(err error) {
			if err != nil {
				c.p.errorf("%v", err)
				return
			}
			if f := s.CurrentFrame(); f != nil {
				c.p.frame(f, true)
			}
		})
		return nil
	}
}

func localsCmd(c *Console, s *debug.Session, args string) error {
	f := s.CurrentFrame()
	if f == nil {
		return debug.ErrNoFrame
	}
	expand := debug.ExpandMarked
	if args != "" {
		depth, err := strconv.Atoi(args)
		if err != nil {
			return fmt.Errorf("depth %q: %w", args, err)
		}
		expand = debug.ExpandAll(depth)
	}
	s.Walk(f, expand, func() {
		if f.Vars == nil {
			c.p.errorf("no variables")
			return
		}
		c.p.tree(f.Vars)
	})
	return nil
}

func splitPath(args string) ([]string, error) {
	path, err := config.SplitCommand(args)
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return nil, errors.New("expected a variable path")
	}
	return path, nil
}

func expandCmd(c *Console, s *debug.Session, args string) error {
	path, err := splitPath(args)
	if err != nil {
		return err
	}
	s.Expand(path, func(err error) {
		if err != nil {
			c.p.errorf("expand: %v", err)
			return
		}
		if f := s.CurrentFrame(); f != nil && f.Vars != nil {
			c.p.tree(f.Vars)
		}
	})
	return nil
}

func collapseCmd(c *Console, s *debug.Session, args string) error {
	path, err := splitPath(args)
	if err != nil {
		return err
	}
	s.Collapse(path)
	return nil
}

func setCmd(c *Console, s *debug.Session, args string) error {
	lhs, value, ok := strings.Cut(args, "=")
	if !ok {
		return errors.New("expected <path> = <value>")
	}
	path, err := splitPath(lhs)
	if err != nil {
		return err
	}
	s.SetVariable(path, strings.TrimSpace(value), c.report("set"))
	return nil
}

func printCmd(c *Console, s *debug.Session, args string) error {
	if args == "" {
		return errors.New("expected an expression")
	}
	s.Evaluate(args, debug.EvalRepl, func(r debug.EvalResult, err error) {
		if err != nil {
			c.p.errorf("%v", err)
			return
		}
		c.p.line(r.Result)
	})
	return nil
}

func watchCmd(c *Console, args string) error {
	if args != "" {
		c.store.AddWatch(args)
		return nil
	}
	for i, expr := range c.store.Watches() {
		c.p.printf("%2d %s", i, expr)
	}
	return nil
}

func unwatchCmd(c *Console, args string) error {
	i, err := strconv.Atoi(args)
	if err != nil {
		return fmt.Errorf("watch index %q: %w", args, err)
	}
	return c.store.RemoveWatch(i)
}

// ParseLocation splits file:line.
func ParseLocation(s string) (string, int, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 {
		return "", 0, fmt.Errorf("location %q: expected file:line", s)
	}
	line, err := strconv.Atoi(s[i+1:])
	if err != nil || line < 1 {
		return "", 0, fmt.Errorf("location %q: bad line number", s)
	}
	return s[:i], line, nil
}

// AddBreakpoint parses a break argument: file:line, optionally followed by
// "if <condition>", or a function name.
func AddBreakpoint(store *debug.Store, spec string) (debug.Breakpoint, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return debug.Breakpoint{}, errors.New("expected a location")
	}
	loc, cond, _ := strings.Cut(spec, " ")
	cond = strings.TrimSpace(cond)
	if rest, ok := strings.CutPrefix(cond, "if "); ok {
		cond = strings.TrimSpace(rest)
	}
	if !strings.Contains(loc, ":") {
		return store.AddFunctionBreakpoint(loc, cond), nil
	}
	path, line, err := ParseLocation(loc)
	if err != nil {
		return debug.Breakpoint{}, err
	}
	if cond != "" {
		return store.AddConditionalBreakpoint(path, line, cond), nil
	}
	return store.AddLineBreakpoint(path, line), nil
}

func breakCmd(c *Console, args string) error {
	bp, err := AddBreakpoint(c.store, args)
	if err != nil {
		return err
	}
	c.p.breakpoint(bp)
	return nil
}

func logpointCmd(c *Console, args string) error {
	loc, msg, ok := strings.Cut(strings.TrimSpace(args), " ")
	if !ok || strings.TrimSpace(msg) == "" {
		return errors.New("expected <file>:<line> <message>")
	}
	path, line, err := ParseLocation(loc)
	if err != nil {
		return err
	}
	c.p.breakpoint(c.store.AddLogPoint(path, line, strings.TrimSpace(msg)))
	return nil
}

func toggleCmd(c *Console, args string) error {
	path, line, err := ParseLocation(args)
	if err != nil {
		return err
	}
	bp, added := c.store.ToggleBreakpoint(path, line)
	if added {
		c.p.breakpoint(bp)
	} else {
		c.p.printf("removed breakpoint %d", bp.ID)
	}
	return nil
}

func parseID(args string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		return 0, fmt.Errorf("breakpoint id %q: %w", args, err)
	}
	return id, nil
}

func clearCmd(c *Console, args string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	return c.store.RemoveBreakpoint(id)
}

func clearAllCmd(c *Console, _ string) error {
	c.store.ClearAll()
	return nil
}

func enableCmd(enabled bool) cmdfunc {
	return func(c *Console, args string) error {
		id, err := parseID(args)
		if err != nil {
			return err
		}
		return c.store.SetEnabled(id, enabled)
	}
}

func conditionCmd(c *Console, args string) error {
	idstr, cond, _ := strings.Cut(strings.TrimSpace(args), " ")
	id, err := parseID(idstr)
	if err != nil {
		return err
	}
	return c.store.SetCondition(id, strings.TrimSpace(cond))
}

func breakpointsCmd(c *Console, _ string) error {
	for _, bp := range c.store.Breakpoints() {
		c.p.breakpoint(bp)
	}
	return nil
}

func exceptionsCmd(c *Console, args string) error {
	if args != "" {
		enabled := c.store.ToggleExceptionFilter(args)
		c.p.printf("%s: %v", args, enabled)
		return nil
	}
	for _, f := range c.store.ExceptionFilters() {
		mark := "[ ]"
		if f.Enabled {
			mark = "[x]"
		}
		c.p.printf("%s %-16s %s", mark, f.Filter, f.Label)
	}
	return nil
}

func infoCmd(c *Console, s *debug.Session, _ string) error {
	s.ExceptionInfo(func(info godap.ExceptionInfoResponseBody, err error) {
		if err != nil {
			c.p.errorf("exception info: %v", err)
			return
		}
		c.p.printf("%s: %s (%s)", info.ExceptionId, info.Description, info.BreakMode)
		if info.Details != nil && info.Details.StackTrace != "" {
			c.p.line(info.Details.StackTrace)
		}
	})
	return nil
}

func examineCmd(c *Console, s *debug.Session, args string) error {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return errors.New("expected an address")
	}
	addr, err := debug.ParseAddress(fields[0])
	if err != nil {
		return err
	}
	count := 64
	if len(fields) > 1 {
		if count, err = strconv.Atoi(fields[1]); err != nil {
			return fmt.Errorf("count %q: %w", fields[1], err)
		}
	}
	s.ReadMemory(addr, count, func(m debug.Memory, err error) {
		if err != nil {
			c.p.errorf("examine: %v", err)
			return
		}
		c.p.hexdump(m)
	})
	return nil
}

func listCmd(c *Console, s *debug.Session, _ string) error {
	f := s.CurrentFrame()
	if f == nil {
		return debug.ErrNoFrame
	}
	if !f.HasSource() {
		return fmt.Errorf("%s has no source", f.Name)
	}
	s.FetchSource(*f.Source, func(text string, err error) {
		if err != nil {
			c.p.errorf("list: %v", err)
			return
		}
		c.p.source(text, f.Line, 5)
	})
	return nil
}

func modulesCmd(c *Console, s *debug.Session, _ string) error {
	s.FetchModules(func(mods []godap.Module, err error) {
		if err != nil {
			c.p.errorf("modules: %v", err)
			return
		}
		for _, m := range mods {
			c.p.printf("%v %s %s", m.Id, m.Name, m.Path)
		}
	})
	return nil
}

func sourcesCmd(c *Console, s *debug.Session, _ string) error {
	s.FetchLoadedSources(func(srcs []godap.Source, err error) {
		if err != nil {
			c.p.errorf("sources: %v", err)
			return
		}
		for _, src := range srcs {
			name := src.Path
			if name == "" {
				name = fmt.Sprintf("%s (ref %d)", src.Name, src.SourceReference)
			}
			c.p.line(name)
		}
	})
	return nil
}
