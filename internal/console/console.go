// Package console is a line-oriented front end for debug sessions.
//
// Commands are read from an io.Reader, edited with liner when it is a
// terminal, and run on the session loop; every
// hook the Manager calls prints through the same writer, so output is
// serialized without further locking.
package console

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/timcharper/dape/internal/config"
	"github.com/timcharper/dape/internal/integration/debug"
	"github.com/timcharper/dape/internal/integration/debug/dap"
	"github.com/timcharper/dape/internal/logflags"
)

// Options configures a Console.
type Options struct {
	// Out receives everything the console prints.
	Out io.Writer

	// Color enables ANSI colors.
	Color bool

	// Catalog is the initial launch catalog. It may be nil.
	Catalog *config.Catalog

	// VarDepth is how deep locals are expanded after each stop.
	VarDepth int
}

// Console drives a Manager from text commands.
type Console struct {
	loop  *dap.Loop
	store *debug.Store
	mgr   *debug.Manager
	cmds  *Commands
	p     *printer

	varDepth int

	mu      sync.Mutex
	catalog *config.Catalog

	done     chan struct{}
	doneOnce sync.Once

	log *logrus.Entry
}

// New creates a console and the Manager it drives. The console installs
// its own hooks over any passed in opts.
func New(loop *dap.Loop, store *debug.Store, o Options, opts ...debug.ManagerOption) *Console {
	if o.Out == nil {
		o.Out = io.Discard
	}
	if o.VarDepth <= 0 {
		o.VarDepth = 1
	}
	c := &Console{
		loop:     loop,
		store:    store,
		cmds:     DefaultCommands(),
		p:        newPrinter(o.Out, o.Color),
		varDepth: o.VarDepth,
		catalog:  o.Catalog,
		done:     make(chan struct{}),
		log:      logflags.SessionLogger().WithField("layer", "console"),
	}
	opts = append(opts, debug.WithHooks(c.hooks()))
	loop.Call(func() {
		c.mgr = debug.NewManager(loop, store, opts...)
	})
	return c
}

// Manager returns the manager the console drives. Its methods must be
// called on the loop.
func (c *Console) Manager() *debug.Manager {
	return c.mgr
}

// SetCatalog replaces the launch catalog used by the start command.
func (c *Console) SetCatalog(cat *config.Catalog) {
	c.mu.Lock()
	c.catalog = cat
	c.mu.Unlock()
}

func (c *Console) currentCatalog() *config.Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.catalog
}

// Start starts a session for cfg and reports the outcome.
func (c *Console) Start(cfg config.Config) {
	c.loop.Do(func() { c.start(cfg) })
}

func (c *Console) start(cfg config.Config) {
	c.mgr.Start(cfg, func(s *debug.Session, err error) {
		if err != nil {
			c.p.errorf("start %s: %v", cfg.Type(), err)
			return
		}
		c.p.infof("%s session %s %s", cfg.Type(), shortID(s.ID), s.State())
	})
}

// Exec runs one command line on the loop and waits for it to be issued.
// Commands that wait on the adapter report their result later.
func (c *Console) Exec(line string) {
	c.loop.Call(func() { c.exec(line) })
}

func (c *Console) exec(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	if err := c.cmds.Call(c, line); err != nil {
		c.p.errorf("%v", err)
	}
}

// Run reads commands from in until it is exhausted or quit is issued, then
// kills every session.
func (c *Console) Run(in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	r := newLineReader(in, c.cmds, c.Interrupt)
	defer r.Close()
	go func() {
		for {
			line, err := r.ReadLine()
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				readErr <- err
				close(lines)
				return
			}
			select {
			case lines <- line:
			case <-c.done:
				return
			}
		}
	}()

	var err error
loop:
	for {
		select {
		case <-c.done:
			break loop
		default:
		}
		select {
		case line, ok := <-lines:
			if !ok {
				err = <-readErr
				break loop
			}
			c.Exec(line)
		case <-c.done:
			break loop
		}
	}
	c.shutdown()
	return err
}

// Interrupt pauses the active session, or reports that nothing runs.
func (c *Console) Interrupt() {
	c.loop.Do(func() {
		s := c.mgr.Active()
		if s == nil {
			c.p.infof("no session; type quit to exit")
			return
		}
		s.Pause(func(err error) {
			if err != nil {
				c.p.errorf("pause: %v", err)
			}
		})
	})
}

// Quit ends Run.
func (c *Console) Quit() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Done is closed once quit was requested.
func (c *Console) Done() <-chan struct{} {
	return c.done
}

func (c *Console) shutdown() {
	c.Quit()
	killed := make(chan struct{})
	if !c.loop.Do(func() { c.mgr.KillAll(func() { close(killed) }) }) {
		return
	}
	<-killed
	c.loop.Call(c.mgr.Close)
}

func (c *Console) hooks() debug.Hooks {
	return debug.Hooks{
		OnStopped: func(s *debug.Session) {
			c.printStop(s)
		},
		OnContinued: func(s *debug.Session) {
			c.log.Debugf("session %s continued", shortID(s.ID))
		},
		OnOutput: func(_ *debug.Session, category, output string) {
			c.p.output(category, output)
		},
		OnMessage: func(_ *debug.Session, severity debug.Severity, msg string) {
			c.p.message(severity, msg)
		},
		OnExited: func(s *debug.Session, code int, success bool) {
			c.log.Debugf("session %s exited with %d (success %v)", shortID(s.ID), code, success)
		},
		OnSessionEnded: func(s *debug.Session) {
			c.p.infof("session %s ended", shortID(s.ID))
		},
		OnBreakpointsChanged: func(path string) {
			c.log.Debugf("breakpoints changed in %s", path)
		},
		OnProgress: func(_ *debug.Session, p debug.Progress) {
			c.p.progress(p)
		},
		Expand: debug.ExpandAll(c.varDepth),
	}
}

func (c *Console) printStop(s *debug.Session) {
	reason := s.StopReason()
	if exc := s.Exception(); exc != "" {
		reason = fmt.Sprintf("%s: %s", reason, exc)
	}
	t := s.CurrentThread()
	f := s.CurrentFrame()
	switch {
	case t == nil:
		c.p.infof("stopped (%s)", reason)
	case f == nil:
		c.p.infof("thread %d stopped (%s)", t.ID, reason)
	default:
		c.p.infof("thread %d stopped at %s in %s (%s)", t.ID, f.FormatLocation(), f.Name, reason)
	}
	for _, w := range s.Watches() {
		c.p.watch(w)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
