package debug

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/timcharper/dape/internal/config"
	"github.com/timcharper/dape/internal/integration/debug/dap"
	"github.com/timcharper/dape/internal/integration/process"
)

// Endpoint is a connected adapter and the processes behind it.
type Endpoint struct {
	Transport dap.Transport

	// Adapter is the adapter process when it talks over stdio.
	Adapter *process.Process

	// Server is the process started before dialing a socket adapter.
	Server *process.Process
}

// stderr returns the captured output tails for diagnostics.
func (e *Endpoint) stderr() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range []*process.Process{e.Adapter, e.Server} {
		if p == nil {
			continue
		}
		if tail := strings.TrimSpace(p.Tail()); tail != "" {
			fmt.Fprintf(&b, "%s output:\n%s\n", p.Name, tail)
		}
	}
	return b.String()
}

// Launcher connects sessions to adapters. Launch runs off the loop and may
// block.
type Launcher interface {
	Launch(ctx context.Context, cfg config.Config) (*Endpoint, error)

	// Release stops whatever Launch started. The transport is already
	// closed.
	Release(ep *Endpoint)
}

// ProcessLauncher starts adapters as local processes. A configuration with
// a port is reached over TCP, after starting its command as a server if it
// has one. Otherwise the command is the adapter and speaks on its stdio.
type ProcessLauncher struct {
	Supervisor *process.Supervisor
	Dial       dap.DialOptions

	// Output receives server output and adapter stderr. It may be nil.
	Output io.Writer

	// Grace is how long processes get to exit before they are killed.
	Grace time.Duration
}

// NewProcessLauncher creates a launcher with default dial retries.
func NewProcessLauncher(sup *process.Supervisor) *ProcessLauncher {
	return &ProcessLauncher{
		Supervisor: sup,
		Dial:       dap.DefaultDialOptions,
		Grace:      2 * time.Second,
	}
}

// Launch implements Launcher.
func (l *ProcessLauncher) Launch(ctx context.Context, cfg config.Config) (*Endpoint, error) {
	command, args, err := cfg.Command()
	if err != nil {
		return nil, err
	}
	var env []string
	if overrides := cfg.Env(); overrides != nil {
		env = process.Environ(overrides)
	}

	if addr, ok := cfg.Address(); ok {
		ep := &Endpoint{}
		if command != "" {
			srv, err := l.Supervisor.Spawn(process.Spec{
				Name:   "server",
				Path:   command,
				Args:   args,
				Dir:    cfg.Cwd(),
				Env:    env,
				Output: l.Output,
			})
			if err != nil {
				return nil, fmt.Errorf("start server: %w", err)
			}
			ep.Server = srv
		}
		t, err := dap.Dial(ctx, addr, l.Dial)
		if err != nil {
			if ep.Server != nil {
				err = fmt.Errorf("%w\n%s", err, ep.stderr())
			}
			l.Release(ep)
			return nil, err
		}
		ep.Transport = t
		return ep, nil
	}

	if command == "" {
		return nil, config.ErrNoAdapter
	}
	proc, err := l.Supervisor.Spawn(process.Spec{
		Name:   "adapter",
		Path:   command,
		Args:   args,
		Dir:    cfg.Cwd(),
		Env:    env,
		Stdio:  true,
		Output: l.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("start adapter: %w", err)
	}
	return &Endpoint{
		Transport: dap.NewStreamTransport(proc.Stdout, proc.Stdin, proc.Stdin),
		Adapter:   proc,
	}, nil
}

// Release implements Launcher.
func (l *ProcessLauncher) Release(ep *Endpoint) {
	if ep == nil {
		return
	}
	l.Supervisor.Stop(ep.Adapter, l.Grace)
	l.Supervisor.Stop(ep.Server, l.Grace)
}
