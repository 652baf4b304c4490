package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/timcharper/dape/internal/logflags"
)

// Spec describes a process to spawn.
type Spec struct {
	// Name is the role of the process, used in logs and diagnostics.
	Name string

	// Path is the executable; it is resolved against PATH.
	Path string
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env is the complete environment. Nil inherits the current one.
	Env []string

	// Stdio hands the process's stdin and stdout to the caller.
	Stdio bool

	// Pty runs the process attached to a new pseudo-terminal.
	Pty bool

	// Output receives whatever the process writes that the caller does not
	// consume through Stdout. It may be nil.
	Output io.Writer
}

// Supervisor manages child processes with lifecycle tracking and cleanup.
// It is safe for concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process

	closed atomic.Bool
	log    *logrus.Entry
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		processes: make(map[string]*Process),
		log:       logflags.ProcessLogger(),
	}
}

// Spawn starts the process described by spec and tracks it until exit.
//
// Returns ErrSupervisorShutdown if the supervisor is shutting down.
func (s *Supervisor) Spawn(spec Spec) (*Process, error) {
	if spec.Path == "" {
		return nil, fmt.Errorf("spawn %s: %w", spec.Name, ErrNoCommand)
	}
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	// Orphaned grandchildren may hold the output pipes open after exit.
	cmd.WaitDelay = time.Second
	return s.start(uuid.New().String(), spec, cmd)
}

func (s *Supervisor) start(id string, spec Spec, cmd *exec.Cmd) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}
	if _, exists := s.processes[id]; exists {
		return nil, fmt.Errorf("process ID already exists: %s", id)
	}

	proc := NewProcess(id, spec.Name, cmd)
	sink := io.Writer(proc.tail)
	if spec.Output != nil {
		sink = io.MultiWriter(proc.tail, spec.Output)
	}

	var err error
	switch {
	case spec.Pty:
		err = startPty(proc, sink)
	case spec.Stdio:
		err = startPiped(proc, sink)
	default:
		cmd.Stdout = sink
		cmd.Stderr = sink
		err = proc.start()
	}
	if err != nil {
		return nil, err
	}

	s.processes[id] = proc
	s.log.WithFields(logrus.Fields{"id": id, "name": spec.Name, "pid": proc.PID()}).
		Debugf("started %s %v", cmd.Path, cmd.Args[1:])

	go s.monitorProcess(proc)
	return proc, nil
}

func startPiped(proc *Process, stderr io.Writer) error {
	cmd := proc.Cmd
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = stderr
	proc.Stdin = stdin
	proc.Stdout = stdout

	if err := proc.start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return err
	}
	return nil
}

func startPty(proc *Process, out io.Writer) error {
	f, err := pty.Start(proc.Cmd)
	if err != nil {
		return fmt.Errorf("start %s on pty: %w", proc.Name, err)
	}
	proc.pty = f
	proc.Stdin = f
	proc.markStarted()

	go func() {
		// Reading the controlling side fails with EIO once the child exits.
		_, _ = io.Copy(out, f)
		_ = f.Close()
	}()
	return nil
}

// monitorProcess watches for process exit and cleans up.
func (s *Supervisor) monitorProcess(proc *Process) {
	<-proc.Done()

	s.log.WithFields(logrus.Fields{"id": proc.ID, "name": proc.Name}).
		Debugf("%s exited with code %d", proc.Name, proc.ExitCode())

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// Stop terminates proc and kills it if it is still running after grace.
// It returns once the process has exited.
func (s *Supervisor) Stop(proc *Process, grace time.Duration) {
	if proc == nil || !proc.IsRunning() {
		return
	}
	_ = proc.Terminate()
	select {
	case <-proc.Done():
	case <-time.After(grace):
		_ = proc.Kill()
		<-proc.Done()
	}
}

// Shutdown gracefully shuts down all processes.
//
// It first sends SIGTERM to all processes and waits up to timeout
// for them to exit. Any processes still running after the timeout
// are killed with SIGKILL.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if s.closed.Swap(true) {
		return
	}
	procs := s.list()
	if len(procs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *Process) {
			defer wg.Done()
			s.Stop(p, timeout)
		}(p)
	}
	wg.Wait()

	// Wait for monitor goroutines to remove exited processes.
	for s.count() > 0 {
		time.Sleep(time.Millisecond)
	}
}

func (s *Supervisor) list() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		result = append(result, p)
	}
	return result
}

func (s *Supervisor) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// Environ returns the current environment with overrides applied. A nil
// value in overrides removes the variable.
func Environ(overrides map[string]*string) []string {
	env := make(map[string]string)
	var order []string
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, seen := env[k]; !seen {
			order = append(order, k)
		}
		env[k] = v
	}
	for k, v := range overrides {
		if v == nil {
			delete(env, k)
			continue
		}
		if _, seen := env[k]; !seen {
			order = append(order, k)
		}
		env[k] = *v
	}
	result := make([]string, 0, len(env))
	for _, k := range order {
		if v, ok := env[k]; ok {
			result = append(result, k+"="+v)
		}
	}
	return result
}

// Sentinel errors.
var (
	// ErrSupervisorShutdown is returned when the supervisor is shutting down.
	ErrSupervisorShutdown = errors.New("supervisor is shutting down")

	// ErrNoCommand is returned when a Spec has no executable.
	ErrNoCommand = errors.New("no command")
)
