// Package process supervises the child processes a debug run depends on:
// stdio debug adapters, adapter servers that are connected to over a socket,
// and debuggees started on behalf of a runInTerminal request.
//
// # Supervisor
//
// The Supervisor starts processes from a Spec and tracks them until exit:
//
//	sup := process.NewSupervisor()
//	defer sup.Shutdown(2 * time.Second)
//
//	proc, err := sup.Spawn(process.Spec{
//	    Name:  "adapter",
//	    Path:  "dlv",
//	    Args:  []string{"dap"},
//	    Stdio: true,
//	})
//
// With Stdio set, the caller owns proc.Stdin and proc.Stdout. Everything the
// process writes that the caller does not consume is kept in a bounded tail
// buffer so that a session dying before initialization can report what the
// adapter printed.
//
// # Pseudo-terminals
//
// A Spec with Pty set runs the command attached to a new pseudo-terminal.
// Stdin and Stdout then both refer to the terminal's controlling side.
package process
