// Package config holds dape's launch configurations and the catalog they
// are loaded from.
//
// A Config is an opaque map. Keys with a leading colon are keyword keys;
// they are sent to the adapter in the launch or attach request with the
// colon stripped. All other keys are meta keys that tell dape how to reach
// the adapter:
//
//	command        executable of the adapter or adapter server
//	command-args   its arguments
//	command-cwd    its working directory
//	command-env    environment overrides for it
//	host, port     connect over TCP instead of stdio
//	prefix-local   local path prefix rewritten to prefix-remote on the wire
//	prefix-remote
//	modes          editor modes the configuration applies to
//	ensure         executables that must be on PATH
//	fn             named transforms applied before the session starts
package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/cosiner/argv"
	"gopkg.in/yaml.v3"
)

// Meta keys.
const (
	KeyCommand      = "command"
	KeyCommandArgs  = "command-args"
	KeyCommandCwd   = "command-cwd"
	KeyCommandEnv   = "command-env"
	KeyHost         = "host"
	KeyPort         = "port"
	KeyPrefixLocal  = "prefix-local"
	KeyPrefixRemote = "prefix-remote"
	KeyModes        = "modes"
	KeyEnsure       = "ensure"
	KeyFn           = "fn"
)

// Keyword keys dape itself reads.
const (
	KeyType    = ":type"
	KeyRequest = ":request"
	KeyCwd     = ":cwd"
	KeyProgram = ":program"
)

// AutoPort as the port value asks for a free local port.
const AutoPort = "autoport"

// PortPlaceholder in command-args or keyword values is replaced by the port.
const PortPlaceholder = "{{port}}"

// DefaultHost is used when a configuration has a port but no host.
const DefaultHost = "localhost"

// Config is one launch configuration.
type Config map[string]any

// IsKeyword reports whether key is sent to the adapter.
func IsKeyword(key string) bool {
	return strings.HasPrefix(key, ":")
}

// Keyword returns the keyword key for an adapter argument name.
func Keyword(name string) string {
	return ":" + name
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	return Config(Clone(c))
}

// Arguments returns the keyword-keyed part of c as adapter arguments. A
// keyword whose value is unset is sent as false rather than omitted.
func (c Config) Arguments() map[string]any {
	args := make(map[string]any)
	for k, v := range c {
		if !IsKeyword(k) {
			continue
		}
		if v == nil {
			v = false
		}
		args[strings.TrimPrefix(k, ":")] = v
	}
	return args
}

// Meta returns the non-keyword keys of c, minus the excluded ones.
func (c Config) Meta(exclude ...string) Config {
	meta := make(Config)
	for k, v := range c {
		if IsKeyword(k) {
			continue
		}
		meta[k] = v
	}
	for _, k := range exclude {
		delete(meta, k)
	}
	return Config(Clone(meta))
}

// String returns the value at key as a string.
func (c Config) String(key string) string {
	switch v := c[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Strings returns the value at key as a list of strings. A plain string is
// a single element.
func (c Config) Strings(key string) []string {
	switch v := c[key].(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

// Type returns the adapter type, the :type keyword.
func (c Config) Type() string {
	return c.String(KeyType)
}

// Request returns "launch" or "attach" from the :request keyword.
func (c Config) Request() string {
	if r := c.String(KeyRequest); r != "" {
		return r
	}
	return "launch"
}

// Command returns the executable and arguments to spawn. A command string
// without command-args is split shell-style.
func (c Config) Command() (string, []string, error) {
	command := c.String(KeyCommand)
	if command == "" {
		return "", nil, nil
	}
	args := c.Strings(KeyCommandArgs)
	if _, ok := c[KeyCommandArgs]; !ok && strings.ContainsAny(command, " \t") {
		parts, err := SplitCommand(command)
		if err != nil {
			return "", nil, err
		}
		command, args = parts[0], parts[1:]
	}
	return command, args, nil
}

// SplitCommand splits a command line into words.
func SplitCommand(line string) ([]string, error) {
	pipeline, err := argv.Argv(line, func(s string) (string, error) {
		return "", fmt.Errorf("backtick not supported in %q", s)
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("split %q: %w", line, err)
	}
	if len(pipeline) != 1 || len(pipeline[0]) == 0 {
		return nil, fmt.Errorf("split %q: expected a single command", line)
	}
	return pipeline[0], nil
}

// Cwd returns the working directory for the spawned command.
func (c Config) Cwd() string {
	return c.String(KeyCommandCwd)
}

// Env returns environment overrides for the spawned command. A nil value
// removes the variable.
func (c Config) Env() map[string]*string {
	raw, ok := c[KeyCommandEnv].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	env := make(map[string]*string, len(raw))
	for k, v := range raw {
		if v == nil {
			env[k] = nil
			continue
		}
		s := fmt.Sprint(v)
		env[k] = &s
	}
	return env
}

// Address returns host:port when the adapter is reached over TCP.
func (c Config) Address() (string, bool) {
	port := c.Port()
	if port == 0 {
		return "", false
	}
	host := c.String(KeyHost)
	if host == "" {
		host = DefaultHost
	}
	return fmt.Sprintf("%s:%d", host, port), true
}

// Port returns the numeric port, or 0 when unset or still AutoPort.
func (c Config) Port() int {
	switch v := c[KeyPort].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	case string:
		p, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return p
	default:
		return 0
	}
}

// LocalToRemote rewrites a local path for the adapter.
func (c Config) LocalToRemote(path string) string {
	return swapPrefix(path, c.String(KeyPrefixLocal), c.String(KeyPrefixRemote))
}

// RemoteToLocal rewrites a path reported by the adapter.
func (c Config) RemoteToLocal(path string) string {
	return swapPrefix(path, c.String(KeyPrefixRemote), c.String(KeyPrefixLocal))
}

func swapPrefix(path, from, to string) string {
	if from == "" && to == "" {
		return path
	}
	if !strings.HasPrefix(path, from) {
		return path
	}
	return to + strings.TrimPrefix(path, from)
}

// Modes returns the editor modes the configuration applies to.
func (c Config) Modes() []string {
	return c.Strings(KeyModes)
}

// Ensure checks that every executable named by ensure, and the command
// itself, can be found.
func (c Config) Ensure() error {
	var errs []error
	need := c.Strings(KeyEnsure)
	if command, _, err := c.Command(); err != nil {
		errs = append(errs, err)
	} else if command != "" {
		need = append(need, command)
	}
	for _, name := range need {
		if _, err := exec.LookPath(name); err != nil {
			errs = append(errs, fmt.Errorf("ensure %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks that the configuration describes a reachable adapter.
func (c Config) Validate() error {
	command, _, err := c.Command()
	if err != nil {
		return err
	}
	_, socket := c.Address()
	if command == "" && !socket && c.String(KeyPort) != AutoPort {
		return ErrNoAdapter
	}
	return nil
}

// Dump renders the configuration for diagnostics, keys sorted.
func (c Config) Dump() string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var node yaml.Node
	node.Kind = yaml.MappingNode
	for _, k := range keys {
		var key, value yaml.Node
		key.SetString(k)
		if err := value.Encode(c[k]); err != nil {
			value.SetString(fmt.Sprint(c[k]))
		}
		node.Content = append(node.Content, &key, &value)
	}
	out, err := yaml.Marshal(&node)
	if err != nil {
		return fmt.Sprint(map[string]any(c))
	}
	return string(out)
}

// ParseOverride parses a key=value command-line override. Values are typed
// the same way environment overrides are.
func ParseOverride(s string) (string, any, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return "", nil, fmt.Errorf("override %q: expected key=value", s)
	}
	return key, parseValue(value), nil
}

// ErrNoAdapter is returned for a configuration with neither a command nor a
// port.
var ErrNoAdapter = errors.New("configuration has neither command nor port")

// Getwd is replaceable in tests.
var Getwd = os.Getwd
