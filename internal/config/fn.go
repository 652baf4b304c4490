package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Fn transforms a configuration before a session starts.
type Fn func(Config) error

var fns = map[string]Fn{
	"autoport":   autoPort,
	"cwd":        defaultCwd,
	"expand-env": expandEnv,
}

// RegisterFn makes a transform available to the fn key.
func RegisterFn(name string, fn Fn) {
	fns[name] = fn
}

// Resolve returns a copy of c ready to start: every transform named under
// fn has run, and a port of AutoPort has been replaced by a free port.
func (c Config) Resolve() (Config, error) {
	out := c.Clone()
	names := out.Strings(KeyFn)
	if out.String(KeyPort) == AutoPort && !contains(names, "autoport") {
		names = append(names, "autoport")
	}
	for _, name := range names {
		fn, ok := fns[name]
		if !ok {
			return nil, fmt.Errorf("resolve: unknown fn %q", name)
		}
		if err := fn(out); err != nil {
			return nil, fmt.Errorf("resolve: %s: %w", name, err)
		}
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// FreePort asks the kernel for an unused TCP port on the loopback interface.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func autoPort(c Config) error {
	port := c.Port()
	if port == 0 {
		p, err := FreePort()
		if err != nil {
			return err
		}
		port = p
		c[KeyPort] = port
	}
	portStr := strconv.Itoa(port)
	if _, ok := c[KeyCommandArgs]; ok {
		args := c.Strings(KeyCommandArgs)
		out := make([]any, len(args))
		for i, a := range args {
			out[i] = strings.ReplaceAll(a, PortPlaceholder, portStr)
		}
		c[KeyCommandArgs] = out
	}
	for k, v := range c {
		if s, ok := v.(string); ok && IsKeyword(k) && strings.Contains(s, PortPlaceholder) {
			c[k] = strings.ReplaceAll(s, PortPlaceholder, portStr)
		}
	}
	return nil
}

func defaultCwd(c Config) error {
	if c.String(KeyCwd) != "" {
		return nil
	}
	wd, err := Getwd()
	if err != nil {
		return err
	}
	c[KeyCwd] = wd
	return nil
}

func expandEnv(c Config) error {
	for k, v := range c {
		c[k] = expandValue(v)
	}
	return nil
}

func expandValue(v any) any {
	switch t := v.(type) {
	case string:
		return os.ExpandEnv(t)
	case []any:
		for i, item := range t {
			t[i] = expandValue(item)
		}
		return t
	case map[string]any:
		for k, item := range t {
			t[k] = expandValue(item)
		}
		return t
	default:
		return v
	}
}
