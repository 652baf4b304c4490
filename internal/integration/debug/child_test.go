package debug

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/timcharper/dape/internal/config"
)

func replyTo(a *fakeAdapter, command string) (gjson.Result, bool) {
	for _, r := range a.replies() {
		if r.Get("command").String() == command {
			return r, true
		}
	}
	return gjson.Result{}, false
}

func TestChildConfig(t *testing.T) {
	parent := config.Config{
		config.KeyCommand: "dlv",
		config.KeyPort:    4711,
		config.KeyType:    "go",
		config.KeyProgram: "/src/main",
	}
	cfg := childConfig(parent, startDebuggingArguments{
		Configuration: map[string]any{"type": "go", "mode": "remote"},
		Request:       "attach",
	})

	require.NotContains(t, cfg, config.KeyCommand)
	require.Equal(t, 4711, cfg[config.KeyPort])
	require.Equal(t, "remote", cfg[":mode"])
	require.Equal(t, "attach", cfg.Request())
	require.NotContains(t, cfg, config.KeyProgram, "parent keywords are not inherited")
}

func TestSession_StartDebuggingCreatesChild(t *testing.T) {
	h := newHarness(t, nil)
	parent, a := h.start(testConfig())
	h.eventually(hasCommand(a, "configurationDone"), "configurationDone never sent")

	a.reverse("startDebugging", map[string]any{
		"request":       "attach",
		"configuration": map[string]any{"type": "fake", "mode": "remote"},
	})
	childAdapter := h.adapter()
	h.eventually(hasCommand(childAdapter, "configurationDone"), "child never configured")

	resp, ok := replyTo(a, "startDebugging")
	require.True(t, ok, "startDebugging was not answered")
	require.True(t, resp.Get("success").Bool())

	require.Equal(t, "remote", childAdapter.sent("attach")[0].Get("arguments.mode").String())

	var (
		active   *Session
		children []*Session
		cfg      config.Config
	)
	h.read(func() {
		active = h.mgr.Active()
		children = parent.Children()
	})
	require.Len(t, children, 1)
	child := children[0]
	require.Same(t, child, active, "a child of an idle parent becomes active")
	require.Same(t, parent, child.Parent())
	h.read(func() { cfg = child.Config })
	require.Equal(t, 4711, cfg.Port())
	require.NotContains(t, cfg, config.KeyCommand)
	require.Equal(t, "attach", cfg.Request())

	// Ending the child hands the focus back to its parent.
	require.NoError(t, h.do(func(done func(error)) {
		child.Kill(func() { done(nil) })
	}))
	h.read(func() {
		active = h.mgr.Active()
		children = parent.Children()
	})
	require.Same(t, parent, active)
	require.Empty(t, children)
	require.Empty(t, h.rec.snapshot().ended, "only root sessions report their end")
}

func TestSession_KillingParentKillsChildren(t *testing.T) {
	h := newHarness(t, nil)
	parent, a := h.start(testConfig())
	h.eventually(hasCommand(a, "configurationDone"), "configurationDone never sent")

	a.reverse("startDebugging", map[string]any{
		"request":       "launch",
		"configuration": map[string]any{"type": "fake"},
	})
	childAdapter := h.adapter()
	h.eventually(hasCommand(childAdapter, "configurationDone"), "child never configured")

	require.NoError(t, h.do(func(done func(error)) {
		parent.Kill(func() { done(nil) })
	}))
	require.Contains(t, childAdapter.commands(), "disconnect")
	require.Contains(t, a.commands(), "disconnect")

	var (
		n      int
		active *Session
	)
	h.read(func() {
		n = len(h.mgr.Sessions())
		active = h.mgr.Active()
	})
	require.Zero(t, n)
	require.Nil(t, active)
	require.Len(t, h.rec.snapshot().ended, 1)
}

func TestSession_StartDebuggingRejectsUnreachableAdapter(t *testing.T) {
	h := newHarness(t, nil)
	cfg := testConfig()
	s, a := h.start(cfg)
	h.eventually(hasCommand(a, "configurationDone"), "configurationDone never sent")

	// Without a port the child has no way to reach the adapter.
	h.read(func() { delete(s.Config, config.KeyPort) })
	a.reverse("startDebugging", map[string]any{"request": "launch", "configuration": map[string]any{}})

	require.Eventually(t, func() bool {
		_, ok := replyTo(a, "startDebugging")
		return ok
	}, waitFor, 5*time.Millisecond)
	resp, _ := replyTo(a, "startDebugging")
	require.False(t, resp.Get("success").Bool())

	var children []*Session
	h.read(func() { children = s.Children() })
	require.Empty(t, children)
}

func TestSession_RunInTerminal(t *testing.T) {
	h := newHarness(t, nil)
	s, a := h.start(testConfig())

	a.reverse("runInTerminal", map[string]any{
		"kind": "external",
		"cwd":  t.TempDir(),
		"args": []string{"/bin/sh", "-c", "sleep 5"},
		"env":  map[string]any{"DAPE_TEST": "1"},
	})
	require.Eventually(t, func() bool {
		_, ok := replyTo(a, "runInTerminal")
		return ok
	}, waitFor, 5*time.Millisecond)

	resp, _ := replyTo(a, "runInTerminal")
	require.True(t, resp.Get("success").Bool(), resp.Raw)
	require.Positive(t, resp.Get("body.processId").Int())

	var terminals int
	h.read(func() { terminals = len(s.Terminals()) })
	require.Equal(t, 1, terminals)
}

func TestSession_RunInTerminalFailure(t *testing.T) {
	h := newHarness(t, nil)
	_, a := h.start(testConfig())

	a.reverse("runInTerminal", map[string]any{
		"kind": "external",
		"args": []string{"/nonexistent/dape-test-binary"},
	})
	require.Eventually(t, func() bool {
		_, ok := replyTo(a, "runInTerminal")
		return ok
	}, waitFor, 5*time.Millisecond)

	resp, _ := replyTo(a, "runInTerminal")
	require.False(t, resp.Get("success").Bool())
	require.NotEmpty(t, resp.Get("message").String())
}
