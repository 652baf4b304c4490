package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArgumentsSendUnsetAsFalse(t *testing.T) {
	cfg := Config{
		KeyCommand:    "dlv",
		":program":    "./cmd/app",
		":stopOnEntry": nil,
		":args":       []any{"-v"},
	}

	args := cfg.Arguments()
	require.Equal(t, map[string]any{
		"program":     "./cmd/app",
		"stopOnEntry": false,
		"args":        []any{"-v"},
	}, args)
}

func TestMetaExcludesKeywordsAndNamedKeys(t *testing.T) {
	cfg := Config{
		KeyCommand: "js-debug",
		KeyHost:    "localhost",
		KeyPort:    8123,
		":type":    "pwa-node",
	}

	meta := cfg.Meta(KeyCommand)
	require.Equal(t, Config{KeyHost: "localhost", KeyPort: 8123}, meta)
	// The original is untouched.
	require.Equal(t, "js-debug", cfg[KeyCommand])
}

func TestCommandSplitsStringWithoutArgs(t *testing.T) {
	command, args, err := Config{KeyCommand: `python -m "debugpy.adapter"`}.Command()
	require.NoError(t, err)
	require.Equal(t, "python", command)
	require.Equal(t, []string{"-m", "debugpy.adapter"}, args)

	command, args, err = Config{KeyCommand: "dlv", KeyCommandArgs: []any{"dap", "--listen", "127.0.0.1:4711"}}.Command()
	require.NoError(t, err)
	require.Equal(t, "dlv", command)
	require.Equal(t, []string{"dap", "--listen", "127.0.0.1:4711"}, args)

	_, _, err = Config{KeyCommand: "a | b"}.Command()
	require.Error(t, err)
}

func TestAddress(t *testing.T) {
	_, ok := Config{KeyCommand: "lldb-dap"}.Address()
	require.False(t, ok)

	addr, ok := Config{KeyPort: 4711}.Address()
	require.True(t, ok)
	require.Equal(t, "localhost:4711", addr)

	addr, ok = Config{KeyHost: "10.0.0.2", KeyPort: "9229"}.Address()
	require.True(t, ok)
	require.Equal(t, "10.0.0.2:9229", addr)

	_, ok = Config{KeyPort: AutoPort}.Address()
	require.False(t, ok)
}

func TestPathPrefixes(t *testing.T) {
	cfg := Config{KeyPrefixLocal: "/home/me/src/", KeyPrefixRemote: "/app/"}
	require.Equal(t, "/app/main.go", cfg.LocalToRemote("/home/me/src/main.go"))
	require.Equal(t, "/home/me/src/main.go", cfg.RemoteToLocal("/app/main.go"))
	require.Equal(t, "/other/x.go", cfg.RemoteToLocal("/other/x.go"))
	require.Equal(t, "/x.go", Config{}.LocalToRemote("/x.go"))
}

func TestEnv(t *testing.T) {
	env := Config{KeyCommandEnv: map[string]any{"A": "1", "B": nil, "C": 3}}.Env()
	require.Equal(t, "1", *env["A"])
	require.Nil(t, env["B"])
	require.Equal(t, "3", *env["C"])
}

func TestValidate(t *testing.T) {
	require.ErrorIs(t, Config{":type": "go"}.Validate(), ErrNoAdapter)
	require.NoError(t, Config{KeyCommand: "dlv"}.Validate())
	require.NoError(t, Config{KeyPort: 4711}.Validate())
	require.NoError(t, Config{KeyPort: AutoPort, KeyCommand: "dlv"}.Validate())
}

func TestEnsureReportsMissingExecutables(t *testing.T) {
	err := Config{KeyCommand: "sh", KeyEnsure: []any{"definitely-not-installed-dape"}}.Ensure()
	require.Error(t, err)
	require.Contains(t, err.Error(), "definitely-not-installed-dape")
	require.NoError(t, Config{KeyCommand: "sh"}.Ensure())
}

func TestDumpIsSorted(t *testing.T) {
	out := Config{":program": "x", KeyCommand: "dlv"}.Dump()
	require.Less(t, strings.Index(out, ":program"), strings.Index(out, "command"))
}

func TestParseOverride(t *testing.T) {
	key, value, err := ParseOverride(":stopOnEntry=true")
	require.NoError(t, err)
	require.Equal(t, ":stopOnEntry", key)
	require.Equal(t, true, value)

	key, value, err = ParseOverride("port=4711")
	require.NoError(t, err)
	require.Equal(t, "port", key)
	require.Equal(t, 4711, value)

	_, _, err = ParseOverride("novalue")
	require.Error(t, err)
}
