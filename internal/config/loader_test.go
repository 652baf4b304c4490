package config

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

const yamlCatalog = `
dlv:
  modes: [go-mode, go-ts-mode]
  ensure: [dlv]
  command: dlv
  command-args: [dap, --listen, "127.0.0.1:{{port}}"]
  port: autoport
  args:
    type: go
    request: launch
    program: .
    stopOnEntry: ~
debugpy:
  modes: [python-mode]
  command: python
  command-args: [-m, debugpy.adapter]
  ":type": python
`

const tomlCatalog = `
[lldb]
modes = ["c-mode"]
command = "lldb-dap"

[lldb.args]
type = "lldb"
program = "a.out"
`

func TestLoaderYAML(t *testing.T) {
	fsys := fstest.MapFS{"dape.yaml": {Data: []byte(yamlCatalog)}}
	cat, err := NewLoaderWithFS(fsys).Load("dape.yaml")
	require.NoError(t, err)

	require.Equal(t, []string{"debugpy", "dlv"}, cat.Names())
	require.Equal(t, []string{"dlv"}, cat.ForMode("go-ts-mode"))

	dlv, ok := cat.Get("dlv")
	require.True(t, ok)
	require.Equal(t, "go", dlv.Type())
	require.Equal(t, "launch", dlv.Request())
	require.Contains(t, dlv, ":stopOnEntry")
	require.Equal(t, false, dlv.Arguments()["stopOnEntry"])
	require.Equal(t, AutoPort, dlv.String(KeyPort))

	py, _ := cat.Get("debugpy")
	require.Equal(t, "python", py.Type())
}

func TestLoaderTOML(t *testing.T) {
	fsys := fstest.MapFS{"dape.toml": {Data: []byte(tomlCatalog)}}
	cat, err := NewLoaderWithFS(fsys).Load("dape.toml")
	require.NoError(t, err)

	lldb, ok := cat.Get("lldb")
	require.True(t, ok)
	require.Equal(t, "lldb-dap", lldb.String(KeyCommand))
	require.Equal(t, "a.out", lldb.Arguments()["program"])
}

func TestLoaderGetReturnsCopy(t *testing.T) {
	fsys := fstest.MapFS{"dape.toml": {Data: []byte(tomlCatalog)}}
	cat, err := NewLoaderWithFS(fsys).Load("dape.toml")
	require.NoError(t, err)

	a, _ := cat.Get("lldb")
	a[":program"] = "changed"
	b, _ := cat.Get("lldb")
	require.Equal(t, "a.out", b[":program"])
}

func TestLoaderIncludes(t *testing.T) {
	fsys := fstest.MapFS{
		"conf/base.yaml": {Data: []byte("dlv:\n  command: dlv\n  host: 127.0.0.1\n")},
		"conf/dape.yaml": {Data: []byte("\"@include\": base.yaml\ndlv:\n  host: 10.0.0.1\n")},
	}
	cat, err := NewLoaderWithFS(fsys).Load("conf/dape.yaml")
	require.NoError(t, err)

	dlv, _ := cat.Get("dlv")
	require.Equal(t, "dlv", dlv.String(KeyCommand))
	require.Equal(t, "10.0.0.1", dlv.String(KeyHost))
}

func TestLoaderErrors(t *testing.T) {
	fsys := fstest.MapFS{
		"bad.yaml":    {Data: []byte("dlv: [unterminated")},
		"scalar.yaml": {Data: []byte("dlv: 3\n")},
	}
	loader := NewLoaderWithFS(fsys)

	_, err := loader.Load("bad.yaml")
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "bad.yaml", perr.Path)

	_, err = loader.Load("scalar.yaml")
	require.Error(t, err)

	_, err = loader.Load("missing.yaml")
	require.Error(t, err)
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{"a": map[string]any{"x": 1, "y": 2}, "b": 1}
	src := map[string]any{"a": map[string]any{"y": 3}, "c": 4}

	got := DeepMerge(dst, src)
	require.Equal(t, map[string]any{"a": map[string]any{"x": 1, "y": 3}, "b": 1, "c": 4}, got)
}
