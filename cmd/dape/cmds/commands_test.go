package cmds

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timcharper/dape/internal/config"
)

const catalogYAML = `
app:
  command: dlv
  command-args: [dap, --listen, "127.0.0.1:{{port}}"]
  port: autoport
  modes: [go]
  args:
    type: go
    request: launch
    program: ./cmd/app
    stopOnEntry: false
remote:
  host: 10.0.0.2
  port: 4000
  args:
    type: go
    request: attach
`

func writeCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dape.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := New(Version{Version: "1.2.3", Commit: "abc", Date: "today"})
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Equal(t, "dape 1.2.3 (abc, today)\n", out)
}

func TestConfigs(t *testing.T) {
	path := writeCatalog(t)

	out, err := execute(t, "--config", path, "configs")
	require.NoError(t, err)
	require.Contains(t, out, "app")
	require.Contains(t, out, "remote")

	out, err = execute(t, "--config", path, "configs", "--mode", "go")
	require.NoError(t, err)
	require.Contains(t, out, "app")
	require.NotContains(t, out, "remote")
	mode = ""
}

func TestShowResolves(t *testing.T) {
	path := writeCatalog(t)

	out, err := execute(t, "--config", path, "show", "app")
	require.NoError(t, err)
	require.Contains(t, out, "./cmd/app")
	require.NotContains(t, out, config.AutoPort, "the port is allocated")
}

func TestConfigForOverrides(t *testing.T) {
	cat, err := config.NewLoader().Load(writeCatalog(t))
	require.NoError(t, err)
	t.Setenv("DAPE_ARG_STOP_ON_ENTRY", "true")

	cfg, err := configFor(cat, "app", []string{":program=./cmd/other", "port=5000"})
	require.NoError(t, err)
	require.Equal(t, true, cfg[":stopOnEntry"])
	require.Equal(t, "./cmd/other", cfg[config.KeyProgram])
	require.Equal(t, 5000, cfg.Port())

	_, err = configFor(cat, "missing", nil)
	require.ErrorContains(t, err, `no configuration named "missing"`)

	_, err = configFor(cat, "app", []string{"novalue"})
	require.Error(t, err)
}

func TestLogOutputRequiresLog(t *testing.T) {
	_, err := execute(t, "--log-output", "transport", "version")
	require.Error(t, err)
	logOutput = ""
}

func TestGranularityFlag(t *testing.T) {
	var g granularityValue
	require.NoError(t, g.Set("instruction"))
	require.Equal(t, "instruction", g.String())
	require.Error(t, g.Set("word"))
	require.Equal(t, "instruction", g.String())
}
