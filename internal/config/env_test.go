package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvLoaderMapsKeys(t *testing.T) {
	l := NewEnvLoader(EnvPrefix)
	l.environ = func() []string {
		return []string{
			"DAPE_COMMAND_CWD=/tmp",
			"DAPE_PORT=4711",
			"DAPE_ARG_STOP_ON_ENTRY=true",
			"DAPE_ARG_PROGRAM=./main",
			"HOME=/root",
		}
	}

	got := l.Load()
	require.Equal(t, Config{
		KeyCommandCwd:  "/tmp",
		KeyPort:        4711,
		":stopOnEntry": true,
		":program":     "./main",
	}, got)
}

func TestEnvLoaderApply(t *testing.T) {
	l := NewEnvLoader(EnvPrefix)
	l.environ = func() []string { return []string{"DAPE_HOST=remote"} }

	base := Config{KeyHost: "localhost", KeyCommand: "dlv"}
	out := l.Apply(base)
	require.Equal(t, "remote", out.String(KeyHost))
	require.Equal(t, "localhost", base.String(KeyHost))
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"", ""},
		{"yes", true},
		{"off", false},
		{"12", 12},
		{"1.5", 1.5},
		{`["a"]`, []any{"a"}},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, parseValue(tt.in), tt.in)
	}
}
