package logflags

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestSetupRequiresLogFlag(t *testing.T) {
	require.ErrorIs(t, Setup(false, "transport"), errLogstrWithoutLog)
	require.NoError(t, Setup(false, ""))
	require.False(t, Transport())
}

func TestSetupSelectsLayers(t *testing.T) {
	defer Setup(false, "")

	require.NoError(t, Setup(true, "transport,process"))
	require.True(t, Transport())
	require.True(t, Process())
	require.False(t, Session())
	require.False(t, Config())

	require.NoError(t, Setup(true, ""))
	require.True(t, Session())
	require.False(t, Transport())

	require.NoError(t, Setup(true, "all"))
	require.True(t, Config())
}

func TestDisabledLayerIsSilent(t *testing.T) {
	defer Setup(false, "")
	var buf bytes.Buffer
	SetOutput(&buf, &logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})
	defer SetOutput(nil, nil)

	require.NoError(t, Setup(true, "session"))
	TransportLogger().Debug("hidden")
	SessionLogger().Debug("shown")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
	require.Contains(t, buf.String(), "layer=session")
}
