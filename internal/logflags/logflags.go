// Package logflags configures the per-layer loggers used across dape.
//
// Each layer logs through its own logrus entry tagged with a "layer" field.
// Layers that were not selected with --log-output are created at panic
// level, so their Debugf calls cost little more than a level check.
package logflags

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	transport = false
	session   = false
	process   = false
	config    = false
)

var (
	logOut       io.Writer = os.Stderr
	logFormatter logrus.Formatter
)

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New()
	if logOut != nil {
		logger.Out = logOut
	}
	if logFormatter != nil {
		logger.Formatter = logFormatter
	}
	logger.Level = logrus.DebugLevel
	if !flag {
		logger.Level = logrus.PanicLevel
	}
	return logger.WithFields(fields)
}

// Transport returns true if every DAP message exchanged with an adapter
// should be logged.
func Transport() bool {
	return transport
}

// TransportLogger returns a logger for the wire layer.
func TransportLogger() *logrus.Entry {
	return makeLogger(transport, logrus.Fields{"layer": "transport"})
}

// Session returns true if session state transitions should be logged.
func Session() bool {
	return session
}

// SessionLogger returns a logger for the session layer.
func SessionLogger() *logrus.Entry {
	return makeLogger(session, logrus.Fields{"layer": "session"})
}

// Process returns true if adapter process supervision should be logged.
func Process() bool {
	return process
}

// ProcessLogger returns a logger for spawned adapter and debuggee processes.
func ProcessLogger() *logrus.Entry {
	return makeLogger(process, logrus.Fields{"layer": "process"})
}

// Config returns true if launch configuration loading should be logged.
func Config() bool {
	return config
}

// ConfigLogger returns a logger for the launch configuration catalog.
func ConfigLogger() *logrus.Entry {
	return makeLogger(config, logrus.Fields{"layer": "config"})
}

// SetOutput redirects every logger created after the call to w. A nil
// writer restores stderr.
func SetOutput(w io.Writer, f logrus.Formatter) {
	logOut = w
	logFormatter = f
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the layer flags based on the contents of logstr.
func Setup(logFlag bool, logstr string) error {
	transport, session, process, config = false, false, false, false
	if !logFlag {
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "session"
	}
	for _, layer := range strings.Split(logstr, ",") {
		switch strings.TrimSpace(layer) {
		case "transport":
			transport = true
		case "session":
			session = true
		case "process":
			process = true
		case "config":
			config = true
		case "all":
			transport, session, process, config = true, true, true, true
		}
	}
	return nil
}
