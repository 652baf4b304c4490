package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix is the prefix of environment variables that override
// configuration keys.
const EnvPrefix = "DAPE_"

// envArgPrefix marks an environment variable naming an adapter argument.
const envArgPrefix = "ARG_"

// EnvLoader reads configuration overrides from environment variables.
//
// DAPE_COMMAND_CWD sets command-cwd and DAPE_PORT sets port. Variables
// under DAPE_ARG_ set keyword keys, with the remainder converted to
// camelCase: DAPE_ARG_STOP_ON_ENTRY sets :stopOnEntry.
type EnvLoader struct {
	prefix  string
	environ func() []string
}

// NewEnvLoader creates a loader for variables starting with prefix. The
// prefix should include the trailing underscore.
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{prefix: prefix, environ: os.Environ}
}

// Load returns the overrides found in the environment.
// Empty string values are treated as valid values, not as unset.
func (l *EnvLoader) Load() Config {
	overrides := make(Config)
	for _, kv := range l.environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, l.prefix) {
			continue
		}
		key := l.envToKey(name)
		if key == "" || key == ":" {
			continue
		}
		overrides[key] = parseValue(value)
	}
	return overrides
}

// Apply returns a copy of cfg with the environment overrides applied.
func (l *EnvLoader) Apply(cfg Config) Config {
	out := cfg.Clone()
	if out == nil {
		out = make(Config)
	}
	for k, v := range l.Load() {
		out[k] = v
	}
	return out
}

// envToKey converts DAPE_COMMAND_CWD to command-cwd and DAPE_ARG_STOP_ON_ENTRY
// to :stopOnEntry.
func (l *EnvLoader) envToKey(env string) string {
	name := strings.TrimPrefix(env, l.prefix)
	if strings.HasPrefix(name, envArgPrefix) {
		parts := strings.Split(strings.TrimPrefix(name, envArgPrefix), "_")
		var b strings.Builder
		for i, part := range parts {
			if part == "" {
				continue
			}
			lower := strings.ToLower(part)
			if i > 0 {
				lower = strings.ToUpper(lower[:1]) + lower[1:]
			}
			b.WriteString(lower)
		}
		return Keyword(b.String())
	}
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}

// parseValue attempts to parse the string value into an appropriate type.
func parseValue(s string) any {
	if s == "" {
		return s
	}

	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(i)
	}

	// Only values with a decimal point are floats, to keep ints ints.
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}

	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}

	return s
}
