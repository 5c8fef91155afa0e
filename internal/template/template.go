// Package template expands ${dotted.name} tokens inside command strings,
// argv elements, and environment values at the point a spawn request is
// built. Expansion happens once; the result is frozen for that process
// instance.
package template

import (
	"log/slog"
	"regexp"
)

var tokenPattern = regexp.MustCompile(`\$\{([a-zA-Z0-9_.]+)\}`)

// Vars is a flat map of dotted variable names (e.g. "event.name",
// "match.payload") to their string values.
type Vars map[string]string

// Expand substitutes every ${dotted.name} token in s. Unknown tokens expand
// to the empty string and are logged at debug level.
func Expand(s string, vars Vars) string {
	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		name := tok[2 : len(tok)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		slog.Debug("template: unknown variable", "token", name)
		return ""
	})
}

// ExpandAll applies Expand to every element of ss, returning a new slice.
func ExpandAll(ss []string, vars Vars) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = Expand(s, vars)
	}
	return out
}

// ExpandEnv expands both key and value of each "KEY=VALUE" entry.
func ExpandEnv(env []string, vars Vars) []string {
	out := make([]string, len(env))
	for i, kv := range env {
		out[i] = Expand(kv, vars)
	}
	return out
}

// Merge layers override on top of base, returning a new Vars; neither
// input is mutated.
func Merge(base, override Vars) Vars {
	out := make(Vars, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
