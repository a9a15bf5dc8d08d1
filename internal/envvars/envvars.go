// Package envvars holds build environments and the macro expansion applied
// to tool paths, extra arguments and test container names.
package envvars

import (
	"regexp"
	"sort"
	"strings"
)

// EnvVars is a set of environment variables. Lookups ignore case, matching
// how Windows build agents treat variable names.
type EnvVars map[string]string

var (
	// $NAME or ${NAME}; braced names may contain dots.
	macroPattern = regexp.MustCompile(`\$([A-Za-z0-9_]+|\{[A-Za-z0-9_.]+\})`)

	// %NAME% as understood by cmd.exe
	percentPattern = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_()]*)%`)
)

// FromEnviron builds an EnvVars from KEY=VALUE pairs such as os.Environ().
// Entries without '=' are ignored.
func FromEnviron(environ []string) EnvVars {
	env := make(EnvVars, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}

// Lookup returns the value of key, preferring an exact match.
func (e EnvVars) Lookup(key string) (string, bool) {
	if v, ok := e[key]; ok {
		return v, true
	}
	for k, v := range e {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// Overlay returns a new EnvVars with other applied on top of e.
// A key in other replaces any key in e that differs only in case.
func (e EnvVars) Overlay(other map[string]string) EnvVars {
	out := make(EnvVars, len(e)+len(other))
	for k, v := range e {
		out[k] = v
	}
	for k, v := range other {
		for existing := range out {
			if existing != k && strings.EqualFold(existing, k) {
				delete(out, existing)
			}
		}
		out[k] = v
	}
	return out
}

// Slice returns the variables as sorted KEY=VALUE pairs for os/exec.
func (e EnvVars) Slice() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+e[k])
	}
	return out
}

// Expand replaces $NAME and ${NAME} references that are defined in e.
func (e EnvVars) Expand(s string) string {
	return ReplaceMacro(s, e.Lookup)
}

// ExpandPath is Expand plus %NAME% references, for tool locations that were
// written with Windows conventions.
func (e EnvVars) ExpandPath(s string) string {
	s = e.Expand(s)
	if !strings.Contains(s, "%") {
		return s
	}
	return percentPattern.ReplaceAllStringFunc(s, func(match string) string {
		if v, ok := e.Lookup(match[1 : len(match)-1]); ok {
			return v
		}
		return match
	})
}

// ReplaceMacro replaces every $NAME or ${NAME} in s for which lookup reports
// a value. Unresolved references are left as written so that a later pass
// with a different source can still resolve them.
func ReplaceMacro(s string, lookup func(string) (string, bool)) string {
	if lookup == nil || !strings.Contains(s, "$") {
		return s
	}
	return macroPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[1:]
		if strings.HasPrefix(name, "{") {
			name = name[1 : len(name)-1]
		}
		if v, ok := lookup(name); ok {
			return v
		}
		return match
	})
}

// MapLookup adapts a plain map to the lookup function ReplaceMacro takes.
func MapLookup(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}
