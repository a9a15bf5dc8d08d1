package build

import (
	"path"
	"strings"

	"github.com/sourceplane/msrun/internal/envvars"
)

// Build is the context a step executes in.
type Build struct {
	// Workspace is the working directory of launched processes.
	Workspace string
	// Env is the environment processes see and the first expansion source.
	Env envvars.EnvVars
	// Variables are build-specific values, the second expansion source.
	Variables map[string]string
	// Listener receives diagnostics and process output.
	Listener *Listener
}

// Expand runs the two expansion passes used for arguments: the build
// environment first, then the build variables. A reference the first pass
// leaves unresolved may still be filled by the second.
func (b *Build) Expand(s string) string {
	s = b.Env.Expand(s)
	return envvars.ReplaceMacro(s, envvars.MapLookup(b.Variables))
}

// Path resolves p against the workspace unless it is already absolute.
// isUnix selects the path rules of the node p lives on.
func (b *Build) Path(p string, isUnix bool) string {
	if b.Workspace == "" || isAbs(p, isUnix) {
		return p
	}
	if isUnix {
		return path.Join(b.Workspace, p)
	}
	return strings.TrimRight(b.Workspace, `\/`) + `\` + p
}

func isAbs(p string, isUnix bool) bool {
	if isUnix {
		return strings.HasPrefix(p, "/")
	}
	if strings.HasPrefix(p, `\`) || strings.HasPrefix(p, "/") {
		return true
	}
	return len(p) >= 3 && p[1] == ':' && (p[2] == '\\' || p[2] == '/')
}
