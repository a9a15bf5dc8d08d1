package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/sourceplane/msrun/internal/build"
	"github.com/sourceplane/msrun/internal/envvars"
	"github.com/sourceplane/msrun/internal/node"
)

// ToolInstallation is a named MSTest installation. Home is the path to the
// MSTest executable and may reference environment variables.
//
// Values are never modified in place: ForNode and ForEnvironment return
// specialized copies.
type ToolInstallation struct {
	Name        string `yaml:"name"`
	Home        string `yaml:"home"`
	DefaultArgs string `yaml:"defaultArgs,omitempty"`
}

// NewToolInstallation creates an installation, dropping blank default args.
func NewToolInstallation(name, home, defaultArgs string) ToolInstallation {
	if strings.TrimSpace(defaultArgs) == "" {
		defaultArgs = ""
	}
	return ToolInstallation{Name: name, Home: home, DefaultArgs: defaultArgs}
}

// Resolve returns the first installation named name. An empty name never
// matches.
func Resolve(name string, installations []ToolInstallation) (ToolInstallation, bool) {
	if name == "" {
		return ToolInstallation{}, false
	}
	for _, inst := range installations {
		if inst.Name == name {
			return inst, true
		}
	}
	return ToolInstallation{}, false
}

// ForNode returns a copy whose Home is the location of the tool on n.
func (t ToolInstallation) ForNode(ctx context.Context, n node.Node, listener *build.Listener) (ToolInstallation, error) {
	home, err := n.TranslateToolHome(ctx, t.Name, t.Home)
	if err != nil {
		return ToolInstallation{}, fmt.Errorf("failed to locate %s on node %s: %w", t.Name, n.Name(), err)
	}
	if home != t.Home && listener != nil {
		listener.Printf("Using %s for %s on node %s", home, t.Name, n.Name())
	}
	return NewToolInstallation(t.Name, home, t.DefaultArgs), nil
}

// ForEnvironment returns a copy whose Home has variable references
// expanded against env.
func (t ToolInstallation) ForEnvironment(env envvars.EnvVars) ToolInstallation {
	return NewToolInstallation(t.Name, env.ExpandPath(t.Home), t.DefaultArgs)
}
