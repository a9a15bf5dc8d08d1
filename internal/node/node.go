// Package node provides the machines a build step runs on. A node answers
// filesystem questions about its own disks and launches processes there.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/sourceplane/msrun/internal/envvars"
)

// Node types accepted in configuration.
const (
	TypeLocal = "local"
	TypeSSH   = "ssh"
)

// Operating system families accepted in configuration.
const (
	OSUnix    = "unix"
	OSWindows = "windows"
)

var (
	ErrUnknownType = errors.New("unknown node type")
	ErrNoTarget    = errors.New("ssh node requires a target")
)

// Node is a machine that can run build steps.
type Node interface {
	// Name identifies the node in configuration and logs.
	Name() string
	// IsUnix reports whether the node uses Unix path and shell conventions.
	IsUnix() bool
	// Environment returns the node's own process environment.
	Environment(ctx context.Context) (envvars.EnvVars, error)
	// TranslateToolHome maps a tool's configured home to its location on
	// this node.
	TranslateToolHome(ctx context.Context, tool, home string) (string, error)
	// Exists reports whether path exists on the node.
	Exists(ctx context.Context, path string) (bool, error)
	// Delete removes the file at path.
	Delete(ctx context.Context, path string) error
	// Launch runs a process to completion and returns its exit code. A
	// non-zero exit is not an error.
	Launch(ctx context.Context, p Proc) (int, error)
}

// Proc describes a process to launch.
type Proc struct {
	Args   []string
	Env    envvars.EnvVars
	Dir    string
	Stdout io.Writer
}

// PathMapping rewrites a path prefix seen by the controller into the prefix
// the node sees.
type PathMapping struct {
	From string `mapstructure:"from" yaml:"from"`
	To   string `mapstructure:"to" yaml:"to"`
}

// Config describes a configured node.
type Config struct {
	Name string `mapstructure:"name" yaml:"name"`
	Type string `mapstructure:"type" yaml:"type"`
	// OS overrides the detected operating system family: "unix" or "windows".
	OS string `mapstructure:"os" yaml:"os"`

	// Target is "[user@]host[:port]" for ssh nodes.
	Target     string `mapstructure:"target" yaml:"target"`
	User       string `mapstructure:"user" yaml:"user"`
	KeyFile    string `mapstructure:"keyFile" yaml:"keyFile"`
	KnownHosts string `mapstructure:"knownHosts" yaml:"knownHosts"`

	// ToolLocations pins a tool name to a home on this node.
	ToolLocations map[string]string `mapstructure:"toolLocations" yaml:"toolLocations"`
	PathMappings  []PathMapping     `mapstructure:"pathMappings" yaml:"pathMappings"`
}

// New creates the node described by cfg. SSH nodes connect lazily.
func New(cfg Config) (Node, error) {
	switch strings.ToLower(cfg.Type) {
	case "", TypeLocal:
		return NewLocal(cfg), nil
	case TypeSSH:
		if cfg.Target == "" {
			return nil, fmt.Errorf("node %s: %w", cfg.Name, ErrNoTarget)
		}
		return NewSSH(cfg), nil
	default:
		return nil, fmt.Errorf("node %s: %w: %s", cfg.Name, ErrUnknownType, cfg.Type)
	}
}

func (c Config) isUnix() bool {
	switch strings.ToLower(c.OS) {
	case OSWindows:
		return false
	case OSUnix:
		return true
	}
	if strings.EqualFold(c.Type, TypeSSH) {
		return true
	}
	return runtime.GOOS != "windows"
}

// translateToolHome applies the node's pinned tool locations, then the
// first matching path mapping. Tool names match exactly before ignoring case.
func (c Config) translateToolHome(tool, home string) string {
	if loc, ok := c.ToolLocations[tool]; ok && loc != "" {
		return loc
	}
	// viper lower-cases map keys read from the config file
	for name, loc := range c.ToolLocations {
		if loc != "" && strings.EqualFold(name, tool) {
			return loc
		}
	}
	for _, m := range c.PathMappings {
		if m.From == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(home, m.From); ok {
			if !c.isUnix() {
				rest = strings.ReplaceAll(rest, "/", `\`)
			}
			return m.To + rest
		}
	}
	return home
}
