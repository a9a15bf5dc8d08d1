package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/sourceplane/msrun/internal/envvars"
)

// Local is the machine msrun itself runs on.
type Local struct {
	cfg Config
}

// NewLocal creates a local node.
func NewLocal(cfg Config) *Local {
	if cfg.Name == "" {
		cfg.Name = "local"
	}
	return &Local{cfg: cfg}
}

func (n *Local) Name() string { return n.cfg.Name }

func (n *Local) IsUnix() bool { return n.cfg.isUnix() }

func (n *Local) Environment(ctx context.Context) (envvars.EnvVars, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return envvars.FromEnviron(os.Environ()), nil
}

func (n *Local) TranslateToolHome(ctx context.Context, tool, home string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return n.cfg.translateToolHome(tool, home), nil
}

func (n *Local) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (n *Local) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (n *Local) Launch(ctx context.Context, p Proc) (int, error) {
	if len(p.Args) == 0 {
		return -1, errors.New("empty command")
	}

	// #nosec G204 - arguments are assembled by the build step
	cmd := exec.CommandContext(ctx, p.Args[0], p.Args[1:]...)
	cmd.Dir = p.Dir
	if p.Env != nil {
		cmd.Env = p.Env.Slice()
	}
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stdout

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, fmt.Errorf("failed to launch %s: %w", p.Args[0], err)
	}
	return cmd.ProcessState.ExitCode(), nil
}
