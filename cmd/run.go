package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/sourceplane/msrun/internal/build"
	"github.com/sourceplane/msrun/internal/mstest"
	"github.com/sourceplane/msrun/internal/node"
)

type runOptions struct {
	workspace string
	node      string
	env       []string
	vars      []string
}

func newRunCommand(a *app) *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run",
		Short: mstest.DisplayName,
		Long: `Run MSTest against the given test containers.

Test files, the result file and extra arguments may reference environment
variables and build variables as $NAME or ${NAME}. Step flags default to
the run section of msrun.yaml.`,
		Example: `  msrun run --tool vs2019 --test-files "bin/Release/Core.Tests.dll" --result-file results.trx
  msrun run --node win-agent --workspace 'C:\build' --test-files '${PROJECT}.Tests.dll' --var PROJECT=Core`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx, cmd.OutOrStdout(), opts)
		},
	}

	f := runCmd.Flags()
	f.String("tool", "", "MSTest installation to use (default mstest.exe from the search path)")
	f.String("test-files", "", "whitespace separated test containers")
	f.String("categories", "", "test category filter")
	f.String("result-file", "", "result file, relative to the workspace")
	f.String("args", "", "additional MSTest arguments")
	for key, flag := range map[string]string{
		"run.tool":       "tool",
		"run.testFiles":  "test-files",
		"run.categories": "categories",
		"run.resultFile": "result-file",
		"run.args":       "args",
	} {
		_ = a.v.BindPFlag(key, f.Lookup(flag))
	}

	f.StringVarP(&opts.workspace, "workspace", "w", "", "workspace directory (default the working directory on the local node)")
	f.StringVar(&opts.node, "node", "", "node to run on (default local)")
	f.StringArrayVar(&opts.env, "env", nil, "environment variable `K=V` for the step, repeatable")
	f.StringArrayVar(&opts.vars, "var", nil, "build variable `K=V`, repeatable")

	return runCmd
}

func (a *app) run(ctx context.Context, out io.Writer, opts runOptions) error {
	env, err := parsePairs("--env", opts.env)
	if err != nil {
		return err
	}
	vars, err := parsePairs("--var", opts.vars)
	if err != nil {
		return err
	}

	nodeCfg, err := a.cfg.Node(opts.node)
	if err != nil {
		return err
	}
	n, err := node.New(nodeCfg)
	if err != nil {
		return err
	}
	if closer, ok := n.(io.Closer); ok {
		defer closer.Close()
	}

	workspace, err := resolveWorkspace(opts.workspace, nodeCfg)
	if err != nil {
		return err
	}

	reg, err := a.registry()
	if err != nil {
		return err
	}

	nodeEnv, err := n.Environment(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", mstest.ErrInterrupted, context.Cause(ctx))
		}
		return fmt.Errorf("failed to read environment of node %s: %w", n.Name(), err)
	}

	listener := build.NewListener(out)
	if a.opts.verbose {
		listener.Logger().SetLevel(log.DebugLevel)
	}
	bld := &build.Build{
		Workspace: workspace,
		Env:       nodeEnv.Overlay(map[string]string{"WORKSPACE": workspace}).Overlay(env),
		Variables: vars,
		Listener:  listener,
	}

	a.logger.Debug("running step", "node", n.Name(), "workspace", workspace, "tool", a.cfg.Run.ToolName)
	ok, err := mstest.NewBuilder(a.cfg.Run, reg).Perform(ctx, bld, n)
	if err != nil {
		return err
	}
	if !ok {
		return errStepFailed
	}
	return nil
}

// resolveWorkspace defaults the workspace to the working directory. Remote
// nodes have no such default.
func resolveWorkspace(workspace string, cfg node.Config) (string, error) {
	remote := strings.EqualFold(cfg.Type, node.TypeSSH)
	if workspace == "" {
		if remote {
			return "", fmt.Errorf("--workspace is required for node %s", cfg.Name)
		}
		return os.Getwd()
	}
	if remote {
		return workspace, nil
	}
	return filepath.Abs(workspace)
}

func parsePairs(flag string, pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, errors.New(flag + " expects K=V, got " + pair)
		}
		out[k] = v
	}
	return out, nil
}
