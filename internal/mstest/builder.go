// Package mstest runs MSTest as a build step: it locates the configured
// installation, assembles the MSTest command line, runs it on a node and
// turns the exit code into a pass/fail result.
package mstest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sourceplane/msrun/internal/build"
	"github.com/sourceplane/msrun/internal/cmdline"
	"github.com/sourceplane/msrun/internal/node"
	"github.com/sourceplane/msrun/internal/runtime"
)

// DisplayName describes the build step.
const DisplayName = "Run unit tests with MSTest"

// DefaultExecutable is run from the search path when no installation is
// configured.
const DefaultExecutable = "mstest.exe"

// ErrInterrupted marks a step that stopped because the build was canceled.
var ErrInterrupted = errors.New("build step interrupted")

var lineBreaks = regexp.MustCompile(`[\t\r\n]+`)

// Config is the configuration of one MSTest build step.
type Config struct {
	// ToolName selects an installation; empty means DefaultExecutable.
	ToolName string `mapstructure:"tool" yaml:"tool"`
	// TestFiles is a whitespace separated list of test containers.
	TestFiles string `mapstructure:"testFiles" yaml:"testFiles"`
	// Categories is an MSTest category filter expression.
	Categories string `mapstructure:"categories" yaml:"categories"`
	// ResultFile is where MSTest writes its .trx report.
	ResultFile string `mapstructure:"resultFile" yaml:"resultFile"`
	// ExtraArgs are additional MSTest arguments; line breaks are allowed.
	ExtraArgs string `mapstructure:"args" yaml:"args"`
}

// InstallationSource supplies the configured installations.
type InstallationSource interface {
	Installations() []runtime.ToolInstallation
}

// Builder is an MSTest build step.
type Builder struct {
	cfg           Config
	installations InstallationSource
}

// NewBuilder creates a build step reading installations from src.
func NewBuilder(cfg Config, src InstallationSource) *Builder {
	return &Builder{cfg: cfg, installations: src}
}

// Installation returns the installation the step is configured to use.
func (b *Builder) Installation() (runtime.ToolInstallation, bool) {
	if b.installations == nil {
		return runtime.ToolInstallation{}, false
	}
	return runtime.Resolve(b.cfg.ToolName, b.installations.Installations())
}

// Perform runs the step on n. Every failure is reported to the build log
// and returned as false; the error is only set when ctx was canceled, and
// then wraps ErrInterrupted.
func (b *Builder) Perform(ctx context.Context, bld *build.Build, n node.Node) (bool, error) {
	listener := bld.Listener

	args, ok, err := b.resolveExecutable(ctx, bld, n)
	if err != nil || !ok {
		return false, err
	}

	if strings.TrimSpace(b.cfg.ResultFile) == "" {
		listener.FatalError("Result file name was not specified")
		return false, nil
	}
	if strings.TrimSpace(b.cfg.TestFiles) == "" {
		listener.FatalError("No test files are specified")
		return false, nil
	}

	if ok, err := b.deleteResultFile(ctx, bld, n); err != nil || !ok {
		return false, err
	}

	containers := b.appendArguments(args, bld)
	if containers == 0 {
		listener.FatalError("No test files are specified", "testFiles", b.cfg.TestFiles)
		return false, nil
	}

	if !n.IsUnix() {
		args.Prepend("cmd.exe", "/C")
		args.Add("&&", "exit", "%%ERRORLEVEL%%")
	}

	listener.Printf("Executing command: %s", args.String())
	code, err := n.Launch(ctx, node.Proc{
		Args:   args.Args(),
		Env:    bld.Env,
		Dir:    bld.Workspace,
		Stdout: listener.Writer(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, interrupted(ctx)
		}
		listener.FatalError("MSTest command execution failed", "err", err)
		return false, nil
	}
	if code != 0 {
		listener.Printf("MSTest exited with code %d", code)
	}
	return code == 0, nil
}

// BuildCommand assembles the command Perform would launch, without
// touching the node's filesystem. It is the part of Perform that dry runs
// and tests need.
func (b *Builder) BuildCommand(execPath, defaultArgs string, bld *build.Build, isUnix bool) []string {
	var args cmdline.ArgumentList
	args.Add(execPath)
	if defaultArgs != "" {
		args.AddTokenized(defaultArgs)
	}
	b.appendArguments(&args, bld)
	if !isUnix {
		args.Prepend("cmd.exe", "/C")
		args.Add("&&", "exit", "%%ERRORLEVEL%%")
	}
	return args.Args()
}

func (b *Builder) resolveExecutable(ctx context.Context, bld *build.Build, n node.Node) (*cmdline.ArgumentList, bool, error) {
	listener := bld.Listener
	args := &cmdline.ArgumentList{}

	inst, found := b.Installation()
	if !found {
		if b.cfg.ToolName != "" {
			listener.Debugf("No MSTest installation named %s", b.cfg.ToolName)
		}
		listener.Printf("Path To MSTest.exe: %s", DefaultExecutable)
		args.Add(DefaultExecutable)
		return args, true, nil
	}

	inst, err := inst.ForNode(ctx, n, listener)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, interrupted(ctx)
		}
		listener.FatalError("Failed to locate MSTest installation", "tool", b.cfg.ToolName, "err", err)
		return nil, false, nil
	}
	inst = inst.ForEnvironment(bld.Env)

	execPath := inst.Home
	exists, err := n.Exists(ctx, execPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, interrupted(ctx)
		}
		listener.FatalError("Failed checking for existence of "+execPath, "err", err)
		return nil, false, nil
	}
	if !exists {
		listener.FatalError(execPath + " doesn't exist")
		return nil, false, nil
	}

	listener.Printf("Path To MSTest.exe: %s", execPath)
	args.Add(execPath)
	if inst.DefaultArgs != "" {
		args.AddTokenized(inst.DefaultArgs)
	}
	return args, true, nil
}

func (b *Builder) deleteResultFile(ctx context.Context, bld *build.Build, n node.Node) (bool, error) {
	listener := bld.Listener
	path := bld.Path(b.cfg.ResultFile, n.IsUnix())

	exists, err := n.Exists(ctx, path)
	if err == nil && !exists {
		return true, nil
	}
	if err == nil {
		listener.Printf("Delete old result file %s", path)
		err = n.Delete(ctx, path)
	}
	if err != nil {
		listener.FatalError("Fail to delete old result file", "path", path, "err", err)
		if ctx.Err() != nil {
			return false, interrupted(ctx)
		}
		return false, nil
	}
	return true, nil
}

// appendArguments adds everything after the executable and its default
// arguments, returning the number of test containers added.
func (b *Builder) appendArguments(args *cmdline.ArgumentList, bld *build.Build) int {
	args.Add("/resultsfile:" + b.cfg.ResultFile)

	// Always use noisolation flag
	args.Add("/noisolation")

	extra := lineBreaks.ReplaceAllString(b.cfg.ExtraArgs, " ")
	extra = bld.Expand(extra)
	if strings.TrimSpace(extra) != "" {
		args.AddTokenized(extra)
	}

	if categories := strings.TrimSpace(b.cfg.Categories); categories != "" {
		args.Add("/category:" + categories)
	}

	containers := 0
	for _, testFile := range strings.FieldsFunc(b.cfg.TestFiles, isTestFileSeparator) {
		testFile = bld.Expand(testFile)
		if testFile != "" {
			args.Add("/testcontainer:" + testFile)
			containers++
		}
	}
	return containers
}

func isTestFileSeparator(r rune) bool {
	return r == ' ' || r == '\t' || r == '\r' || r == '\n'
}

func interrupted(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx))
}
