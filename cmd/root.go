package cmd

import (
	"errors"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sourceplane/msrun/internal/config"
	"github.com/sourceplane/msrun/internal/runtime"
)

var version = "dev"

// errStepFailed is returned by run when the tests ran but did not pass.
var errStepFailed = errors.New("build step failed")

type rootOptions struct {
	configFile string
	home       string
	verbose    bool
}

// app is the state shared by all commands of one invocation.
type app struct {
	opts   rootOptions
	v      *viper.Viper
	cfg    *config.Config
	logger *log.Logger
}

// NewRootCommand builds the msrun command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: config.New()}

	rootCmd := &cobra.Command{
		Use:   "msrun",
		Short: "Run MSTest unit tests on local and remote nodes",
		Long: `msrun runs MSTest as a build step.
It resolves a named MSTest installation for the node the step runs on,
assembles the MSTest command line and reports the outcome through its
exit code.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	rootCmd.Version = version
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.opts.configFile, "config", "", "config file (default msrun.yaml in $MSRUN_HOME or the working directory)")
	flags.StringVar(&a.opts.home, "home", "", "directory holding the registry and downloaded tools (default $MSRUN_HOME or ~/.msrun)")
	flags.BoolVarP(&a.opts.verbose, "verbose", "v", false, "enable debug logging")
	_ = a.v.BindPFlag("home", flags.Lookup("home"))

	rootCmd.AddCommand(newRunCommand(a))
	rootCmd.AddCommand(newToolCommand(a))
	rootCmd.AddCommand(newNodeCommand(a))
	return rootCmd
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	a.logger = log.NewWithOptions(cmd.ErrOrStderr(), log.Options{Prefix: config.AppName})
	if a.opts.verbose {
		a.logger.SetLevel(log.DebugLevel)
	}

	if home := a.v.GetString("home"); home != "" && home != os.Getenv("MSRUN_HOME") {
		if err := os.Setenv("MSRUN_HOME", home); err != nil {
			return err
		}
	}

	used, err := config.Read(a.v, a.opts.configFile)
	if err != nil {
		return err
	}
	if used != "" {
		a.logger.Debug("loaded config", "path", used)
	}

	a.cfg, err = config.Decode(a.v)
	if err != nil {
		return err
	}
	a.logger.Debug("using home", "path", runtime.MsrunHome())
	return nil
}

func (a *app) registry() (*runtime.Registry, error) {
	return runtime.LoadRegistry(a.cfg.RegistryPath())
}
