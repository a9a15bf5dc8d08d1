package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sourceplane/msrun/internal/runtime"
)

func newToolInstallCommand(a *app) *cobra.Command {
	var opts runtime.PullOptions

	installCmd := &cobra.Command{
		Use:   "install <name> <image-ref>",
		Short: "Install an MSTest package from an OCI image",
		Long: `Install a packaged MSTest installation from an OCI registry and
register it under name. An existing installation of that name is replaced.

The registry password may also be given as MSRUN_REGISTRY_PASSWORD.

Example:
  msrun tool install vs2019 ghcr.io/acme/mstest:16.11`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			imageRef := args[1]

			if opts.Password == "" {
				opts.Password = os.Getenv("MSRUN_REGISTRY_PASSWORD")
			}
			opts.Logger = a.logger

			reg, err := a.registry()
			if err != nil {
				return err
			}

			inst, err := runtime.PullToolOCI(cmd.Context(), imageRef, name, opts)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ Failed to install tool: %v\n", err)
				return err
			}
			if err := reg.Replace(inst); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Tool %s installed from %s\n", name, imageRef)
			return nil
		},
	}

	f := installCmd.Flags()
	f.BoolVar(&opts.PlainHTTP, "plain-http", false, "use HTTP instead of HTTPS for the registry")
	f.StringVarP(&opts.Username, "username", "u", "", "registry username")
	f.StringVarP(&opts.Password, "password", "p", "", "registry password")
	return installCmd
}
