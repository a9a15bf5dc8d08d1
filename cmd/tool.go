package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sourceplane/msrun/internal/runtime"
)

func newToolCommand(a *app) *cobra.Command {
	toolCmd := &cobra.Command{
		Use:     "tool",
		Aliases: []string{"tools"},
		Short:   "Manage MSTest installations",
	}
	toolCmd.AddCommand(newToolListCommand(a))
	toolCmd.AddCommand(newToolAddCommand(a))
	toolCmd.AddCommand(newToolRemoveCommand(a))
	toolCmd.AddCommand(newToolInstallCommand(a))
	return toolCmd
}

func newToolListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List MSTest installations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}

			installations := reg.Installations()
			if len(installations) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No installations configured")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tHOME\tDEFAULT ARGS")
			for _, inst := range installations {
				fmt.Fprintf(w, "%s\t%s\t%s\n", inst.Name, inst.Home, inst.DefaultArgs)
			}
			return w.Flush()
		},
	}
}

func newToolAddCommand(a *app) *cobra.Command {
	var defaultArgs string

	addCmd := &cobra.Command{
		Use:   "add <name> <home>",
		Short: "Register an MSTest installation",
		Long: `Register an MSTest installation.

home is the path to the MSTest executable. It may reference environment
variables of the node as $NAME, ${NAME} or %NAME%.`,
		Example: `  msrun tool add vs2019 '%VS160COMNTOOLS%\..\IDE\MSTest.exe' --default-args /nologo`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			if err := reg.Put(runtime.NewToolInstallation(args[0], args[1], defaultArgs)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Added installation %s\n", args[0])
			return nil
		},
	}
	addCmd.Flags().StringVar(&defaultArgs, "default-args", "", "arguments passed to every invocation of this installation")
	return addCmd
}

func newToolRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove an MSTest installation",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			if err := reg.Remove(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed installation %s\n", args[0])
			return nil
		},
	}
}
