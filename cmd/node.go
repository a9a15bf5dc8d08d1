package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sourceplane/msrun/internal/node"
)

func newNodeCommand(a *app) *cobra.Command {
	nodeCmd := &cobra.Command{
		Use:     "node",
		Aliases: []string{"nodes"},
		Short:   "Inspect configured nodes",
	}
	nodeCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the nodes steps can run on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes := a.cfg.Nodes
			if !hasNode(nodes, node.TypeLocal) {
				local, _ := a.cfg.Node(node.TypeLocal)
				nodes = append([]node.Config{local}, nodes...)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tOS\tTARGET")
			for _, n := range nodes {
				typ := n.Type
				if typ == "" {
					typ = node.TypeLocal
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.Name, typ, nodeOS(n), n.Target)
			}
			return w.Flush()
		},
	})
	return nodeCmd
}

func hasNode(nodes []node.Config, name string) bool {
	for _, n := range nodes {
		if n.Name == name {
			return true
		}
	}
	return false
}

func nodeOS(cfg node.Config) string {
	n, err := node.New(cfg)
	if err != nil {
		return "?"
	}
	if n.IsUnix() {
		return node.OSUnix
	}
	return node.OSWindows
}
