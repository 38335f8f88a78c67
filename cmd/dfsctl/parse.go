package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clusterdfs/dfscoord/lfn"
)

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <name>",
		Short: "Parse a logical file name and print its canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := lfn.Parse(args[0], nil)
			if err != nil {
				return err
			}
			fmt.Printf("canonical: %s\n", n.Canonical)
			fmt.Printf("tail: %s\n", n.Tail())
			fmt.Printf("external: %v\n", n.External)
			fmt.Printf("foreign: %v\n", n.Foreign)
			if n.Cluster != "" {
				fmt.Printf("cluster: %s\n", n.Cluster)
			}
			if n.IsMulti() {
				fmt.Printf("multi: %d entries\n", len(n.Multi))
				for _, c := range n.Multi {
					fmt.Printf("  - %s\n", c.Canonical)
				}
			}
			return nil
		},
	}
}
