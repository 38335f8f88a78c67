// Command dfsctl is a small operator CLI over the logical-file-name and
// coordination-store packages: parse/render names, inspect and edit the
// redirection table, and take/drop named locks, against either an
// in-memory store or a bbolt-backed one.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clusterdfs/dfscoord/internal/config"

	_ "github.com/clusterdfs/dfscoord/dcoord/store/bolt"
	_ "github.com/clusterdfs/dfscoord/dcoord/store/mem"
)

func main() {
	cfg := config.Default()
	root := &cobra.Command{
		Use:           "dfsctl",
		Short:         "Inspect and operate a logical-file-name coordination store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.Apply()
		},
	}
	cfg.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newParseCmd(),
		newRedirectCmd(cfg),
		newLockCmd(cfg),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dfsctl:", err)
		os.Exit(1)
	}
}
