package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clusterdfs/dfscoord/dcoord/redirect"
	"github.com/clusterdfs/dfscoord/dcoord/store"
	"github.com/clusterdfs/dfscoord/internal/config"
)

func newRedirectCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redirect",
		Short: "Inspect or edit the logical-name redirection table",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "match <name>",
		Short: "Resolve a name against the redirection table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.New(cfg.StoreBackend, cfg.StoreRoot)
			if err != nil {
				return err
			}
			tbl := redirect.New(st)
			got, err := tbl.Match(context.Background(), args[0])
			if err != nil {
				return err
			}
			if got == nil {
				fmt.Println("no redirect")
				return nil
			}
			fmt.Println(got.Canonical)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <pattern> <replacement>",
		Short: "Append a redirection rule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.New(cfg.StoreBackend, cfg.StoreRoot)
			if err != nil {
				return err
			}
			tbl := redirect.New(st)
			return tbl.Update(context.Background(), -1, args[0], args[1])
		},
	})

	return cmd
}
