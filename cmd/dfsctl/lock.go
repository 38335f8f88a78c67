package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/clusterdfs/dfscoord/dcoord/dlock"
	"github.com/clusterdfs/dfscoord/dcoord/store"
	"github.com/clusterdfs/dfscoord/internal/config"
	"github.com/clusterdfs/dfscoord/session"
)

func newLockCmd(cfg *config.Config) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "lock <name>",
		Short: "Acquire a named mutex, print confirmation, then release it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.New(cfg.StoreBackend, cfg.StoreRoot)
			if err != nil {
				return err
			}
			m := dlock.New(st, args[0], session.NewManager())
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := m.Acquire(ctx, timeout, nil); err != nil {
				return err
			}
			fmt.Printf("acquired %q\n", args[0])
			return m.Release()
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall acquire timeout")
	return cmd
}
