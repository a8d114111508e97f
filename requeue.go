package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue",
		Short: "Rebuild queue entries for unsynced local rows that lost theirs",
		Long: "Scans every table for records still marked unsynced that have no pending " +
			"queue entry and recreates the missing entries. Recovery for the rare case " +
			"where a local write reached the record cache but was never durably queued.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := buildEnv(false)
			if err != nil {
				return err
			}
			defer env.store.Close()

			n, err := env.engine.RequeueUnsynced(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("requeued %d entries\n", n)

			return nil
		},
	}
}
