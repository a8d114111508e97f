package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openfittrack/fitsync/internal/engine"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth, unsynced counts, and the pull watermark",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context())
		},
	}
}

func runStatus(ctx context.Context) error {
	env, err := buildEnv(false)
	if err != nil {
		return err
	}
	defer env.store.Close()

	entries, err := env.store.ListQueue(ctx)
	if err != nil {
		return err
	}

	byKind := make(map[string]int)
	for _, e := range entries {
		byKind[fmt.Sprintf("%s %s", e.Table, e.Action)]++
	}

	fmt.Printf("queued mutations: %d\n", len(entries))

	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}

	sort.Strings(kinds)

	for _, k := range kinds {
		fmt.Printf("  %-32s %d\n", k, byKind[k])
	}

	unsynced := 0

	for _, table := range engine.AllTables() {
		rows, listErr := env.store.ListUnsynced(ctx, table)
		if listErr != nil {
			return listErr
		}

		unsynced += len(rows)
	}

	fmt.Printf("unsynced records: %d\n", unsynced)

	identityKey := env.provider.UserID()
	if identityKey == "" {
		identityKey = "public"
	}

	watermark, err := env.cursors.Get(identityKey)
	if err != nil {
		return err
	}

	if watermark == "" {
		watermark = "(none, next pull fetches everything)"
	}

	fmt.Printf("identity:  %s\nwatermark: %s\n", identityKey, watermark)

	return nil
}
