package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/caam1406/clawdesk/pkg/storage"
)

var pruneDays int

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete conversation events older than the retention window",
	RunE:  runPrune,
}

func init() {
	pruneCmd.Flags().IntVar(&pruneDays, "older-than-days", 0, "retention in days (defaults to storage.retention_days)")
}

func runPrune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sc := cfg.Clone().Storage

	days := pruneDays
	if days <= 0 {
		days = sc.RetentionDays
	}
	if days <= 0 {
		return fmt.Errorf("retention is disabled; pass --older-than-days")
	}

	schedule := sc.PruneSchedule
	if schedule == "" {
		schedule = "@daily"
	}

	store, err := openStorage(ctx, sc)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	pruner, err := storage.NewPruner(store.Conversations(), schedule, time.Duration(days)*24*time.Hour, nil)
	if err != nil {
		return err
	}
	n, err := pruner.PruneOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d events older than %d days\n", n, days)
	return nil
}
