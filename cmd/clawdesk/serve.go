package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/caam1406/clawdesk/pkg/agent"
	"github.com/caam1406/clawdesk/pkg/bus"
	"github.com/caam1406/clawdesk/pkg/dashboard"
	"github.com/caam1406/clawdesk/pkg/kv"
	"github.com/caam1406/clawdesk/pkg/logger"
	"github.com/caam1406/clawdesk/pkg/signup"
	"github.com/caam1406/clawdesk/pkg/storage"
	"github.com/caam1406/clawdesk/pkg/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard API, the agent loop and the storage pruner",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if token, created, err := cfg.EnsureDashboardToken(); err != nil {
		return fmt.Errorf("generate dashboard token: %w", err)
	} else if created {
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Dashboard token: %s\n", token)
	}

	snapshot := cfg.Clone()

	store, err := openStorage(ctx, snapshot.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	var recorder signup.Recorder
	if sessions := kv.Connect(snapshot.KV, cfg.SessionTTL()); sessions != nil {
		defer sessions.Close()
		recorder = sessions
	}

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	client := stream.NewClientFromConfig(ctx, cfg)
	loop := agent.NewLoop(client, store.Conversations(), msgBus, cfg.DefaultAgentID())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return loop.Run(ctx) })

	if snapshot.Storage.RetentionDays > 0 {
		retention := time.Duration(snapshot.Storage.RetentionDays) * 24 * time.Hour
		pruner, err := storage.NewPruner(store.Conversations(), snapshot.Storage.PruneSchedule, retention, nil)
		if err != nil {
			return err
		}
		g.Go(func() error { return pruner.Run(ctx) })
	}

	if snapshot.Dashboard.Enabled {
		srv := dashboard.NewServer(cfg, msgBus, loop, store, recorder)
		g.Go(func() error { return srv.Run(ctx) })
	} else {
		logger.InfoC("serve", "Dashboard disabled; consuming inbound work only")
	}

	logger.InfoCF("serve", "ClawDesk started", map[string]interface{}{
		"version":   version,
		"storage":   snapshot.Storage.Type,
		"api":       snapshot.API.BaseURL,
		"dashboard": snapshot.Dashboard.Enabled,
		"redis":     recorder != nil,
	})

	err = g.Wait()
	logger.InfoC("serve", "ClawDesk stopped")
	return err
}
