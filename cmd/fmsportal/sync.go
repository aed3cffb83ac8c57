package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jwpark-dev/fmsportal/internal/config"
	"github.com/jwpark-dev/fmsportal/internal/difftool"
	"github.com/jwpark-dev/fmsportal/internal/store"
	"github.com/jwpark-dev/fmsportal/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync <project-id>",
	Short: "Run one sync attempt for a project and wait for it to finish",
	Long: `Run the diff tool for a single project, reconcile the output against
its stored key reviews, and report the resulting project status.

Useful for triggering a refresh outside the schedule, or from cron.

Example usage:
  fmsportal sync 42`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid project id %q", args[0])
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return runSync(cfg, projectID)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cfg *config.Config, projectID int64) error {
	logOut := cfg.LogWriter()
	defer logOut.Close()

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.InitSchema(ctx); err != nil {
		return err
	}

	runner := difftool.NewScriptRunner(cfg.Python, cfg.DiffScript, config.NewLogger(logOut, "[difftool] "))
	orch := syncer.New(db, runner, config.NewLogger(logOut, "[syncer] "))
	orch.Timeout = cfg.SyncTimeout

	if err := orch.Refresh(ctx, projectID); err != nil {
		if errors.Is(err, syncer.ErrSyncInFlight) {
			return fmt.Errorf("project %d is already syncing", projectID)
		}
		return err
	}
	orch.Wait()

	p, err := db.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	fmt.Printf("Project %d (%s): %s\n", p.ID, p.Title, p.Status)
	return nil
}
