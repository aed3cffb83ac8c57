package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jwpark-dev/fmsportal/internal/config"
	"github.com/jwpark-dev/fmsportal/internal/difftool"
	"github.com/jwpark-dev/fmsportal/internal/refdata"
	"github.com/jwpark-dev/fmsportal/internal/server"
	"github.com/jwpark-dev/fmsportal/internal/store"
	"github.com/jwpark-dev/fmsportal/internal/syncer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the portal HTTP server and background sync scheduler",
	Long: `Start the portal: HTTP API, WebSocket event hub, branch catalog
watcher, and the scheduler that refreshes projects on their cadence.

Example usage:
  fmsportal serve
  fmsportal serve --config /etc/fmsportal/fmsportal.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cfg *config.Config) error {
	logOut := cfg.LogWriter()
	defer logOut.Close()
	logger := config.NewLogger(logOut, "[serve] ")

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := db.InitSchema(ctx); err != nil {
		return err
	}

	var catalog *refdata.Service
	if cfg.RefdataPath != "" {
		catalog, err = refdata.NewService(cfg.RefdataPath, config.NewLogger(logOut, "[refdata] "))
		if err != nil {
			return err
		}
		if err := catalog.Watch(); err != nil {
			return err
		}
		defer catalog.Stop()
	}

	runner := difftool.NewScriptRunner(cfg.Python, cfg.DiffScript, config.NewLogger(logOut, "[difftool] "))

	orch := syncer.New(db, runner, config.NewLogger(logOut, "[syncer] "))
	orch.Timeout = cfg.SyncTimeout

	hub := server.NewHub(config.NewLogger(logOut, "[hub] "))
	hub.Start()
	defer hub.Stop()
	orch.SetNotifier(hub)

	sched := syncer.NewScheduler(db, orch, config.NewLogger(logOut, "[scheduler] "))
	sched.Tick = cfg.SchedulerTick
	sched.Start(ctx)
	defer sched.Stop()

	srv := server.New(db, orch, catalog, hub, config.NewLogger(logOut, "[server] "))

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("Listening on %s", cfg.ListenAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Printf("Shutting down")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Printf("HTTP shutdown: %v", err)
	}

	// Let in-flight sync attempts settle their project status.
	orch.Wait()
	logger.Printf("Stopped")
	return nil
}
