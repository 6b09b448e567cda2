package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"charm.land/lipgloss/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/abhisek/studysync/internal/app"
	"github.com/abhisek/studysync/internal/study"
	"github.com/abhisek/studysync/internal/ui/components"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push buffered answers and parked sessions to the shared store",
	RunE:  runSync,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what is waiting to sync and the last run",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Reconciler.Status(cmd.Context())
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		lipgloss.Fprintln(cmd.OutOrStdout(), components.SyncStatus(st))
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("watch", false, "Keep running and sync on the configured schedule")
	syncCmd.Flags().String("schedule", "", "Cron schedule for --watch (default sync.schedule)")
	syncStatusCmd.Flags().Bool("json", false, "Print as JSON")
	syncCmd.AddCommand(syncStatusCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		schedule, _ := cmd.Flags().GetString("schedule")
		if schedule == "" {
			schedule = a.Config.Sync.Schedule
		}
		return watchSync(cmd.Context(), a, schedule)
	}

	sum, err := a.Reconciler.Reconcile(cmd.Context())
	lipgloss.Fprintln(cmd.OutOrStdout(), components.SyncSummary(sum))
	if study.IsUnavailable(err) {
		return fmt.Errorf("remote store unreachable; answers stay buffered: %w", err)
	}
	return err
}

// watchSync reconciles and purges on schedule until interrupted.
func watchSync(ctx context.Context, a *app.App, schedule string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := a.Log.With().Str("schedule", schedule).Logger()
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(schedule, func() {
		sum, err := a.Reconciler.Reconcile(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("scheduled sync failed")
			return
		}
		log.Info().
			Int("attempted", sum.Attempted).
			Int("succeeded", sum.Succeeded).
			Int("failed", sum.Failed).
			Int("sessions_pushed", sum.SessionsPushed).
			Msg("scheduled sync")

		if n, err := a.Reconciler.Purge(ctx, a.Config.Sync.PurgeAfter); err != nil {
			log.Warn().Err(err).Msg("purge synced answers")
		} else if n > 0 {
			log.Info().Int64("purged", n).Msg("purged synced answers")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	log.Info().Msg("watching for answers to sync")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
