package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotabod/billing/internal/pkg/batch"
	"github.com/dotabod/billing/internal/pkg/billing"
	"github.com/dotabod/billing/internal/pkg/database"
	"github.com/dotabod/billing/internal/pkg/env"
)

var rootCmd = &cobra.Command{
	Use:   "billing-admin",
	Short: "Dotabod billing maintenance jobs",
	Long:  "Maintenance CLI for the Dotabod billing service: bulk grace grants, grace-period downgrades and the nightly reconciliation daemon.",
}

var graceDays int

var grantAllProCmd = &cobra.Command{
	Use:   "grant-all-pro",
	Short: "Grant every user PRO access until the grace cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo := setupRepository()
		cutoff := time.Now().AddDate(0, 0, graceDays)
		report, err := batch.GrantAllPro(repo, cutoff)
		if err != nil {
			return fmt.Errorf("grant-all-pro: %w", err)
		}
		log.Printf("grant-all-pro done: scanned=%d changed=%d skipped=%d cutoff=%s",
			report.Scanned, report.Changed, report.Skipped, cutoff.Format(time.RFC3339))
		return nil
	},
}

var downgradeGraceCmd = &cobra.Command{
	Use:   "downgrade-grace-period",
	Short: "Downgrade subscriptions whose grace grant has expired",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo := setupRepository()
		report, err := batch.DowngradeExpiredGrace(repo, time.Now())
		if err != nil {
			return fmt.Errorf("downgrade-grace-period: %w", err)
		}
		log.Printf("downgrade-grace-period done: scanned=%d changed=%d skipped=%d",
			report.Scanned, report.Changed, report.Skipped)
		return nil
	},
}

var reconcileSchedule string

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run the nightly grace-period downgrade as a daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo := setupRepository()
		scheduler := batch.NewScheduler(repo, reconcileSchedule)
		if err := scheduler.Start(); err != nil {
			return err
		}
		log.Printf("next run at %s", scheduler.NextRun().Format(time.RFC3339))

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Print("shutdown signal received")
		scheduler.Stop()
		return nil
	},
}

func setupRepository() billing.Repository {
	env.SetupEnvFile()
	database.SetupDatabase()
	return billing.NewRepository(database.GetDB())
}

func init() {
	grantAllProCmd.Flags().IntVar(&graceDays, "grace-days", 30, "days of PRO access to grant")
	reconcileCmd.Flags().StringVar(&reconcileSchedule, "schedule", "15 3 * * *", "cron schedule for the downgrade job")

	rootCmd.AddCommand(grantAllProCmd)
	rootCmd.AddCommand(downgradeGraceCmd)
	rootCmd.AddCommand(reconcileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
