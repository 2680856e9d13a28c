package batch

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dotabod/billing/internal/pkg/billing"
)

// Scheduler runs the grace-period downgrade on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	repo     billing.Repository
	schedule string
	entryID  cron.EntryID
}

// NewScheduler creates a scheduler. The schedule is a standard 5-field cron
// expression, e.g. "15 3 * * *" for a nightly run.
func NewScheduler(repo billing.Repository, schedule string) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		repo:     repo,
		schedule: schedule,
	}
}

// Start registers the downgrade job and starts the cron loop.
func (s *Scheduler) Start() error {
	entryID, err := s.cron.AddFunc(s.schedule, s.runDowngrade)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}
	s.entryID = entryID

	s.cron.Start()
	log.Printf("reconciliation scheduler started, schedule %q", s.schedule)
	return nil
}

// Stop halts the cron loop. Running jobs finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		log.Print("reconciliation scheduler stopped")
	}
}

// NextRun returns the next scheduled run time, zero when not started.
func (s *Scheduler) NextRun() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) runDowngrade() {
	started := time.Now()
	report, err := DowngradeExpiredGrace(s.repo, started)
	if err != nil {
		log.Printf("scheduled grace downgrade failed after %d changes: %v", report.Changed, err)
		return
	}
	log.Printf("scheduled grace downgrade done in %s: scanned=%d changed=%d skipped=%d",
		time.Since(started).Round(time.Millisecond), report.Scanned, report.Changed, report.Skipped)
}
