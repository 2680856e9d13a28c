package batch

import (
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/dotabod/billing/app/models"
	"github.com/dotabod/billing/internal/pkg/billing"
)

const userPageSize = 500

// JobReport summarizes a batch run.
type JobReport struct {
	Scanned int
	Changed int
	Skipped int
}

// GrantAllPro upserts every user's subscription to PRO/ACTIVE with the grace
// cutoff as the period end. Lifetime rows and rows tied to a live provider
// subscription keep their current state.
func GrantAllPro(repo billing.Repository, gracePeriodEnd time.Time) (JobReport, error) {
	var report JobReport

	for offset := 0; ; offset += userPageSize {
		ids, err := repo.ListUserIDs(offset, userPageSize)
		if err != nil {
			return report, err
		}
		if len(ids) == 0 {
			break
		}

		for _, userID := range ids {
			report.Scanned++
			if err := grantProForUser(repo, userID, gracePeriodEnd, &report); err != nil {
				log.Printf("grant-all-pro: user %d failed: %v", userID, err)
				return report, err
			}
		}
		if len(ids) < userPageSize {
			break
		}
	}

	return report, nil
}

func grantProForUser(repo billing.Repository, userID uint, gracePeriodEnd time.Time, report *JobReport) error {
	return repo.Transaction(func(tx billing.Repository) error {
		sub, err := tx.GetSubscriptionByUserID(userID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			sub = &models.Subscription{UserID: userID}
		}

		if sub.IsLifetime() || sub.HasPaidLink() {
			report.Skipped++
			return nil
		}

		// Extend to the cutoff, never shorten an entitlement that already
		// runs past it (e.g. a multi-month gift grant).
		end := gracePeriodEnd
		if sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(end) {
			end = *sub.CurrentPeriodEnd
		}
		sub.Tier = models.TierPro
		sub.Status = models.SubscriptionStatusActive
		sub.CurrentPeriodEnd = &end
		if sub.TransactionType == "" {
			sub.TransactionType = models.TransactionTypeRecurring
		}

		if err := tx.UpsertSubscription(sub); err != nil {
			return err
		}
		report.Changed++
		return nil
	})
}

// DowngradeExpiredGrace sets FREE/CANCELED on subscriptions whose only
// entitlement was a grace grant that has now passed. The repository query
// already excludes lifetime rows and rows with a live provider subscription;
// the lifetime guard here is a second gate so a widened query can never
// downgrade a lifetime grant.
func DowngradeExpiredGrace(repo billing.Repository, now time.Time) (JobReport, error) {
	var report JobReport

	expired, err := repo.ListExpiredGraceSubscriptions(now)
	if err != nil {
		return report, err
	}

	for i := range expired {
		sub := expired[i]
		report.Scanned++

		if sub.IsLifetime() || sub.HasPaidLink() {
			report.Skipped++
			continue
		}
		if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Before(now) {
			report.Skipped++
			continue
		}

		sub.Tier = models.TierFree
		sub.Status = models.SubscriptionStatusCanceled
		if err := repo.UpsertSubscription(&sub); err != nil {
			log.Printf("downgrade-grace: user %d failed: %v", sub.UserID, err)
			return report, err
		}
		report.Changed++
	}

	return report, nil
}
