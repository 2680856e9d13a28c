package billing

import (
	"context"
	"errors"
	"time"

	"github.com/dotabod/billing/app/models"
	"gorm.io/gorm"
)

// ProcessEventIdempotently runs handler at most once for a given provider
// event ID. The ledger check, the ledger insert and the handler's mutations
// share one transaction; a concurrent delivery losing the insert race is
// treated as already-processed. When the handler fails, the ledger row is
// removed so the provider's retry is not swallowed by a stale marker, and the
// error is returned for the caller to surface as a 5xx.
//
// The returned bool reports whether the handler actually ran.
func ProcessEventIdempotently(ctx context.Context, repo Repository, provider, eventID, eventType string, handler func(Repository) error) (bool, error) {
	_ = ctx
	duplicate := false
	inserted := false

	err := repo.Transaction(func(tx Repository) error {
		if _, err := tx.GetWebhookEvent(provider, eventID); err == nil {
			duplicate = true
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now()
		event := &models.WebhookEvent{
			Provider:        provider,
			ProviderEventID: eventID,
			EventType:       eventType,
			ProcessedAt:     &now,
		}
		if err := tx.CreateWebhookEvent(event); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				duplicate = true
				return nil
			}
			return err
		}
		inserted = true

		return handler(tx)
	})
	if err != nil {
		// Only the marker inserted by THIS delivery may be cleaned up. A
		// transient error before the insert must never touch a marker a
		// previous delivery committed, or its retry would re-run the handler.
		// The rollback already discards the row; this covers the window where
		// the insert was durable outside the same atomic statement.
		if inserted {
			_ = repo.DeleteWebhookEvent(provider, eventID)
		}
		return false, err
	}

	return !duplicate, nil
}
