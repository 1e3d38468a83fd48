package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/golnet1/majordomo-bridge/internal/infrastructure/logging"
)

// pruneTimeout bounds the daily retention delete.
const pruneTimeout = time.Minute

// RegisterRetention schedules a daily prune of records older than
// retentionDays on the given cron instance. A non-positive retention
// disables pruning.
func RegisterRetention(c *cron.Cron, repo Repository, retentionDays int, logger *logging.Logger) error {
	if retentionDays <= 0 {
		return nil
	}

	log := logger.With("component", "audit_retention")

	_, err := c.AddFunc("@daily", func() {
		ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
		defer cancel()

		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		n, err := repo.Prune(ctx, cutoff)
		if err != nil {
			log.Error("pruning audit log", "error", err)
			return
		}
		if n > 0 {
			log.Info("pruned audit records", "deleted", n, "older_than", cutoff.Format(time.RFC3339))
		}
	})
	return err
}
