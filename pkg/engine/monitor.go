package engine

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/relaypoint/filebroker/pkg/models"
)

// CheckStuckTransfers raises an operational alert for every transfer wedged
// in UploadProcessing longer than the threshold. Read-only; no state is
// mutated.
func (e *Engine) CheckStuckTransfers(ctx context.Context) error {
	cutoff := time.Now().Add(-e.stuckThreshold())

	stuck, err := e.Statuses.ListCurrentOlderThan(ctx, models.StatusUploadProcessing, cutoff)
	if err != nil {
		return errors.Wrap(err, "could not query stuck transfers")
	}

	for _, row := range stuck {
		e.Notifier.Alert(ctx, "transfer stuck in upload processing", map[string]string{
			"transfer": row.TransferID,
			"since":    row.Timestamp.Format(time.RFC3339),
		})
	}

	if len(stuck) > 0 {
		e.Log.Info("stuck transfers reported", "count", len(stuck))
	}
	return nil
}
