// Copyright 2021 IBM Corp.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/relaypoint/filebroker/pkg/database"
	"github.com/relaypoint/filebroker/pkg/events"
	"github.com/relaypoint/filebroker/pkg/models"
	"gorm.io/gorm"
)

// ConfirmDownload records one recipient's confirmation. When the last
// outstanding recipient confirms, the transfer moves to
// AllConfirmedDownloaded exactly once, the pending expiry job is cancelled
// and the purge follow-up is enqueued immediately or after the grace period,
// per the resource's policy.
func (e *Engine) ConfirmDownload(ctx context.Context, transferID, recipient string) error {
	transfer, err := e.getTransfer(ctx, transferID)
	if err != nil {
		return err
	}
	if !transfer.IsRecipient(recipient) {
		return ErrNoAccess
	}

	current, err := e.Statuses.Current(ctx, nil, transferID)
	if err != nil {
		return errors.Wrap(err, "could not read current status")
	}

	switch current.Status {
	case models.StatusPublished:
		// confirmable
	case models.StatusInitialized, models.StatusUploadStarted:
		return ErrNotYetUploaded
	case models.StatusUploadProcessing:
		return ErrNotPublished
	case models.StatusAllConfirmedDownloaded:
		// only re-deliveries of an already confirmed recipient land here
		if e.recipientConfirmed(ctx, transferID, recipient) {
			return nil
		}
		return ErrNotPublished
	default:
		return ErrTransferNotAvailable
	}

	if e.recipientConfirmed(ctx, transferID, recipient) {
		// idempotent no-op, no duplicate DownloadConfirmed row
		return nil
	}

	resource, _, err := e.resolvePolicy(ctx, transfer.ResourceID)
	if err != nil {
		return err
	}

	return database.WithRetries(ctx, e.Log, e.DB, func(tx *gorm.DB) error {
		e.Events.Publish(ctx, events.DownloadConfirmed, transfer.ResourceID, transferID, recipient)
		e.Events.Publish(ctx, events.DownloadConfirmed, transfer.ResourceID, transferID, transfer.Sender)

		if err := e.Statuses.AppendActor(ctx, tx, transferID, recipient, models.ActorDownloadConfirmed); err != nil {
			return err
		}

		confirmed, err := e.Statuses.CurrentActors(ctx, tx, transferID)
		if err != nil {
			return err
		}
		for _, r := range transfer.Recipients {
			if confirmed[r.Actor].Rank() < models.ActorDownloadConfirmed.Rank() {
				return nil
			}
		}

		e.Events.Publish(ctx, events.AllConfirmedDownloaded, transfer.ResourceID, transferID, transfer.Sender)

		err = e.Statuses.Append(ctx, tx, transferID, models.StatusAllConfirmedDownloaded, "", time.Time{})
		if err != nil {
			if database.IsDuplicate(err) {
				// a concurrent confirmation already recorded the aggregate
				// transition and owns the follow-ups
				e.Log.Info("aggregate transition already recorded", "transfer", transferID)
				return nil
			}
			return err
		}

		if err := e.Jobs.Cancel(ctx, tx, transfer.JobID); err != nil {
			return err
		}

		job := expireJob{TransferID: transferID, Force: true, Reason: ReasonAllConfirmed}
		var jobID string
		if resource.PurgeAfterAllConfirmed {
			jobID, err = e.Jobs.EnqueueNow(ctx, tx, JobKindExpire, job)
		} else {
			jobID, err = e.Jobs.ScheduleAt(ctx, tx, JobKindExpire, job, time.Now().Add(e.gracePeriod(resource)))
		}
		if err != nil {
			return err
		}
		return e.Transfers.SetJobID(ctx, tx, transferID, jobID)
	})
}

func (e *Engine) recipientConfirmed(ctx context.Context, transferID, recipient string) bool {
	actorCurrent, err := e.Statuses.CurrentActor(ctx, transferID, recipient)
	if err != nil {
		return false
	}
	return actorCurrent.Status.Rank() >= models.ActorDownloadConfirmed.Rank()
}
