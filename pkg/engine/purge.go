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
	"github.com/relaypoint/filebroker/pkg/authz"
	"github.com/relaypoint/filebroker/pkg/database"
	"github.com/relaypoint/filebroker/pkg/events"
	"github.com/relaypoint/filebroker/pkg/models"
	"gorm.io/gorm"
)

// PurgeReason records what triggered an expiry/purge run.
type PurgeReason string

const (
	ReasonExpired      PurgeReason = "expired"
	ReasonAllConfirmed PurgeReason = "all-confirmed"
)

// ExpireOrPurge deletes the stored bytes and finalizes the transfer's
// status. It is safe to run repeatedly: an already-Purged transfer skips the
// status append but still issues the storage delete, and deleting absent
// bytes succeeds by contract. A run that is neither forced nor past the
// expiration reschedules itself against the resource's current TTL.
//
// A transfer, resource or service owner missing here is a fault, not a
// business error: all three must exist for anything that passed Initialize.
func (e *Engine) ExpireOrPurge(ctx context.Context, transferID string, force bool, reason PurgeReason) error {
	transfer, err := e.Transfers.Get(ctx, transferID)
	if err != nil {
		return errors.WrapWithDetails(err, "purge: transfer lookup failed", "transfer", transferID)
	}

	resource, err := e.Resources.GetResource(ctx, transfer.ResourceID)
	if err != nil {
		return errors.WrapWithDetails(err, "purge: resource lookup failed", "resource", transfer.ResourceID)
	}

	owner, err := e.Resources.GetServiceOwner(ctx, resource.OrgID)
	if err != nil {
		return errors.WrapWithDetails(err, "purge: service owner lookup failed", "org", resource.OrgID)
	}

	current, err := e.Statuses.Current(ctx, nil, transferID)
	if err != nil {
		return errors.Wrap(err, "purge: status lookup failed")
	}

	provider, err := e.Providers.Get(transfer.StorageProvider)
	if err != nil {
		return err
	}

	if err := provider.Delete(ctx, transfer.StorageKey); err != nil {
		return errors.Wrap(err, "purge: storage delete failed")
	}

	if force || time.Now().After(transfer.ExpiresAt) {
		if current.Status == models.StatusPurged {
			return nil
		}

		return database.WithRetries(ctx, e.Log, e.DB, func(tx *gorm.DB) error {
			err := e.Statuses.Append(ctx, tx, transferID, models.StatusPurged, string(reason), time.Time{})
			if err != nil {
				if database.IsDuplicate(err) {
					return nil
				}
				return err
			}

			e.Events.Publish(ctx, events.TransferPurged, transfer.ResourceID, transferID, transfer.Sender)

			confirmed, err := e.Statuses.CurrentActors(ctx, tx, transferID)
			if err != nil {
				return err
			}

			unconfirmed := false
			for _, r := range transfer.Recipients {
				if confirmed[r.Actor].Rank() < models.ActorDownloadConfirmed.Rank() {
					e.Events.Publish(ctx, events.NeverConfirmedDownloaded, transfer.ResourceID, transferID, r.Actor)
					unconfirmed = true
				}
			}
			if unconfirmed {
				e.Events.Publish(ctx, events.NeverConfirmedDownloaded, transfer.ResourceID, transferID, transfer.Sender)
			}
			return nil
		})
	}

	// not forced and not yet expired: the TTL changed after scheduling.
	// Recompute the expiry from creation time and replace the job.
	ttl := resource.TTL
	if ttl == 0 {
		ttl = owner.DefaultTTL
	}
	newExpiry := transfer.CreatedAt.Add(ttl)

	e.Log.Info("rescheduling expiry", "transfer", transferID, "expiresAt", newExpiry)

	return database.WithRetries(ctx, e.Log, e.DB, func(tx *gorm.DB) error {
		if err := e.Jobs.Cancel(ctx, tx, transfer.JobID); err != nil {
			return err
		}

		jobID, err := e.Jobs.ScheduleAt(ctx, tx, JobKindExpire, expireJob{
			TransferID: transferID,
			Reason:     ReasonExpired,
		}, newExpiry)
		if err != nil {
			return err
		}

		if err := e.Transfers.SetJobID(ctx, tx, transferID, jobID); err != nil {
			return err
		}
		return e.Transfers.SetExpiresAt(ctx, tx, transferID, newExpiry)
	})
}

// Cancel terminates a transfer administratively: bytes deleted, Cancelled
// appended, pending job invalidated. Cancelling a transfer that is already
// terminal is a no-op.
func (e *Engine) Cancel(ctx context.Context, transferID, caller, detail string) error {
	transfer, err := e.getTransfer(ctx, transferID)
	if err != nil {
		return err
	}

	ok, err := e.Access.CheckAccess(ctx, transfer.ResourceID, caller, authz.LevelAdmin)
	if err != nil {
		return errors.Wrap(err, "access check failed")
	}
	if !ok {
		return ErrNoAccess
	}

	current, err := e.Statuses.Current(ctx, nil, transferID)
	if err != nil {
		return errors.Wrap(err, "could not read current status")
	}
	if current.Status.Terminal() {
		return nil
	}

	provider, err := e.Providers.Get(transfer.StorageProvider)
	if err != nil {
		return err
	}
	if err := provider.Delete(ctx, transfer.StorageKey); err != nil {
		return errors.Wrap(err, "cancel: storage delete failed")
	}

	return database.WithRetries(ctx, e.Log, e.DB, func(tx *gorm.DB) error {
		err := e.Statuses.Append(ctx, tx, transferID, models.StatusCancelled, detail, time.Time{})
		if err != nil {
			if database.IsDuplicate(err) {
				return nil
			}
			return err
		}

		if err := e.Jobs.Cancel(ctx, tx, transfer.JobID); err != nil {
			return err
		}

		e.Events.Publish(ctx, events.TransferCancelled, transfer.ResourceID, transferID, transfer.Sender)
		return nil
	})
}
