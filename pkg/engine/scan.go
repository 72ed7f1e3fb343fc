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

// HandleScanResult consumes a content-scan verdict delivered by webhook.
// Webhook redelivery is expected, so the whole handler runs under the
// idempotent intake keyed by the caller-supplied event id. A clean verdict
// publishes the transfer; an infected one fails it and removes the bytes.
func (e *Engine) HandleScanResult(ctx context.Context, eventID, transferID string, clean bool, detail string) error {
	return e.Once(ctx, eventID, func() error {
		transfer, err := e.getTransfer(ctx, transferID)
		if err != nil {
			return err
		}

		current, err := e.Statuses.Current(ctx, nil, transferID)
		if err != nil {
			return errors.Wrap(err, "could not read current status")
		}
		if current.Status != models.StatusUploadProcessing {
			// verdict for a transfer that moved on (purged, cancelled); the
			// scan result no longer applies
			e.Log.Info("ignoring scan result", "transfer", transferID, "status", current.Status)
			return nil
		}

		if clean {
			return database.WithRetries(ctx, e.Log, e.DB, func(tx *gorm.DB) error {
				if err := e.Statuses.Append(ctx, tx, transferID, models.StatusPublished, "", time.Time{}); err != nil {
					return err
				}
				e.publishToAll(ctx, events.TransferPublished, transfer)
				return nil
			})
		}

		if detail == "" {
			detail = "Content scan failed"
		}
		return database.WithRetries(ctx, e.Log, e.DB, func(tx *gorm.DB) error {
			if err := e.Statuses.Append(ctx, tx, transferID, models.StatusFailed, detail, time.Time{}); err != nil {
				return err
			}
			// the delete job commits together with the Failed status, so the
			// bytes cannot outlive the verdict even if this process dies
			// right after the transaction
			_, err := e.Jobs.EnqueueNow(ctx, tx, JobKindDeleteObject, deleteObjectJob{
				Provider: transfer.StorageProvider,
				Key:      transfer.StorageKey,
			})
			if err != nil {
				return err
			}
			e.Events.Publish(ctx, events.UploadFailed, transfer.ResourceID, transferID, transfer.Sender)
			return nil
		})
	})
}
