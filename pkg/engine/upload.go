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
	"io"
	"time"

	"emperror.dev/errors"
	"github.com/relaypoint/filebroker/pkg/database"
	"github.com/relaypoint/filebroker/pkg/events"
	"github.com/relaypoint/filebroker/pkg/models"
	"gorm.io/gorm"
)

// maxScannedUploadSize is the hard ceiling for providers that pass content
// through asynchronous scanning, independent of the resource's own limit.
const maxScannedUploadSize = 256 << 20

// Upload streams the transfer's bytes into storage, verifies the checksum
// and decides the post-upload status: Published for synchronous providers,
// UploadProcessing while a scanning provider holds the content.
func (e *Engine) Upload(ctx context.Context, transferID string, r io.Reader, declaredLength int64, caller string) error {
	transfer, err := e.getTransfer(ctx, transferID)
	if err != nil {
		return err
	}
	if transfer.Sender != caller {
		return ErrNoAccess
	}

	current, err := e.Statuses.Current(ctx, nil, transferID)
	if err != nil {
		return errors.Wrap(err, "could not read current status")
	}
	if current.Status.Rank() > models.StatusUploadStarted.Rank() {
		return ErrAlreadyUploaded
	}

	resource, _, err := e.resolvePolicy(ctx, transfer.ResourceID)
	if err != nil {
		return err
	}

	provider, err := e.Providers.Get(transfer.StorageProvider)
	if err != nil {
		return ErrNotConfigured
	}

	if resource.MaxTransferSize > 0 && declaredLength > resource.MaxTransferSize {
		return invalidRequest("declared size %d exceeds the resource limit %d", declaredLength, resource.MaxTransferSize)
	}
	if provider.ScansContent() && declaredLength > maxScannedUploadSize {
		return invalidRequest("declared size %d exceeds the scanning ceiling %d", declaredLength, maxScannedUploadSize)
	}

	err = database.WithRetries(ctx, e.Log, e.DB, func(tx *gorm.DB) error {
		return e.Statuses.Append(ctx, tx, transferID, models.StatusUploadStarted, "", time.Time{})
	})
	if err != nil {
		return err
	}

	checksum, size, err := provider.Upload(ctx, transfer.StorageKey, r)
	if err != nil {
		e.Log.Error(err, "upload failed", "transfer", transferID)
		werr := database.WithRetries(ctx, e.Log, e.DB, func(tx *gorm.DB) error {
			if err := e.Statuses.Append(ctx, tx, transferID, models.StatusFailed, "Upload failed", time.Time{}); err != nil {
				return err
			}
			e.Events.Publish(ctx, events.UploadFailed, transfer.ResourceID, transferID, transfer.Sender)
			return nil
		})
		if werr != nil {
			return werr
		}
		return ErrUploadFailed
	}

	if transfer.DeclaredChecksum != "" && transfer.DeclaredChecksum != checksum {
		werr := database.WithRetries(ctx, e.Log, e.DB, func(tx *gorm.DB) error {
			if err := e.Statuses.Append(ctx, tx, transferID, models.StatusFailed, "Checksum mismatch", time.Time{}); err != nil {
				return err
			}
			// the bytes are already in storage; clean them up out of band
			_, err := e.Jobs.EnqueueNow(ctx, tx, JobKindDeleteObject, deleteObjectJob{
				Provider: transfer.StorageProvider,
				Key:      transfer.StorageKey,
			})
			return err
		})
		if werr != nil {
			return werr
		}
		return ErrChecksumMismatch
	}

	var wentTerminal bool
	err = database.WithRetries(ctx, e.Log, e.DB, func(tx *gorm.DB) error {
		// an admin cancel or a forced purge may have landed while the bytes
		// were streaming; a terminal transfer must not come back, so the
		// fresh bytes are handed to the cleanup job instead
		latest, err := e.Statuses.Current(ctx, tx, transferID)
		if err != nil {
			return err
		}
		if latest.Status.Terminal() {
			_, err := e.Jobs.EnqueueNow(ctx, tx, JobKindDeleteObject, deleteObjectJob{
				Provider: transfer.StorageProvider,
				Key:      transfer.StorageKey,
			})
			wentTerminal = true
			return err
		}

		// checksum is set at most once; an empty declared checksum adopts
		// the observed one
		if err := e.Transfers.SetChecksum(ctx, tx, transferID, checksum); err != nil {
			return err
		}
		if err := e.Transfers.SetStorageDetails(ctx, tx, transferID, transfer.StorageKey, size); err != nil {
			return err
		}

		if provider.ScansContent() && !e.LocalEnvironment {
			if err := e.Statuses.Append(ctx, tx, transferID, models.StatusUploadProcessing, "", time.Time{}); err != nil {
				return err
			}
			e.Events.Publish(ctx, events.TransferUploadProcessing, transfer.ResourceID, transferID, transfer.Sender)
			return nil
		}

		if err := e.Statuses.Append(ctx, tx, transferID, models.StatusPublished, "", time.Time{}); err != nil {
			return err
		}
		e.publishToAll(ctx, events.TransferPublished, transfer)
		return nil
	})
	if err != nil {
		return err
	}
	if wentTerminal {
		return ErrTransferNotAvailable
	}
	return nil
}

// publishToAll addresses an event to the sender and every recipient.
func (e *Engine) publishToAll(ctx context.Context, eventType events.Type, transfer *models.FileTransfer) {
	e.Events.Publish(ctx, eventType, transfer.ResourceID, transfer.TransferID, transfer.Sender)
	for _, recipient := range transfer.Recipients {
		e.Events.Publish(ctx, eventType, transfer.ResourceID, transfer.TransferID, recipient.Actor)
	}
}
