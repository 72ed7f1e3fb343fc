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

	"emperror.dev/errors"
	"github.com/relaypoint/filebroker/pkg/database"
	"github.com/relaypoint/filebroker/pkg/models"
	"github.com/relaypoint/filebroker/pkg/storage"
	"gorm.io/gorm"
)

// Download streams the published content to a recipient (or the sender) and
// records the recipient's DownloadStarted status on their first attempt.
func (e *Engine) Download(ctx context.Context, transferID, caller string) (io.ReadCloser, error) {
	transfer, err := e.getTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}

	isRecipient := transfer.IsRecipient(caller)
	if !isRecipient && transfer.Sender != caller {
		return nil, ErrNoAccess
	}

	current, err := e.Statuses.Current(ctx, nil, transferID)
	if err != nil {
		return nil, errors.Wrap(err, "could not read current status")
	}

	switch current.Status {
	case models.StatusPublished, models.StatusAllConfirmedDownloaded:
		// downloadable
	case models.StatusInitialized, models.StatusUploadStarted:
		return nil, ErrNotYetUploaded
	case models.StatusUploadProcessing:
		return nil, ErrNotPublished
	default:
		return nil, ErrTransferNotAvailable
	}

	provider, err := e.Providers.Get(transfer.StorageProvider)
	if err != nil {
		return nil, ErrNotConfigured
	}

	rc, err := provider.Download(ctx, transfer.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTransferNotAvailable
		}
		return nil, err
	}

	// first download attempt moves the recipient forward; never backward
	if isRecipient {
		actorCurrent, err := e.Statuses.CurrentActor(ctx, transferID, caller)
		if err == nil && actorCurrent.Status.Rank() < models.ActorDownloadStarted.Rank() {
			err := database.WithRetries(ctx, e.Log, e.DB, func(tx *gorm.DB) error {
				return e.Statuses.AppendActor(ctx, tx, transferID, caller, models.ActorDownloadStarted)
			})
			if err != nil {
				e.Log.Error(err, "could not record download start", "transfer", transferID, "actor", caller)
			}
		}
	}

	return rc, nil
}
