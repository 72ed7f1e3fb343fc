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
	"github.com/google/uuid"
	"github.com/relaypoint/filebroker/pkg/authz"
	"github.com/relaypoint/filebroker/pkg/database"
	"github.com/relaypoint/filebroker/pkg/events"
	"github.com/relaypoint/filebroker/pkg/models"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type InitializeRequest struct {
	ResourceID string
	Sender     string
	Recipients []string
	FileName   string
	// Checksum is the declared checksum; optional. When set, Upload verifies
	// the stored bytes against it.
	Checksum   string
	Properties map[string]string
	Caller     string
}

// Initialize creates a transfer with one Initialized status row per
// recipient, schedules its expiry job and publishes the initialized event.
// Authorization and configuration failures surface before any row is
// written.
func (e *Engine) Initialize(ctx context.Context, req InitializeRequest) (string, error) {
	if req.Sender == "" || len(req.Recipients) == 0 {
		return "", invalidRequest("a transfer needs a sender and at least one recipient")
	}
	if len(req.Properties) > models.MaxTransferProperties {
		return "", invalidRequest("property bag exceeds %d entries", models.MaxTransferProperties)
	}

	ok, err := e.Access.CheckAccess(ctx, req.ResourceID, req.Caller, authz.LevelWrite)
	if err != nil {
		return "", errors.Wrap(err, "access check failed")
	}
	if !ok {
		return "", ErrNoAccess
	}

	resource, owner, err := e.resolvePolicy(ctx, req.ResourceID)
	if err != nil {
		return "", err
	}

	providerName := resource.StorageProvider
	if providerName == "" {
		providerName = owner.StorageProvider
	}
	if _, err := e.Providers.Get(providerName); err != nil {
		return "", ErrNotConfigured
	}

	ttl := resource.TTL
	if ttl == 0 {
		ttl = owner.DefaultTTL
	}
	if ttl == 0 {
		return "", ErrNotConfigured
	}

	now := time.Now()
	transfer := &models.FileTransfer{
		TransferID:       uuid.NewString(),
		ResourceID:       req.ResourceID,
		Sender:           req.Sender,
		FileName:         req.FileName,
		DeclaredChecksum: req.Checksum,
		ExpiresAt:        now.Add(ttl),
		StorageKey:       uuid.NewString(),
		StorageProvider:  providerName,
	}
	for _, recipient := range req.Recipients {
		transfer.Recipients = append(transfer.Recipients, models.TransferRecipient{
			TransferID: transfer.TransferID,
			Actor:      recipient,
		})
	}
	for key, value := range req.Properties {
		transfer.Properties = append(transfer.Properties, models.TransferProperty{
			TransferID: transfer.TransferID,
			Key:        key,
			Value:      value,
		})
	}

	if err := e.Transfers.Create(ctx, nil, transfer); err != nil {
		return "", err
	}

	// recipient fan-out, issued concurrently; a failed insert fails the
	// whole initialization instead of leaving a transfer that the
	// all-confirmed aggregation can never complete
	group, groupCtx := errgroup.WithContext(ctx)
	for _, recipient := range req.Recipients {
		recipient := recipient
		group.Go(func() error {
			err := e.Statuses.AppendActor(groupCtx, nil, transfer.TransferID, recipient, models.ActorInitialized)
			if err != nil {
				e.Log.Error(err, "recipient status insert failed",
					"transfer", transfer.TransferID, "recipient", recipient)
			}
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return "", errors.Wrap(err, "recipient initialization failed")
	}

	err = database.WithRetries(ctx, e.Log, e.DB, func(tx *gorm.DB) error {
		jobID, err := e.Jobs.ScheduleAt(ctx, tx, JobKindExpire, expireJob{
			TransferID: transfer.TransferID,
			Reason:     ReasonExpired,
		}, transfer.ExpiresAt)
		if err != nil {
			return err
		}

		if err := e.Transfers.SetJobID(ctx, tx, transfer.TransferID, jobID); err != nil {
			return err
		}

		if err := e.Statuses.Append(ctx, tx, transfer.TransferID, models.StatusInitialized, "", time.Time{}); err != nil {
			return err
		}

		e.Events.Publish(ctx, events.TransferInitialized, req.ResourceID, transfer.TransferID, req.Sender)
		return nil
	})
	if err != nil {
		return "", err
	}

	e.Log.Info("initialized transfer",
		"transfer", transfer.TransferID, "resource", req.ResourceID,
		"recipients", len(req.Recipients), "expiresAt", transfer.ExpiresAt)
	return transfer.TransferID, nil
}

// resolvePolicy loads the resource and its service owner, mapping a missing
// row to the configuration business error.
func (e *Engine) resolvePolicy(ctx context.Context, resourceID string) (*models.Resource, *models.ServiceOwner, error) {
	resource, err := e.Resources.GetResource(ctx, resourceID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil, ErrNotConfigured
		}
		return nil, nil, err
	}

	owner, err := e.Resources.GetServiceOwner(ctx, resource.OrgID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil, ErrNotConfigured
		}
		return nil, nil, err
	}
	return resource, owner, nil
}
