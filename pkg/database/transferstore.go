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

package database

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/go-logr/logr"
	"github.com/relaypoint/filebroker/pkg/models"
	"gorm.io/gorm"
)

// TransferStore is the repository for FileTransfer rows. Mutating methods
// accept an optional transaction handle; nil means the pooled connection.
type TransferStore interface {
	Create(ctx context.Context, tx *gorm.DB, transfer *models.FileTransfer) error
	Get(ctx context.Context, transferID string) (*models.FileTransfer, error)
	// SetChecksum records the observed checksum. The checksum is set at most
	// once; a second call against a non-empty column is a no-op.
	SetChecksum(ctx context.Context, tx *gorm.DB, transferID, checksum string) error
	SetStorageDetails(ctx context.Context, tx *gorm.DB, transferID, storageKey string, size int64) error
	SetJobID(ctx context.Context, tx *gorm.DB, transferID, jobID string) error
	SetExpiresAt(ctx context.Context, tx *gorm.DB, transferID string, at time.Time) error
	ListNonPurgedByProvider(ctx context.Context, provider string, opts ...ListOption) ([]models.FileTransfer, error)
}

func NewTransferStore(db *gorm.DB, log logr.Logger) TransferStore {
	return &transferStore{db: db, log: log.WithName("transfer_store")}
}

type transferStore struct {
	db  *gorm.DB
	log logr.Logger
}

func (s *transferStore) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *transferStore) Create(ctx context.Context, tx *gorm.DB, transfer *models.FileTransfer) error {
	db := s.conn(tx).WithContext(ctx).Session(&gorm.Session{FullSaveAssociations: true})

	if err := db.Create(transfer).Error; err != nil {
		if IsDuplicate(err) {
			return errors.WithDetails(ErrDuplicate, "transfer", transfer.TransferID)
		}
		return errors.Wrap(err, "could not create transfer")
	}

	s.log.Info("created transfer", "transfer", transfer.TransferID, "resource", transfer.ResourceID)
	return nil
}

func (s *transferStore) Get(ctx context.Context, transferID string) (*models.FileTransfer, error) {
	transfer := models.FileTransfer{}

	err := s.db.WithContext(ctx).
		Preload("Recipients").
		Preload("Properties").
		Where(&models.FileTransfer{TransferID: transferID}).
		First(&transfer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.WithDetails(ErrNotFound, "transfer", transferID)
		}
		return nil, err
	}
	return &transfer, nil
}

func (s *transferStore) SetChecksum(ctx context.Context, tx *gorm.DB, transferID, checksum string) error {
	result := s.conn(tx).WithContext(ctx).
		Model(&models.FileTransfer{}).
		Where("transfer_id = ? AND checksum = ''", transferID).
		Update("checksum", checksum)
	if result.Error != nil {
		return errors.Wrap(result.Error, "could not set checksum")
	}
	return nil
}

func (s *transferStore) SetStorageDetails(ctx context.Context, tx *gorm.DB, transferID, storageKey string, size int64) error {
	return s.update(ctx, tx, transferID, map[string]interface{}{
		"storage_key": storageKey,
		"size":        size,
	})
}

func (s *transferStore) SetJobID(ctx context.Context, tx *gorm.DB, transferID, jobID string) error {
	return s.update(ctx, tx, transferID, map[string]interface{}{"job_id": jobID})
}

func (s *transferStore) SetExpiresAt(ctx context.Context, tx *gorm.DB, transferID string, at time.Time) error {
	return s.update(ctx, tx, transferID, map[string]interface{}{"expires_at": at})
}

func (s *transferStore) update(ctx context.Context, tx *gorm.DB, transferID string, values map[string]interface{}) error {
	result := s.conn(tx).WithContext(ctx).
		Model(&models.FileTransfer{}).
		Where("transfer_id = ?", transferID).
		Updates(values)
	if result.Error != nil {
		return errors.Wrap(result.Error, "could not update transfer")
	}
	if result.RowsAffected == 0 {
		return errors.WithDetails(ErrNotFound, "transfer", transferID)
	}
	return nil
}

func (s *transferStore) ListNonPurgedByProvider(ctx context.Context, provider string, opts ...ListOption) ([]models.FileTransfer, error) {
	listOpts := (&ListOptions{}).ApplyOptions(opts)

	var transfers []models.FileTransfer
	err := s.db.WithContext(ctx).
		Scopes(listOpts.scopes()...).
		Preload("Recipients").
		Where("storage_provider = ?", provider).
		Where(`transfer_id NOT IN (
			SELECT transfer_id FROM file_transfer_statuses WHERE status IN ('Purged', 'Cancelled'))`).
		Order("created_at desc").
		Find(&transfers).Error
	if err != nil {
		return nil, errors.Wrap(err, "could not list transfers")
	}
	return transfers, nil
}
