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

// StatusStore appends to and reads the two append-only status logs. The
// current status of a transfer (or of a recipient) is always the most recent
// row; rows are never updated.
type StatusStore interface {
	Append(ctx context.Context, tx *gorm.DB, transferID string, status models.TransferStatus, detail string, at time.Time) error
	// Current returns the latest status row. A transaction handle may be
	// passed so the read is consistent with the caller's unit of work.
	Current(ctx context.Context, tx *gorm.DB, transferID string) (*models.FileTransferStatus, error)
	History(ctx context.Context, transferID string) ([]models.FileTransferStatus, error)
	// ListCurrentOlderThan returns the latest status row of every transfer
	// whose current status equals status and is older than cutoff.
	ListCurrentOlderThan(ctx context.Context, status models.TransferStatus, cutoff time.Time) ([]models.FileTransferStatus, error)

	AppendActor(ctx context.Context, tx *gorm.DB, transferID, actor string, status models.ActorStatusKind) error
	CurrentActor(ctx context.Context, transferID, actor string) (*models.ActorStatus, error)
	// CurrentActors returns each recipient's latest status. A transaction
	// handle may be passed so aggregation sees rows appended in the same
	// unit of work.
	CurrentActors(ctx context.Context, tx *gorm.DB, transferID string) (map[string]models.ActorStatusKind, error)
	ActorHistory(ctx context.Context, transferID string) ([]models.ActorStatus, error)
}

func NewStatusStore(db *gorm.DB, log logr.Logger) StatusStore {
	return &statusStore{db: db, log: log.WithName("status_store")}
}

type statusStore struct {
	db  *gorm.DB
	log logr.Logger
}

func (s *statusStore) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *statusStore) Append(ctx context.Context, tx *gorm.DB, transferID string, status models.TransferStatus, detail string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}

	row := models.FileTransferStatus{
		TransferID: transferID,
		Status:     status,
		Detail:     detail,
		Timestamp:  at,
	}

	if err := s.conn(tx).WithContext(ctx).Create(&row).Error; err != nil {
		if IsDuplicate(err) {
			// a terminal status was already appended by a concurrent writer
			return errors.WithDetails(ErrDuplicate, "transfer", transferID, "status", string(status))
		}
		return errors.Wrap(err, "could not append status")
	}

	s.log.Info("appended status", "transfer", transferID, "status", status, "detail", detail)
	return nil
}

func (s *statusStore) Current(ctx context.Context, tx *gorm.DB, transferID string) (*models.FileTransferStatus, error) {
	row := models.FileTransferStatus{}

	err := s.conn(tx).WithContext(ctx).
		Where("transfer_id = ?", transferID).
		Order("timestamp desc, id desc").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.WithDetails(ErrNotFound, "transfer", transferID)
		}
		return nil, err
	}
	return &row, nil
}

func (s *statusStore) History(ctx context.Context, transferID string) ([]models.FileTransferStatus, error) {
	var rows []models.FileTransferStatus
	err := s.db.WithContext(ctx).
		Where("transfer_id = ?", transferID).
		Order("timestamp asc, id asc").
		Find(&rows).Error
	return rows, err
}

func (s *statusStore) ListCurrentOlderThan(ctx context.Context, status models.TransferStatus, cutoff time.Time) ([]models.FileTransferStatus, error) {
	var rows []models.FileTransferStatus

	err := s.db.WithContext(ctx).Raw(`
		SELECT s.* FROM file_transfer_statuses s
		JOIN (
			SELECT transfer_id, MAX(id) AS max_id
			FROM file_transfer_statuses
			GROUP BY transfer_id
		) latest ON s.id = latest.max_id
		WHERE s.status = ? AND s.timestamp < ?`,
		status, cutoff,
	).Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "could not query current statuses")
	}
	return rows, nil
}

func (s *statusStore) AppendActor(ctx context.Context, tx *gorm.DB, transferID, actor string, status models.ActorStatusKind) error {
	row := models.ActorStatus{
		TransferID: transferID,
		Actor:      actor,
		Status:     status,
		Timestamp:  time.Now(),
	}

	if err := s.conn(tx).WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrap(err, "could not append actor status")
	}

	s.log.Info("appended actor status", "transfer", transferID, "actor", actor, "status", status)
	return nil
}

func (s *statusStore) CurrentActor(ctx context.Context, transferID, actor string) (*models.ActorStatus, error) {
	row := models.ActorStatus{}

	err := s.db.WithContext(ctx).
		Where("transfer_id = ? AND actor = ?", transferID, actor).
		Order("id desc").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.WithDetails(ErrNotFound, "transfer", transferID, "actor", actor)
		}
		return nil, err
	}
	return &row, nil
}

func (s *statusStore) CurrentActors(ctx context.Context, tx *gorm.DB, transferID string) (map[string]models.ActorStatusKind, error) {
	var rows []models.ActorStatus
	err := s.conn(tx).WithContext(ctx).
		Where("transfer_id = ?", transferID).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	// later rows win; rows are ordered by insertion
	current := map[string]models.ActorStatusKind{}
	for _, row := range rows {
		current[row.Actor] = row.Status
	}
	return current, nil
}

func (s *statusStore) ActorHistory(ctx context.Context, transferID string) ([]models.ActorStatus, error) {
	var rows []models.ActorStatus
	err := s.db.WithContext(ctx).
		Where("transfer_id = ?", transferID).
		Order("id asc").
		Find(&rows).Error
	return rows, err
}
