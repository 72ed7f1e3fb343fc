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

	"emperror.dev/errors"
	"github.com/relaypoint/filebroker/pkg/models"
	"gorm.io/gorm"
)

// MarkerStore claims and releases idempotency markers for externally
// delivered event ids. Claim relies entirely on the unique index over the
// event id: a duplicate claim fails with ErrDuplicate, every other error
// propagates unchanged.
type MarkerStore interface {
	Claim(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

func NewMarkerStore(db *gorm.DB) MarkerStore {
	return &markerStore{db: db}
}

type markerStore struct {
	db *gorm.DB
}

func (s *markerStore) Claim(ctx context.Context, eventID string) error {
	marker := models.EventMarker{EventID: eventID}
	if err := s.db.WithContext(ctx).Create(&marker).Error; err != nil {
		if IsDuplicate(err) {
			return errors.WithDetails(ErrDuplicate, "event", eventID)
		}
		return errors.Wrap(err, "could not claim event marker")
	}
	return nil
}

func (s *markerStore) Release(ctx context.Context, eventID string) error {
	err := s.db.WithContext(ctx).
		Unscoped().
		Where("event_id = ?", eventID).
		Delete(&models.EventMarker{}).Error
	if err != nil {
		return errors.Wrap(err, "could not release event marker")
	}
	return nil
}
