package database

import (
	"context"

	"emperror.dev/errors"
	"github.com/relaypoint/filebroker/pkg/models"
	"gorm.io/gorm"
)

// ResourceStore resolves a transfer's policy scope and its owning
// organization.
type ResourceStore interface {
	GetResource(ctx context.Context, resourceID string) (*models.Resource, error)
	GetServiceOwner(ctx context.Context, orgID string) (*models.ServiceOwner, error)
}

func NewResourceStore(db *gorm.DB) ResourceStore {
	return &resourceStore{db: db}
}

type resourceStore struct {
	db *gorm.DB
}

func (s *resourceStore) GetResource(ctx context.Context, resourceID string) (*models.Resource, error) {
	resource := models.Resource{}
	err := s.db.WithContext(ctx).
		Where(&models.Resource{ResourceID: resourceID}).
		First(&resource).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.WithDetails(ErrNotFound, "resource", resourceID)
		}
		return nil, err
	}
	return &resource, nil
}

func (s *resourceStore) GetServiceOwner(ctx context.Context, orgID string) (*models.ServiceOwner, error) {
	owner := models.ServiceOwner{}
	err := s.db.WithContext(ctx).
		Where(&models.ServiceOwner{OrgID: orgID}).
		First(&owner).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.WithDetails(ErrNotFound, "org", orgID)
		}
		return nil, err
	}
	return &owner, nil
}
