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

package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"emperror.dev/errors"
	"github.com/go-logr/logr"
	"github.com/relaypoint/filebroker/pkg/models"
	"gorm.io/gorm"
)

// BlobStore keeps payloads as rows in the relational store. The checksum is
// computed while the stream is consumed, never from a second pass.
type BlobStore struct {
	db  *gorm.DB
	log logr.Logger

	// scans marks the provider as scanning-capable: uploads park in
	// UploadProcessing until the scan verdict arrives.
	scans bool
}

func NewBlobStore(db *gorm.DB, log logr.Logger) *BlobStore {
	return &BlobStore{db: db, log: log.WithName("blob_store")}
}

// NewScannedBlobStore is a blob store whose content is scanned out of band
// after upload.
func NewScannedBlobStore(db *gorm.DB, log logr.Logger) *BlobStore {
	return &BlobStore{db: db, log: log.WithName("scanned_blob_store"), scans: true}
}

func (s *BlobStore) ScansContent() bool {
	return s.scans
}

func (s *BlobStore) Upload(ctx context.Context, key string, r io.Reader) (string, int64, error) {
	var buf bytes.Buffer
	hash := sha256.New()

	size, err := io.Copy(io.MultiWriter(&buf, hash), r)
	if err != nil {
		return "", 0, errors.Wrap(err, "could not read upload stream")
	}

	checksum := hex.EncodeToString(hash.Sum(nil))

	blob := models.Blob{
		Key:      key,
		Checksum: checksum,
		Size:     size,
		Content:  buf.Bytes(),
	}
	if err := s.db.WithContext(ctx).Create(&blob).Error; err != nil {
		return "", 0, errors.Wrap(err, "could not store blob")
	}

	s.log.Info("stored blob", "key", key, "size", size, "checksum", checksum)
	return checksum, size, nil
}

func (s *BlobStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	blob := models.Blob{}
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&blob).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.WithDetails(ErrNotFound, "key", key)
		}
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(blob.Content)), nil
}

// Delete removes the stored bytes. An absent object is success, not an
// error.
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).
		Unscoped().
		Where("key = ?", key).
		Delete(&models.Blob{}).Error
	if err != nil {
		return errors.Wrap(err, "could not delete blob")
	}

	s.log.Info("deleted blob", "key", key)
	return nil
}
