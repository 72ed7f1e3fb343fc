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

package models

import (
	"time"

	"gorm.io/gorm"
)

// MaxTransferProperties caps the property bag carried by a transfer.
const MaxTransferProperties = 10

// FileTransfer is the metadata row for one file handed from a sender to one
// or more recipients. It is created once by Initialize and afterwards only
// mutated through the transfer store setters; the lifecycle state itself
// lives in the append-only status log, never on this row.
type FileTransfer struct {
	gorm.Model

	TransferID string `gorm:"uniqueIndex"`
	ResourceID string `gorm:"index"`
	Sender     string

	FileName         string
	DeclaredChecksum string
	Checksum         string
	Size             int64

	ExpiresAt time.Time

	// StorageKey and StorageProvider locate the stored bytes. The bytes are
	// removed independently of this row; a Purged transfer keeps its
	// metadata.
	StorageKey      string
	StorageProvider string

	// JobID references the currently scheduled expiry/purge job. Rescheduling
	// must cancel the previous job before persisting a new reference.
	JobID string

	Recipients []TransferRecipient `gorm:"foreignKey:TransferID;references:TransferID"`
	Properties []TransferProperty  `gorm:"foreignKey:TransferID;references:TransferID"`
}

// TransferRecipient fixes one recipient of a transfer at Initialize time.
type TransferRecipient struct {
	gorm.Model

	TransferID string `gorm:"uniqueIndex:idx_transfer_recipient"`
	Actor      string `gorm:"uniqueIndex:idx_transfer_recipient"`
}

// TransferProperty is one entry of the caller-supplied property bag.
type TransferProperty struct {
	gorm.Model

	TransferID string `gorm:"uniqueIndex:idx_transfer_property"`
	Key        string `gorm:"uniqueIndex:idx_transfer_property"`
	Value      string
}

// RecipientNames returns the recipient actors as a plain slice.
func (t *FileTransfer) RecipientNames() []string {
	out := make([]string, 0, len(t.Recipients))
	for _, r := range t.Recipients {
		out = append(out, r.Actor)
	}
	return out
}

// IsRecipient reports whether actor is among the transfer's recipients.
func (t *FileTransfer) IsRecipient(actor string) bool {
	for _, r := range t.Recipients {
		if r.Actor == actor {
			return true
		}
	}
	return false
}
