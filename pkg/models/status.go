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

// TransferStatus is one state of the transfer lifecycle.
//
// Initialized moves to UploadStarted, then to one of UploadProcessing,
// Published or Failed; UploadProcessing resolves to Published or Failed;
// Published can reach AllConfirmedDownloaded; any non-terminal state can be
// Purged. Cancelled is a terminal alternative reachable only
// administratively. UploadProcessing exists only for storage providers that
// scan content asynchronously.
type TransferStatus string

const (
	StatusInitialized            TransferStatus = "Initialized"
	StatusUploadStarted          TransferStatus = "UploadStarted"
	StatusUploadProcessing       TransferStatus = "UploadProcessing"
	StatusPublished              TransferStatus = "Published"
	StatusAllConfirmedDownloaded TransferStatus = "AllConfirmedDownloaded"
	StatusFailed                 TransferStatus = "Failed"
	StatusPurged                 TransferStatus = "Purged"
	StatusCancelled              TransferStatus = "Cancelled"
)

var statusRank = map[TransferStatus]int{
	StatusInitialized:            0,
	StatusUploadStarted:          1,
	StatusUploadProcessing:       2,
	StatusPublished:              3,
	StatusAllConfirmedDownloaded: 4,
	StatusFailed:                 5,
	StatusPurged:                 6,
	StatusCancelled:              7,
}

// Rank orders statuses along the state machine. Handlers only ever move a
// transfer forward, so "at or before UploadStarted" style checks compare
// ranks.
func (s TransferStatus) Rank() int {
	return statusRank[s]
}

// Terminal reports whether no further lifecycle transition is possible.
func (s TransferStatus) Terminal() bool {
	return s == StatusPurged || s == StatusCancelled
}

// FileTransferStatus is one row of the append-only transfer status log. The
// current status of a transfer is the most recent row; history is never
// rewritten.
type FileTransferStatus struct {
	ID uint `gorm:"primarykey"`

	TransferID string         `gorm:"index"`
	Status     TransferStatus `gorm:"index"`
	Detail     string
	Timestamp  time.Time `gorm:"index"`
}

// ActorStatusKind is a per-recipient state. The ordering
// Initialized < DownloadStarted < DownloadConfirmed is load-bearing: the
// all-confirmed aggregation compares ">= DownloadConfirmed".
type ActorStatusKind string

const (
	ActorInitialized       ActorStatusKind = "Initialized"
	ActorDownloadStarted   ActorStatusKind = "DownloadStarted"
	ActorDownloadConfirmed ActorStatusKind = "DownloadConfirmed"
)

var actorRank = map[ActorStatusKind]int{
	ActorInitialized:       0,
	ActorDownloadStarted:   1,
	ActorDownloadConfirmed: 2,
}

// Rank orders per-recipient statuses.
func (s ActorStatusKind) Rank() int {
	return actorRank[s]
}

// ActorStatus is one row of the append-only per-recipient status log.
type ActorStatus struct {
	ID uint `gorm:"primarykey"`

	TransferID string `gorm:"index:idx_actor_status"`
	Actor      string `gorm:"index:idx_actor_status"`
	Status     ActorStatusKind
	Timestamp  time.Time
}

// EventMarker claims processing of one external event id. The unique index
// is the whole mechanism: a second claim of the same id fails with a
// uniqueness violation.
type EventMarker struct {
	gorm.Model

	EventID string `gorm:"uniqueIndex"`
}
