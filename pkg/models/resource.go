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

// Resource is the policy scope a transfer belongs to. Every transfer is
// created against exactly one resource; the resource decides size limits,
// time to live, purge behavior and the storage provider.
type Resource struct {
	gorm.Model

	ResourceID string `gorm:"uniqueIndex"`
	OrgID      string `gorm:"index"`

	MaxTransferSize int64
	TTL             time.Duration

	PurgeAfterAllConfirmed bool
	GracePeriod            time.Duration

	// StorageProvider selects the provider by name. Empty falls back to the
	// service owner's binding.
	StorageProvider string
}

// ServiceOwner is the organization owning one or more resources.
type ServiceOwner struct {
	gorm.Model

	OrgID string `gorm:"uniqueIndex"`

	StorageProvider string
	DefaultTTL      time.Duration
}

// JobState tracks a durable job through the dispatcher.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobDone      JobState = "done"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Job is a durable scheduled unit of work: an explicit kind plus a JSON
// payload, consumed by the dispatcher's kind-to-handler registry. Jobs carry no
// scheduler-level retries; the handler body wraps its own mutations in the
// retry policy already.
type Job struct {
	gorm.Model

	JobID   string `gorm:"uniqueIndex"`
	Kind    string `gorm:"index"`
	Payload []byte

	RunAt time.Time `gorm:"index"`
	State JobState  `gorm:"index"`
	Error string
}
