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

// Package engine implements the file-transfer lifecycle: initialization,
// upload, per-recipient confirmation, expiry and purge. All multi-step
// mutations run under the database retry policy; background follow-ups go
// through the durable job scheduler.
package engine

import (
	"context"
	"encoding/json"
	"time"

	"emperror.dev/errors"
	"github.com/go-logr/logr"
	"github.com/relaypoint/filebroker/pkg/authz"
	"github.com/relaypoint/filebroker/pkg/database"
	"github.com/relaypoint/filebroker/pkg/events"
	"github.com/relaypoint/filebroker/pkg/models"
	"github.com/relaypoint/filebroker/pkg/scheduler"
	"github.com/relaypoint/filebroker/pkg/storage"
	"gorm.io/gorm"
)

// Job kinds consumed by the engine's handlers.
const (
	JobKindExpire       = "transfer.expire"
	JobKindDeleteObject = "storage.delete"
)

const (
	defaultGracePeriod   = 24 * time.Hour
	defaultStuckDuration = 15 * time.Minute
)

// JobScheduler is the slice of the durable scheduler the engine depends on.
type JobScheduler interface {
	ScheduleAt(ctx context.Context, tx *gorm.DB, kind string, payload interface{}, at time.Time) (string, error)
	EnqueueNow(ctx context.Context, tx *gorm.DB, kind string, payload interface{}) (string, error)
	Cancel(ctx context.Context, tx *gorm.DB, jobID string) error
}

// Engine is the transfer lifecycle engine. Construct it by literal with all
// collaborators set.
type Engine struct {
	Log logr.Logger
	DB  *gorm.DB

	Access    authz.AccessChecker
	Transfers database.TransferStore
	Statuses  database.StatusStore
	Resources database.ResourceStore
	Markers   database.MarkerStore
	Providers storage.Registry
	Events    events.Publisher
	Notifier  events.Notifier
	Jobs      JobScheduler

	// LocalEnvironment short-circuits the scanning path so local runs
	// publish immediately.
	LocalEnvironment bool
	// GracePeriod applies when a resource asks for delayed purge but
	// configures no grace period of its own.
	GracePeriod time.Duration
	// StuckThreshold is the age after which an UploadProcessing transfer is
	// reported by the monitor.
	StuckThreshold time.Duration
}

type expireJob struct {
	TransferID string      `json:"transferId"`
	Force      bool        `json:"force"`
	Reason     PurgeReason `json:"reason"`
}

type deleteObjectJob struct {
	Provider string `json:"provider"`
	Key      string `json:"key"`
}

// RegisterJobHandlers binds the engine's job kinds on the dispatcher.
func (e *Engine) RegisterJobHandlers(s *scheduler.Scheduler) {
	s.Register(JobKindExpire, e.handleExpireJob)
	s.Register(JobKindDeleteObject, e.handleDeleteObjectJob)
}

func (e *Engine) handleExpireJob(ctx context.Context, payload []byte) error {
	job := expireJob{}
	if err := json.Unmarshal(payload, &job); err != nil {
		return errors.Wrap(err, "bad expire payload")
	}
	return e.ExpireOrPurge(ctx, job.TransferID, job.Force, job.Reason)
}

func (e *Engine) handleDeleteObjectJob(ctx context.Context, payload []byte) error {
	job := deleteObjectJob{}
	if err := json.Unmarshal(payload, &job); err != nil {
		return errors.Wrap(err, "bad delete payload")
	}

	provider, err := e.Providers.Get(job.Provider)
	if err != nil {
		return err
	}
	return provider.Delete(ctx, job.Key)
}

// getTransfer translates a missing row into the business error callers
// expect.
func (e *Engine) getTransfer(ctx context.Context, transferID string) (*models.FileTransfer, error) {
	transfer, err := e.Transfers.Get(ctx, transferID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return transfer, nil
}

func (e *Engine) gracePeriod(resource *models.Resource) time.Duration {
	if resource.GracePeriod > 0 {
		return resource.GracePeriod
	}
	if e.GracePeriod > 0 {
		return e.GracePeriod
	}
	return defaultGracePeriod
}

func (e *Engine) stuckThreshold() time.Duration {
	if e.StuckThreshold > 0 {
		return e.StuckThreshold
	}
	return defaultStuckDuration
}
