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

// Package scheduler is a durable job queue: jobs are explicit kind+payload
// rows, picked up by a dispatcher that maps kind to a registered handler.
// Scheduling is fire-and-forget for the caller; the dispatcher applies zero
// retries of its own because handler bodies already wrap their mutations in
// the database retry policy.
package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"emperror.dev/errors"
	"github.com/go-co-op/gocron"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/relaypoint/filebroker/pkg/database"
	"github.com/relaypoint/filebroker/pkg/models"
	"gorm.io/gorm"
)

// Handler consumes one due job's payload.
type Handler func(ctx context.Context, payload []byte) error

const ErrUnknownKind = errors.Sentinel("no handler registered for job kind")

const defaultPollInterval = time.Second

type Scheduler struct {
	db           *gorm.DB
	log          logr.Logger
	handlers     map[string]Handler
	cron         *gocron.Scheduler
	pollInterval time.Duration
}

func New(db *gorm.DB, log logr.Logger) *Scheduler {
	return &Scheduler{
		db:           db,
		log:          log.WithName("scheduler"),
		handlers:     map[string]Handler{},
		pollInterval: defaultPollInterval,
	}
}

// Register binds a job kind to its handler. Not safe to call after Start.
func (s *Scheduler) Register(kind string, handler Handler) {
	s.handlers[kind] = handler
}

// ScheduleAt persists a job to run at the given time and returns its id.
// When tx is non-nil the job row joins the caller's transaction, so the job
// is scheduled if and only if the unit of work commits.
func (s *Scheduler) ScheduleAt(ctx context.Context, tx *gorm.DB, kind string, payload interface{}, at time.Time) (string, error) {
	bs, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "could not marshal job payload")
	}

	job := models.Job{
		JobID:   uuid.NewString(),
		Kind:    kind,
		Payload: bs,
		RunAt:   at,
		State:   models.JobPending,
	}

	if err := s.conn(tx).WithContext(ctx).Create(&job).Error; err != nil {
		return "", database.MarkTransient(errors.Wrap(err, "could not schedule job"))
	}

	s.log.Info("scheduled job", "job", job.JobID, "kind", kind, "runAt", at)
	return job.JobID, nil
}

// EnqueueNow persists a job due immediately.
func (s *Scheduler) EnqueueNow(ctx context.Context, tx *gorm.DB, kind string, payload interface{}) (string, error) {
	return s.ScheduleAt(ctx, tx, kind, payload, time.Now())
}

// Cancel invalidates a pending job. Cancelling a job that already ran, was
// already cancelled, or never existed is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, tx *gorm.DB, jobID string) error {
	if jobID == "" {
		return nil
	}

	result := s.conn(tx).WithContext(ctx).
		Model(&models.Job{}).
		Where("job_id = ? AND state = ?", jobID, models.JobPending).
		Update("state", models.JobCancelled)
	if result.Error != nil {
		return database.MarkTransient(errors.Wrap(result.Error, "could not cancel job"))
	}

	if result.RowsAffected > 0 {
		s.log.Info("cancelled job", "job", jobID)
	}
	return nil
}

// Start begins polling for due jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron = gocron.NewScheduler(time.UTC)
	s.cron.SetMaxConcurrentJobs(1, gocron.WaitMode)

	_, err := s.cron.Every(s.pollInterval).Do(func() {
		if _, err := s.DispatchDue(ctx); err != nil {
			s.log.Error(err, "dispatch failed")
		}
	})
	if err != nil {
		s.log.Error(err, "error creating dispatch job")
		return
	}

	s.log.Info("starting scheduler", "pollInterval", s.pollInterval)
	s.cron.StartAsync()
}

// Stop halts the dispatcher; persisted jobs survive for the next Start.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// DispatchDue claims and runs every due pending job once. A job whose
// handler errors is marked failed and not re-attempted.
func (s *Scheduler) DispatchDue(ctx context.Context) (int, error) {
	var due []models.Job
	err := s.db.WithContext(ctx).
		Where("state = ? AND run_at <= ?", models.JobPending, time.Now()).
		Order("run_at asc").
		Find(&due).Error
	if err != nil {
		return 0, errors.Wrap(err, "could not query due jobs")
	}

	ran := 0
	for i := range due {
		job := due[i]
		if !s.claim(ctx, job.JobID) {
			continue
		}

		s.run(ctx, &job)
		ran++
	}
	return ran, nil
}

// claim moves a job pending to running; losing the race means another
// dispatcher owns it.
func (s *Scheduler) claim(ctx context.Context, jobID string) bool {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("job_id = ? AND state = ?", jobID, models.JobPending).
		Update("state", models.JobRunning)
	if result.Error != nil {
		s.log.Error(result.Error, "could not claim job", "job", jobID)
		return false
	}
	return result.RowsAffected > 0
}

func (s *Scheduler) run(ctx context.Context, job *models.Job) {
	handler, ok := s.handlers[job.Kind]
	if !ok {
		s.finish(ctx, job, errors.WithDetails(ErrUnknownKind, "kind", job.Kind))
		return
	}

	s.log.Info("running job", "job", job.JobID, "kind", job.Kind)
	s.finish(ctx, job, handler(ctx, job.Payload))
}

func (s *Scheduler) finish(ctx context.Context, job *models.Job, runErr error) {
	values := map[string]interface{}{"state": models.JobDone}
	if runErr != nil {
		s.log.Error(runErr, "job failed", "job", job.JobID, "kind", job.Kind)
		values["state"] = models.JobFailed
		values["error"] = runErr.Error()
	}

	err := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("job_id = ?", job.JobID).
		Updates(values).Error
	if err != nil {
		s.log.Error(err, "could not record job result", "job", job.JobID)
	}
}

func (s *Scheduler) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}
