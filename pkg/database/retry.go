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
	retry "github.com/avast/retry-go/v4"
	"github.com/go-logr/logr"
	sqlite3 "github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// ErrTransient marks an infrastructure failure that is safe to retry as a
// whole unit. Collaborators (the job scheduler client in particular) wrap
// their transient failures with it via MarkTransient.
const ErrTransient = errors.Sentinel("transient infrastructure error")

const (
	retryAttempts     = 8
	retryInitialDelay = 5 * time.Millisecond
	retryMaxDelay     = 640 * time.Millisecond
)

// MarkTransient wraps err so that IsTransient recognizes it.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err}
}

type transientError struct{ err error }

func (t transientError) Error() string { return t.err.Error() }

func (t transientError) Unwrap() error { return t.err }

func (t transientError) Is(target error) bool { return target == ErrTransient }

// IsTransient reports whether err belongs to the retryable failure class:
// store contention, aborted transactions, or a collaborator-marked transient
// fault.
func IsTransient(err error) bool {
	if errors.Is(err, ErrTransient) || errors.Is(err, gorm.ErrInvalidTransaction) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// WithRetries runs unit inside a transaction and retries the whole unit, not
// a sub-step, on transient failure: exponential backoff starting at 5ms,
// doubling, capped at 640ms, at most 8 attempts. Non-transient errors and
// exhaustion surface the last error to the caller.
func WithRetries(ctx context.Context, log logr.Logger, db *gorm.DB, unit func(tx *gorm.DB) error) error {
	return retry.Do(
		func() error {
			return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return unit(tx)
			})
		},
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.Delay(retryInitialDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			log.Info("retrying unit of work", "attempt", attempt+1, "error", err.Error())
		}),
	)
}
