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

package engine

import (
	"context"

	"emperror.dev/errors"
	"github.com/relaypoint/filebroker/pkg/database"
)

// Once runs body at most once per external event id, across concurrent and
// redelivered invocations. The claim is a uniqueness-constrained marker row:
// a duplicate claim means another execution owns (or completed) this id and
// body is skipped with success. If body fails after the claim, the marker is
// released before the error propagates, so a redelivery of the same id can
// run body again.
func (e *Engine) Once(ctx context.Context, eventID string, body func() error) error {
	if err := e.Markers.Claim(ctx, eventID); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			e.Log.Info("duplicate event delivery suppressed", "event", eventID)
			return nil
		}
		return err
	}

	if err := body(); err != nil {
		if releaseErr := e.Markers.Release(ctx, eventID); releaseErr != nil {
			e.Log.Error(releaseErr, "could not release event marker", "event", eventID)
		}
		return err
	}
	return nil
}
