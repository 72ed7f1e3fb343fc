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
	"context"
	"io"

	"emperror.dev/errors"
)

const (
	ErrNotFound        = errors.Sentinel("stored object not found")
	ErrUnknownProvider = errors.Sentinel("unknown storage provider")
)

// Provider stores and retrieves transfer payloads. Delete is idempotent by
// contract: deleting an absent object succeeds.
type Provider interface {
	// Upload streams r into the object addressed by key and returns the
	// checksum observed while writing, together with the byte count.
	Upload(ctx context.Context, key string, r io.Reader) (checksum string, size int64, err error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// ScansContent reports whether uploads pass through asynchronous content
	// scanning before publication.
	ScansContent() bool
}

// Registry resolves providers by name.
type Registry map[string]Provider

func (r Registry) Get(name string) (Provider, error) {
	provider, ok := r[name]
	if !ok {
		return nil, errors.WithDetails(ErrUnknownProvider, "provider", name)
	}
	return provider, nil
}
